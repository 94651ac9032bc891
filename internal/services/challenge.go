package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adhocore/gronx"
)

// rotationGrace gives the backend time to publish a new challenge after its cron tick.
const rotationGrace = 5 * time.Second

// ChallengeSource looks up the active challenge of a group.
type ChallengeSource interface {
	ActiveChallenge(ctx context.Context, groupID string, at time.Time) (*models.Challenge, error)
}

// ChallengeWatcher follows the active challenge of a group and reports rotations.
// With a rotation cron it wakes right after each tick, otherwise it polls.
type ChallengeWatcher struct {
	db       ChallengeSource
	scope    models.Scope
	interval time.Duration
	onRotate func(*models.Challenge)
	logger   *slog.Logger
	now      func() time.Time
	stopChan chan struct{}

	currentID string
}

// NewChallengeWatcher creates a watcher for a group scope.
// - interval: poll period when the group has no rotation cron
// - onRotate: called with the new challenge (nil when it ended)
func NewChallengeWatcher(db ChallengeSource, scope models.Scope, interval time.Duration, onRotate func(*models.Challenge), logger *slog.Logger) *ChallengeWatcher {
	w := &ChallengeWatcher{
		db:       db,
		scope:    scope,
		interval: interval,
		onRotate: onRotate,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if scope.Challenge != nil {
		w.currentID = scope.Challenge.ID
	}
	return w
}

// Start runs the watcher until Stop. Call it with 'go'.
func (w *ChallengeWatcher) Start() {
	w.logger.Info("challenge watcher started", "group", w.scope.ID, "cron", w.scope.RotationCron, "interval", w.interval)

	for {
		timer := time.NewTimer(w.nextCheck().Sub(w.now()))
		select {
		case <-timer.C:
			w.check()
		case <-w.stopChan:
			timer.Stop()
			w.logger.Info("challenge watcher stopped", "group", w.scope.ID)
			return
		}
	}
}

// Stop gracefully shuts down the watcher.
func (w *ChallengeWatcher) Stop() {
	close(w.stopChan)
}

// nextCheck is the next cron tick plus grace, or now+interval without a valid cron.
func (w *ChallengeWatcher) nextCheck() time.Time {
	now := w.now()
	if w.scope.RotationCron != "" && gronx.New().IsValid(w.scope.RotationCron) {
		next, err := gronx.NextTickAfter(w.scope.RotationCron, now, false)
		if err == nil {
			return next.Add(rotationGrace)
		}
		w.logger.Warn("bad rotation cron", "cron", w.scope.RotationCron, "error", err)
	}
	return now.Add(w.interval)
}

// check fetches the active challenge and reports a change.
func (w *ChallengeWatcher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := w.db.ActiveChallenge(ctx, w.scope.ID, w.now())
	if err != nil {
		w.logger.Warn("challenge check failed", "group", w.scope.ID, "error", err)
		return
	}

	id := ""
	if ch != nil {
		id = ch.ID
	}
	if id == w.currentID {
		return
	}
	w.logger.Info("challenge rotated", "group", w.scope.ID, "from", w.currentID, "to", id)
	w.currentID = id
	if w.onRotate != nil {
		w.onRotate(ch)
	}
}
