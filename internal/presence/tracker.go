package presence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adi-253/talkie-chat/internal/config"
	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/adi-253/talkie-chat/internal/models"
)

type tracked struct {
	signal     models.PresenceSignal
	receivedAt time.Time
	timer      *time.Timer
}

// Tracker holds the presence signals of other participants in one scope,
// keyed by author. A signal expires after its TTL unless renewed or stopped.
type Tracker struct {
	selfID  string
	ttl     map[models.SignalKind]time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	signals map[string]*tracked
	order   []string
	changes chan struct{}
}

// NewTracker creates a tracker that ignores signals from selfID.
func NewTracker(selfID string, cfg config.PresenceConfig, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		selfID: selfID,
		ttl: map[models.SignalKind]time.Duration{
			models.SignalTyping:    cfg.TypingTTL,
			models.SignalRecording: cfg.RecordingTTL,
		},
		metrics: m,
		logger:  logger,
		now:     time.Now,
		signals: make(map[string]*tracked),
		changes: make(chan struct{}, 1),
	}
}

// Changes signals whenever the set of active authors changes.
func (t *Tracker) Changes() <-chan struct{} { return t.changes }

// HandleBroadcast decodes a broadcast payload and applies it.
// Events that are not presence events are ignored.
func (t *Tracker) HandleBroadcast(event string, payload json.RawMessage) error {
	switch event {
	case models.EventTyping, models.EventTypingStop, models.EventRecording, models.EventRecordingStop:
	default:
		return nil
	}
	var sig models.PresenceSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("decode %s signal: %w", event, err)
	}
	t.Receive(event, sig)
	return nil
}

// Receive applies one presence event.
func (t *Tracker) Receive(event string, sig models.PresenceSignal) {
	if sig.AuthorID == "" || sig.AuthorID == t.selfID {
		return
	}
	switch event {
	case models.EventTyping:
		sig.Kind = models.SignalTyping
		t.set(sig)
	case models.EventRecording:
		sig.Kind = models.SignalRecording
		t.set(sig)
	case models.EventTypingStop:
		t.clear(sig.AuthorID, models.SignalTyping)
	case models.EventRecordingStop:
		t.clear(sig.AuthorID, models.SignalRecording)
	}
}

// Active returns the signals still live at the given time, in insertion order.
func (t *Tracker) Active(at time.Time) []models.PresenceSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.PresenceSignal, 0, len(t.order))
	for _, id := range t.order {
		tr := t.signals[id]
		if at.Sub(tr.receivedAt) < t.ttl[tr.signal.Kind] {
			out = append(out, tr.signal)
		}
	}
	return out
}

// Current is the one signal shown in the UI: the first active author.
func (t *Tracker) Current() (models.PresenceSignal, bool) {
	active := t.Active(t.now())
	if len(active) == 0 {
		return models.PresenceSignal{}, false
	}
	return active[0], true
}

// Close stops all expiry timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tr := range t.signals {
		tr.timer.Stop()
		delete(t.signals, id)
	}
	t.order = nil
}

func (t *Tracker) set(sig models.PresenceSignal) {
	t.metrics.SignalReceived(string(sig.Kind))
	receivedAt := t.now()
	ttl := t.ttl[sig.Kind]

	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, ok := t.signals[sig.AuthorID]; ok {
		tr.timer.Stop()
		tr.signal = sig
		tr.receivedAt = receivedAt
	} else {
		t.signals[sig.AuthorID] = &tracked{signal: sig, receivedAt: receivedAt}
		t.order = append(t.order, sig.AuthorID)
	}
	author := sig.AuthorID
	t.signals[author].timer = time.AfterFunc(ttl, func() { t.expire(author, receivedAt) })
	t.notify()
}

func (t *Tracker) clear(author string, kind models.SignalKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.signals[author]
	if !ok || tr.signal.Kind != kind {
		return
	}
	t.remove(author)
}

// expire drops the author's signal unless it was renewed after receivedAt.
func (t *Tracker) expire(author string, receivedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.signals[author]
	if !ok || !tr.receivedAt.Equal(receivedAt) {
		return
	}
	t.metrics.SignalExpired(string(tr.signal.Kind))
	t.logger.Debug("presence expired", "author", author, "kind", tr.signal.Kind)
	t.remove(author)
}

// remove is called with t.mu held.
func (t *Tracker) remove(author string) {
	t.signals[author].timer.Stop()
	delete(t.signals, author)
	for i, id := range t.order {
		if id == author {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.notify()
}

func (t *Tracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}
