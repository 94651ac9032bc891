package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"golang.org/x/time/rate"
)

// Publisher sends a broadcast on the scope channel.
type Publisher interface {
	Broadcast(ctx context.Context, event string, payload interface{}) error
}

// Emitter announces the local user's typing and recording activity.
// Each stream is limited to one broadcast per debounce window.
type Emitter struct {
	pub      Publisher
	self     models.PresenceSignal
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	limiters map[models.SignalKind]*rate.Limiter
}

// NewEmitter creates an emitter for the given author.
func NewEmitter(pub Publisher, self models.Profile, debounce time.Duration, logger *slog.Logger) *Emitter {
	return &Emitter{
		pub: pub,
		self: models.PresenceSignal{
			AuthorID:    self.ID,
			DisplayName: self.Name(),
			AvatarURL:   self.AvatarURL,
		},
		debounce: debounce,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[models.SignalKind]*rate.Limiter),
	}
}

// Typing signals a keystroke. It reports whether a broadcast went out.
func (e *Emitter) Typing(ctx context.Context) bool {
	return e.start(ctx, models.SignalTyping, models.EventTyping)
}

// Recording signals an active recording.
func (e *Emitter) Recording(ctx context.Context) bool {
	return e.start(ctx, models.SignalRecording, models.EventRecording)
}

// TypingStop clears the typing signal on the receivers.
func (e *Emitter) TypingStop(ctx context.Context) {
	e.stop(ctx, models.SignalTyping, models.EventTypingStop)
}

// RecordingStop clears the recording signal on the receivers.
func (e *Emitter) RecordingStop(ctx context.Context) {
	e.stop(ctx, models.SignalRecording, models.EventRecordingStop)
}

func (e *Emitter) start(ctx context.Context, kind models.SignalKind, event string) bool {
	now := e.now()
	if !e.limiter(kind).AllowN(now, 1) {
		return false
	}
	sig := e.self
	sig.Kind = kind
	sig.EmittedAt = now
	e.publish(ctx, event, sig)
	return true
}

// stop always goes out, and the next start of the stream is not held back.
func (e *Emitter) stop(ctx context.Context, kind models.SignalKind, event string) {
	e.mu.Lock()
	delete(e.limiters, kind)
	e.mu.Unlock()

	sig := e.self
	sig.Kind = kind
	sig.EmittedAt = e.now()
	e.publish(ctx, event, sig)
}

func (e *Emitter) publish(ctx context.Context, event string, sig models.PresenceSignal) {
	if err := e.pub.Broadcast(ctx, event, sig); err != nil {
		e.logger.Debug("presence broadcast failed", "event", event, "error", err)
	}
}

func (e *Emitter) limiter(kind models.SignalKind) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[kind]
	if !ok {
		l = rate.NewLimiter(rate.Every(e.debounce), 1)
		e.limiters[kind] = l
	}
	return l
}
