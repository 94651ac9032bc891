package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adi-253/talkie-chat/internal/config"
	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/presence"
	"github.com/adi-253/talkie-chat/internal/realtime"
	"github.com/adi-253/talkie-chat/internal/services"
)

// Options configures a chat Session.
type Options struct {
	Scope models.Scope
	Self  models.Profile

	Remote   services.Remote
	Uploader services.MediaUploader
	Usage    services.UsageRecorder

	// Socket delivers row changes and presence. Without it the session only
	// sees its own sends and broadcasts through Fallback.
	Socket   *realtime.Socket
	Fallback realtime.Broadcaster

	// Challenges enables challenge rotation for group scopes
	Challenges services.ChallengeSource

	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is an open chat screen: one scope's message store, presence
// tracker and emitter, fed by one realtime channel.
type Session struct {
	Store   *services.MessageStore
	Tracker *presence.Tracker
	Emitter *presence.Emitter

	scope    models.Scope
	self     models.Profile
	channel  *realtime.Channel
	watcher  *services.ChallengeWatcher
	logger   *slog.Logger
	pumpDone chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Open subscribes to the scope. Call Store.LoadHistory afterwards so rows
// inserted between the fetch and the subscription are not missed.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scope", opts.Scope.Topic())

	s := &Session{
		scope:    opts.Scope,
		self:     opts.Self,
		logger:   logger,
		pumpDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.Store = services.NewMessageStore(services.StoreOptions{
		Scope:    opts.Scope,
		AuthorID: opts.Self.ID,
		Remote:   opts.Remote,
		Uploader: opts.Uploader,
		Bucket:   cfg.StorageBucket,
		Usage:    opts.Usage,
		Metrics:  opts.Metrics,
		Logger:   logger,
	})
	s.Tracker = presence.NewTracker(opts.Self.ID, cfg.Presence, opts.Metrics, logger)

	var pub presence.Publisher
	if opts.Socket != nil {
		s.channel = opts.Socket.Channel(opts.Scope.Topic(), realtime.ChannelConfig{
			Changes:  Subscriptions(opts.Scope),
			Fallback: opts.Fallback,
		})
		if err := s.channel.Join(ctx); err != nil {
			s.channel.Leave(context.Background())
			s.Tracker.Close()
			s.Store.Close()
			return nil, fmt.Errorf("subscribe %s: %w", opts.Scope.Topic(), err)
		}
		pub = s.channel
		go s.pump()
	} else {
		close(s.pumpDone)
		pub = topicPublisher{b: opts.Fallback, topic: opts.Scope.Topic()}
	}
	s.Emitter = presence.NewEmitter(pub, opts.Self, cfg.Presence.Debounce, logger)

	if opts.Scope.Kind == models.ScopeGroup && opts.Challenges != nil {
		s.watcher = services.NewChallengeWatcher(opts.Challenges, opts.Scope, 5*time.Minute, s.Store.SetChallenge, logger)
		go s.watcher.Start()
	}
	return s, nil
}

// Scope returns the scope the session was opened for.
func (s *Session) Scope() models.Scope { return s.scope }

// Self is the signed-in user's profile.
func (s *Session) Self() models.Profile { return s.self }

// Key identifies the session among open ones.
func (s *Session) Key() string { return s.scope.Topic() }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close leaves the channel and aborts in-flight sends.
func (s *Session) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Session) close() {
	defer close(s.done)
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.channel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.channel.Leave(ctx); err != nil {
			s.logger.Debug("leave failed", "error", err)
		}
		cancel()
	}
	<-s.pumpDone
	s.Tracker.Close()
	s.Store.Close()
}

// pump forwards channel events, in order, to the store and the tracker.
func (s *Session) pump() {
	defer close(s.pumpDone)
	for ev := range s.channel.Events() {
		if err := s.handle(ev); err != nil {
			s.logger.Warn("realtime event skipped", "type", ev.Type, "error", err)
		}
	}
}

func (s *Session) handle(ev realtime.Event) error {
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		var msg models.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			return fmt.Errorf("decode %s record: %w", ev.Table, err)
		}
		if ev.Type == realtime.EventInsert {
			s.Store.OnRemoteInsert(msg)
		} else {
			s.Store.OnRemoteUpdate(msg)
		}

	case realtime.EventDelete:
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Record, &old); err != nil {
			return fmt.Errorf("decode %s old record: %w", ev.Table, err)
		}
		s.Store.OnRemoteDelete(old.ID)

	case realtime.EventBroadcast:
		return s.Tracker.HandleBroadcast(ev.Name, ev.Payload)
	}
	return nil
}

// Subscriptions lists the row changes a scope channel listens to.
func Subscriptions(scope models.Scope) []realtime.Change {
	filter := scope.FilterColumn() + "=eq." + scope.ID
	changes := make([]realtime.Change, 0, 3)
	for _, event := range []string{"INSERT", "UPDATE", "DELETE"} {
		changes = append(changes, realtime.Change{
			Event:  event,
			Schema: "public",
			Table:  scope.Table(),
			Filter: filter,
		})
	}
	return changes
}

// topicPublisher broadcasts over REST when there is no socket.
type topicPublisher struct {
	b     realtime.Broadcaster
	topic string
}

func (p topicPublisher) Broadcast(ctx context.Context, event string, payload interface{}) error {
	if p.b == nil {
		return fmt.Errorf("broadcast %s: no realtime connection", event)
	}
	return p.b.Broadcast(ctx, p.topic, event, payload)
}
