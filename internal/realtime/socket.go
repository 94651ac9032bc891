package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum frame size accepted from the server
	maxMessageSize = 1 << 20

	defaultHeartbeat = 25 * time.Second
)

var ErrSocketClosed = errors.New("realtime socket closed")

// TokenSource yields the user's access token for channel authorization.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Socket is a single websocket connection to Supabase Realtime multiplexing
// one channel per topic.
type Socket struct {
	endpoint  string
	tokens    TokenSource
	heartbeat time.Duration
	logger    *slog.Logger
	dialer    *websocket.Dialer

	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	ref atomic.Uint64

	mu        sync.Mutex
	channels  map[string]*Channel
	replies   map[string]chan replyPayload
	lastToken string

	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket builds the websocket endpoint from the project URL and key.
func NewSocket(projectURL, apiKey string, tokens TokenSource, heartbeatEvery time.Duration, logger *slog.Logger) (*Socket, error) {
	u, err := url.Parse(projectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid project url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if heartbeatEvery <= 0 {
		heartbeatEvery = defaultHeartbeat
	}
	return &Socket{
		endpoint:  u.String(),
		tokens:    tokens,
		heartbeat: heartbeatEvery,
		logger:    logger,
		dialer:    websocket.DefaultDialer,
		send:      make(chan []byte, 256),
		channels:  make(map[string]*Channel),
		replies:   make(map[string]chan replyPayload),
		done:      make(chan struct{}),
	}, nil
}

// Connect dials the server and starts the read and write pumps.
func (s *Socket) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	s.conn = conn
	s.logger.Info("realtime connected")

	go s.writePump()
	go s.readPump()
	return nil
}

// Done is closed when the connection is gone.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Close shuts the connection down. Joined channels see their event stream closed.
func (s *Socket) Close() error {
	s.shutdown()
	return nil
}

func (s *Socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Lock()
		for topic, ch := range s.channels {
			ch.closeEvents()
			delete(s.channels, topic)
		}
		s.mu.Unlock()
		s.logger.Info("realtime disconnected")
	})
}

func (s *Socket) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

// push queues a frame for the write pump.
func (s *Socket) push(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSocketClosed
	}
}

// request pushes a frame and waits for its phx_reply.
func (s *Socket) request(ctx context.Context, env envelope) (replyPayload, error) {
	ref := s.nextRef()
	env.Ref = &ref
	wait := make(chan replyPayload, 1)

	s.mu.Lock()
	s.replies[ref] = wait
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.replies, ref)
		s.mu.Unlock()
	}()

	if err := s.push(env); err != nil {
		return replyPayload{}, err
	}
	select {
	case r := <-wait:
		return r, nil
	case <-ctx.Done():
		return replyPayload{}, ctx.Err()
	case <-s.done:
		return replyPayload{}, ErrSocketClosed
	}
}

// readPump routes frames from the server to replies and channels.
func (s *Socket) readPump() {
	defer s.shutdown()

	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("realtime read error", "error", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("realtime frame skipped", "error", err)
			continue
		}
		s.route(env)
	}
}

func (s *Socket) route(env envelope) {
	if env.Event == phxReply && env.Ref != nil {
		var r replyPayload
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			s.logger.Warn("realtime reply skipped", "error", err)
			return
		}
		s.mu.Lock()
		wait, ok := s.replies[*env.Ref]
		s.mu.Unlock()
		if ok {
			select {
			case wait <- r:
			default:
			}
		}
		return
	}
	if env.Topic == phoenixTopic {
		return
	}

	s.mu.Lock()
	ch, ok := s.channels[env.Topic]
	s.mu.Unlock()
	if !ok {
		return
	}
	ch.dispatch(env)
}

// writePump drains the send queue and emits heartbeats.
func (s *Socket) writePump() {
	ticker := time.NewTicker(s.heartbeat)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("realtime write error", "error", err)
				return
			}

		case <-ticker.C:
			ref := s.nextRef()
			data, _ := json.Marshal(envelope{Topic: phoenixTopic, Event: heartbeat, Payload: json.RawMessage(`{}`), Ref: &ref})
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			s.refreshToken()

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// refreshToken forwards a renewed access token to every joined channel.
func (s *Socket) refreshToken() {
	if s.tokens == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		s.logger.Warn("realtime token refresh failed", "error", err)
		return
	}

	s.mu.Lock()
	if token == s.lastToken {
		s.mu.Unlock()
		return
	}
	s.lastToken = token
	topics := make([]string, 0, len(s.channels))
	for topic := range s.channels {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"access_token": token})
	for _, topic := range topics {
		ref := s.nextRef()
		data, _ := json.Marshal(envelope{Topic: topic, Event: accessToken, Payload: payload, Ref: &ref})
		select {
		case s.send <- data:
		default:
			s.logger.Warn("realtime send queue full, token update dropped", "topic", topic)
		}
	}
}

func (s *Socket) accessToken(ctx context.Context) string {
	if s.tokens == nil {
		return ""
	}
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		s.logger.Warn("realtime join without user token", "error", err)
		return ""
	}
	s.mu.Lock()
	s.lastToken = token
	s.mu.Unlock()
	return token
}
