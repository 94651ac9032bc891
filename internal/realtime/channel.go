package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Broadcaster sends a broadcast without a joined socket channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic, event string, payload interface{}) error
}

// ChannelConfig selects what a channel receives.
type ChannelConfig struct {
	// Changes lists the row-change subscriptions
	Changes []Change

	// Fallback sends broadcasts while the channel is not joined
	Fallback Broadcaster

	// Buffer is the event queue length (default 256)
	Buffer int
}

// Channel is one topic on a Socket. Row changes and broadcasts are delivered
// in arrival order on a single channel.
type Channel struct {
	socket   *Socket
	topic    string
	rawTopic string
	config   ChannelConfig

	events chan Event
	quit   chan struct{}

	quitOnce sync.Once
	sendMu   sync.Mutex // guards closed and sends on events
	closed   bool

	mu     sync.Mutex
	joined bool
}

// Channel registers a channel for topic. Call Join to start receiving.
func (s *Socket) Channel(topic string, cfg ChannelConfig) *Channel {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	ch := &Channel{
		socket:   s,
		topic:    topicPrefix + topic,
		rawTopic: topic,
		config:   cfg,
		events:   make(chan Event, cfg.Buffer),
		quit:     make(chan struct{}),
	}
	s.mu.Lock()
	s.channels[ch.topic] = ch
	s.mu.Unlock()
	return ch
}

// Topic returns the topic without the realtime prefix.
func (c *Channel) Topic() string { return c.rawTopic }

// Events delivers decoded notifications. It is closed when the socket closes.
func (c *Channel) Events() <-chan Event { return c.events }

// Join subscribes the channel and waits for the server's acknowledgement.
func (c *Channel) Join(ctx context.Context) error {
	var p joinPayload
	p.Config.PostgresChanges = c.config.Changes
	if p.Config.PostgresChanges == nil {
		p.Config.PostgresChanges = []Change{}
	}
	p.AccessToken = c.socket.accessToken(ctx)

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal join: %w", err)
	}

	reply, err := c.socket.request(ctx, envelope{Topic: c.topic, Event: phxJoin, Payload: payload})
	if err != nil {
		return fmt.Errorf("join %s: %w", c.rawTopic, err)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("join %s rejected: %s %s", c.rawTopic, reply.Status, string(reply.Response))
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	c.socket.logger.Info("realtime channel joined", "topic", c.rawTopic)
	return nil
}

// Leave unsubscribes and unregisters the channel.
func (c *Channel) Leave(ctx context.Context) error {
	c.mu.Lock()
	wasJoined := c.joined
	c.joined = false
	c.mu.Unlock()

	c.socket.mu.Lock()
	delete(c.socket.channels, c.topic)
	c.socket.mu.Unlock()
	defer c.closeEvents()

	if !wasJoined {
		return nil
	}
	err := c.socket.push(envelope{Topic: c.topic, Event: phxLeave, Payload: json.RawMessage(`{}`)})
	if errors.Is(err, ErrSocketClosed) {
		return nil
	}
	return err
}

// Joined reports whether the server acknowledged the join.
func (c *Channel) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Broadcast sends an ephemeral event to the other subscribers of the topic.
// Without a joined channel it goes through the REST fallback.
func (c *Channel) Broadcast(ctx context.Context, event string, payload interface{}) error {
	if !c.Joined() {
		if c.config.Fallback == nil {
			return fmt.Errorf("broadcast %s: channel %s not joined", event, c.rawTopic)
		}
		return c.config.Fallback.Broadcast(ctx, c.rawTopic, event, payload)
	}

	inner, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast payload: %w", err)
	}
	body, err := json.Marshal(broadcastPayload{Type: broadcastEvt, Event: event, Payload: inner})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	return c.socket.push(envelope{Topic: c.topic, Event: broadcastEvt, Payload: body})
}

// dispatch is called from the socket's read pump.
func (c *Channel) dispatch(env envelope) {
	switch env.Event {
	case phxError, phxClose:
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		c.socket.logger.Warn("realtime channel dropped", "topic", c.rawTopic, "event", env.Event)
		return
	}

	ev, ok, err := decodeEvent(env)
	if err != nil {
		c.socket.logger.Warn("realtime event skipped", "topic", c.rawTopic, "error", err)
		return
	}
	if !ok {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.quit:
	case <-c.socket.done:
	}
}

// closeEvents stops delivery. quit unblocks a dispatch waiting on a full queue.
func (c *Channel) closeEvents() {
	c.quitOnce.Do(func() { close(c.quit) })
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
