package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var ErrHubStopped = errors.New("hub stopped")

// Hub maintains the set of connected UI clients and pushes updates to the
// clients watching each scope.
type Hub struct {
	// scopes maps a session key to the clients watching it
	scopes map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Update
	done       chan struct{}

	mu sync.RWMutex

	commands CommandHandler
	logger   *slog.Logger
}

// Update is a frame for every client of a scope.
type Update struct {
	ScopeKey string
	Message  []byte
}

// Frame is the envelope of every message exchanged with a UI client.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is an action sent by a UI client.
type Command struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

// CommandHandler executes client commands against the scope's session.
type CommandHandler interface {
	HandleCommand(ctx context.Context, scopeKey string, cmd Command) error
}

// NewHub creates a new Hub. commands may be nil for a push-only hub.
func NewHub(commands CommandHandler, logger *slog.Logger) *Hub {
	return &Hub{
		scopes:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Update, 64),
		done:       make(chan struct{}),
		commands:   commands,
		logger:     logger,
	}
}

// Run starts the hub's main event loop until ctx is done.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToScope(msg)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Publish queues a frame for the scope's clients.
func (h *Hub) Publish(scopeKey, frameType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Frame{Type: frameType, Payload: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &Update{ScopeKey: scopeKey, Message: msg}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Follow publishes render() after every signal on changes until stop closes.
func (h *Hub) Follow(scopeKey string, stop <-chan struct{}, render func() (interface{}, error), changes ...<-chan struct{}) {
	merged := make(chan struct{}, 1)
	for _, c := range changes {
		go func(c <-chan struct{}) {
			for {
				select {
				case _, ok := <-c:
					if !ok {
						return
					}
					select {
					case merged <- struct{}{}:
					default:
					}
				case <-stop:
					return
				}
			}
		}(c)
	}

	for {
		select {
		case <-merged:
			v, err := render()
			if err != nil {
				h.logger.Warn("render failed", "scope", scopeKey, "error", err)
				continue
			}
			if err := h.Publish(scopeKey, "timeline", v); err != nil {
				if errors.Is(err, ErrHubStopped) {
					return
				}
				h.logger.Warn("publish failed", "scope", scopeKey, "error", err)
			}
		case <-stop:
			return
		}
	}
}

// registerClient adds a client to a scope
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.scopes[client.ScopeKey] == nil {
		h.scopes[client.ScopeKey] = make(map[*Client]bool)
	}
	h.scopes[client.ScopeKey][client] = true
	h.logger.Debug("ui client connected", "scope", client.ScopeKey, "total", len(h.scopes[client.ScopeKey]))
}

// unregisterClient removes a client from a scope
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.scopes[client.ScopeKey]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)
			h.logger.Debug("ui client disconnected", "scope", client.ScopeKey, "remaining", len(clients))

			if len(clients) == 0 {
				delete(h.scopes, client.ScopeKey)
			}
		}
	}
}

// broadcastToScope sends a frame to every client of a scope. Clients whose
// buffer is full are dropped.
func (h *Hub) broadcastToScope(msg *Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.scopes[msg.ScopeKey] {
		select {
		case client.send <- msg.Message:
		default:
			delete(h.scopes[msg.ScopeKey], client)
			close(client.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, clients := range h.scopes {
		for client := range clients {
			close(client.send)
		}
		delete(h.scopes, key)
	}
}

// ClientCount returns the number of connected clients of a scope.
func (h *Hub) ClientCount(scopeKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scopeKey])
}
