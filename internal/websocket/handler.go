package websocket

import (
	"net/http"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionChecker reports whether a session is open for a key.
type SessionChecker interface {
	IsOpen(key string) bool
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	sessions SessionChecker
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, sessions SessionChecker) *Handler {
	return &Handler{hub: hub, sessions: sessions}
}

// ServeWS handles WebSocket upgrade requests at /ws/{kind}/{id}
// The scope's session must have been opened through the API first.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	kind, ok := models.ParseScopeKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if !ok || id == "" {
		http.Error(w, "scope kind and id required", http.StatusBadRequest)
		return
	}
	key := models.Scope{Kind: kind, ID: id}.Topic()
	if h.sessions != nil && !h.sessions.IsOpen(key) {
		http.Error(w, "session is not open", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, key)
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
