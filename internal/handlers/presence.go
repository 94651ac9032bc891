package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/websocket"
	"github.com/go-chi/chi/v5"
)

var ErrUnknownCommand = errors.New("unknown command")

// SignalResponse tells whether a presence broadcast went out or was debounced.
type SignalResponse struct {
	Sent bool `json:"sent"`
}

// PresenceHandler relays the local user's typing and recording activity.
// It also serves UI commands arriving over the websocket.
type PresenceHandler struct {
	sessions *session.Manager
}

// NewPresenceHandler creates a new PresenceHandler instance.
func NewPresenceHandler(sessions *session.Manager) *PresenceHandler {
	return &PresenceHandler{sessions: sessions}
}

// Signal handles POST /api/sessions/{kind}/{id}/presence/{signal}
// signal is one of typing, typing_stop, recording, recording_stop.
func (h *PresenceHandler) Signal(w http.ResponseWriter, r *http.Request) {
	key, ok := scopeKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "scope kind and id required"})
		return
	}
	s, err := h.sessions.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}
	sent, err := emit(r.Context(), s, chi.URLParam(r, "signal"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, SignalResponse{Sent: sent})
}

// HandleCommand executes a websocket command for the scope's session.
func (h *PresenceHandler) HandleCommand(ctx context.Context, scopeKey string, cmd websocket.Command) error {
	s, err := h.sessions.Get(scopeKey)
	if err != nil {
		return err
	}
	switch cmd.Type {
	case "send":
		if _, err := s.Store.SendText(cmd.Body); err != nil {
			return err
		}
		s.Emitter.TypingStop(ctx)
		return nil
	case "draft":
		s.Store.Draft().Set(cmd.Body)
		return nil
	}
	_, err = emit(ctx, s, cmd.Type)
	return err
}

func emit(ctx context.Context, s *session.Session, signal string) (bool, error) {
	switch signal {
	case models.EventTyping:
		return s.Emitter.Typing(ctx), nil
	case models.EventRecording:
		return s.Emitter.Recording(ctx), nil
	case models.EventTypingStop:
		s.Emitter.TypingStop(ctx)
		return true, nil
	case models.EventRecordingStop:
		s.Emitter.RecordingStop(ctx)
		return true, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownCommand, signal)
}
