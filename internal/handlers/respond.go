package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/pgstore"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/supabase"
	"github.com/adi-253/talkie-chat/internal/voice"
	"github.com/go-chi/chi/v5"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *supabase.APIError
	switch {
	case errors.Is(err, session.ErrNotOpen),
		errors.Is(err, services.ErrNoCommunity),
		errors.Is(err, supabase.ErrGroupNotFound),
		errors.Is(err, supabase.ErrThreadNotFound),
		errors.Is(err, supabase.ErrProfileNotFound),
		errors.Is(err, pgstore.ErrGroupNotFound),
		errors.Is(err, pgstore.ErrThreadNotFound),
		errors.Is(err, pgstore.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, services.ErrUnknownKind),
		errors.Is(err, models.ErrMissingContent),
		errors.Is(err, models.ErrMissingMedia):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrStoreClosed):
		status = http.StatusConflict
	case errors.Is(err, voice.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// scopeKey reads {kind}/{id} from the route.
func scopeKey(r *http.Request) (string, bool) {
	kind, ok := models.ParseScopeKind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if !ok || id == "" {
		return "", false
	}
	return session.Key(kind, id), true
}
