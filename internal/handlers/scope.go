package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/go-chi/chi/v5"
)

// GroupLister lists the groups a user can open.
type GroupLister interface {
	ListGroups(ctx context.Context) ([]models.Group, error)
}

// OpenSessionRequest is the body of POST /api/sessions.
type OpenSessionRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	Key   string       `json:"key"`
	Scope models.Scope `json:"scope"`
}

// ScopeHandler contains HTTP handlers for groups and chat sessions.
type ScopeHandler struct {
	groups   GroupLister
	scopes   *services.ScopeService
	sessions *session.Manager
	selfID   string
}

// NewScopeHandler creates a new ScopeHandler instance.
func NewScopeHandler(groups GroupLister, scopes *services.ScopeService, sessions *session.Manager, selfID string) *ScopeHandler {
	return &ScopeHandler{groups: groups, scopes: scopes, sessions: sessions, selfID: selfID}
}

// ListGroups handles GET /api/groups
func (h *ScopeHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// JoinGroup handles POST /api/groups/{id}/join
func (h *ScopeHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scopes.Join(r.Context(), chi.URLParam(r, "id"), h.selfID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scope)
}

// LeaveGroup handles POST /api/groups/{id}/leave
// Closes the group's session if one is open.
func (h *ScopeHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	if err := h.scopes.Leave(r.Context(), groupID, h.selfID); err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Close(session.Key(models.ScopeGroup, groupID))
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/sessions
func (h *ScopeHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Keys())
}

// OpenSession handles POST /api/sessions
// Subscribes to the scope and loads its history. Opening an open scope is a no-op.
func (h *ScopeHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	kind, ok := models.ParseScopeKind(req.Kind)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown scope kind"})
		return
	}
	if req.ID == "" && kind != models.ScopeCommunity {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "scope id is required"})
		return
	}

	s, err := h.sessions.Open(r.Context(), kind, req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Key: s.Key(), Scope: s.Store.Scope()})
}

// CloseSession handles DELETE /api/sessions/{kind}/{id}
func (h *ScopeHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	key, ok := scopeKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "scope kind and id required"})
		return
	}
	if err := h.sessions.Close(key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
