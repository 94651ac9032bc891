package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/view"
)

// maxVoiceUpload bounds the multipart body of a voice send.
const maxVoiceUpload = 32 << 20

// SendMessageRequest is the body of POST .../messages.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// SendResponse returns the provisional key of an optimistic entry.
type SendResponse struct {
	Key string `json:"key"`
}

// EntryResponse is one store entry.
type EntryResponse struct {
	Key       string               `json:"key"`
	Pending   bool                 `json:"pending"`
	Status    models.MessageStatus `json:"status"`
	Message   models.Message       `json:"message"`
	LocalPath string               `json:"local_path,omitempty"`
}

// DraftBody carries the message input.
type DraftBody struct {
	Text string `json:"text"`
}

// MessageHandler contains HTTP handlers for the messages of open sessions.
type MessageHandler struct {
	sessions  *session.Manager
	profiles  *services.ProfileDirectory
	uploadDir string
	logger    *slog.Logger
}

// NewMessageHandler creates a new MessageHandler instance.
func NewMessageHandler(sessions *session.Manager, profiles *services.ProfileDirectory, uploadDir string, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{sessions: sessions, profiles: profiles, uploadDir: uploadDir, logger: logger}
}

func (h *MessageHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	key, ok := scopeKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "scope kind and id required"})
		return nil, false
	}
	s, err := h.sessions.Get(key)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

// GetMessages handles GET /api/sessions/{kind}/{id}/messages
// Returns the store's entries in ascending order.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	entries := s.Store.Snapshot()
	out := make([]EntryResponse, len(entries))
	for i, e := range entries {
		_, pending := e.Ref.(services.Pending)
		out[i] = EntryResponse{
			Key:       e.Ref.Key(),
			Pending:   pending,
			Status:    e.Status,
			Message:   e.Message,
			LocalPath: e.LocalPath,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ReloadHistory handles POST /api/sessions/{kind}/{id}/history
// The retry path after a failed history load.
func (h *MessageHandler) ReloadHistory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Store.LoadHistory(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage handles POST /api/sessions/{kind}/{id}/messages
// Responds as soon as the optimistic entry is in the store.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ref, err := s.Store.SendText(req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Emitter.TypingStop(r.Context())
	writeJSON(w, http.StatusAccepted, SendResponse{Key: ref.Key()})
}

// SendVoice handles POST /api/sessions/{kind}/{id}/voice
// Multipart form: "audio" file and "duration" in seconds.
func (h *MessageHandler) SendVoice(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceUpload)
	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid multipart body"})
		return
	}
	seconds, err := strconv.ParseFloat(r.FormValue("duration"), 64)
	if err != nil || seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "duration must be a positive number of seconds"})
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "audio file is required"})
		return
	}
	defer file.Close()

	path, err := h.saveUpload(file, filepath.Ext(header.Filename))
	if err != nil {
		writeError(w, err)
		return
	}

	ref, err := s.Store.SendVoice(path, time.Duration(seconds*float64(time.Second)))
	if err != nil {
		os.Remove(path)
		writeError(w, err)
		return
	}
	s.Emitter.RecordingStop(r.Context())
	writeJSON(w, http.StatusAccepted, SendResponse{Key: ref.Key()})
}

// saveUpload copies the clip to the local cache it is played from.
func (h *MessageHandler) saveUpload(src io.Reader, ext string) (string, error) {
	if ext == "" {
		ext = ".m4a"
	}
	f, err := os.CreateTemp(h.uploadDir, "voice-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, src); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("save upload: %w", err)
	}
	return f.Name(), nil
}

// GetTimeline handles GET /api/sessions/{kind}/{id}/timeline
// Query params:
//   - tz: IANA zone used for the date separators (default: daemon local time)
func (h *MessageHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	loc := time.Local
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid tz"})
			return
		}
		loc = l
	}
	writeJSON(w, http.StatusOK, Render(r.Context(), s, h.profiles, loc, h.logger))
}

// GetDraft handles GET /api/sessions/{kind}/{id}/draft
// A failed send puts its text back here.
func (h *MessageHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, DraftBody{Text: s.Store.Draft().Text()})
}

// PutDraft handles PUT /api/sessions/{kind}/{id}/draft
func (h *MessageHandler) PutDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var body DraftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	s.Store.Draft().Set(body.Text)
	w.WriteHeader(http.StatusNoContent)
}

// Render builds the session's timeline with names from the profile directory.
// When the batch profile lookup fails, names come from the cache only.
func Render(ctx context.Context, s *session.Session, profiles *services.ProfileDirectory, loc *time.Location, logger *slog.Logger) view.Timeline {
	entries := s.Store.Snapshot()
	var names view.NameFunc
	if profiles != nil {
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.Message.AuthorID)
		}
		if err := profiles.Prime(ctx, ids); err != nil {
			logger.Debug("profile prime failed, using cached names", "scope", s.Key(), "error", err)
			names = profiles.CachedName
		} else {
			names = func(id string) string { return profiles.Name(ctx, id) }
		}
	}

	var presence *models.PresenceSignal
	if sig, ok := s.Tracker.Current(); ok {
		presence = &sig
	}
	t := view.Build(entries, presence, s.Self().ID, names, time.Now(), loc)
	t.Draft = s.Store.Draft().Text()
	return t
}
