package supabase

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/config"
	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.SupabaseURL = srv.URL
	cfg.SupabaseKey = "anon"
	return NewClient(cfg, nil, logging.Discard())
}

func TestFetchMessages_Query(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"id":"1","group_id":"g1","author_id":"u1","kind":"text","content":"hi","created_at":"2024-01-01T10:00:00Z"}]`))
	})

	msgs, err := c.FetchMessages(testContext(t), models.Scope{Kind: models.ScopeGroup, ID: "g1"})
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/messages", gotPath)
	assert.Equal(t, "group_id=eq.g1&select=*&order=created_at.asc", gotQuery)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text())
}

func TestFetchMessages_SupportScopeUsesThreadTable(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	})

	_, err := c.FetchMessages(testContext(t), models.Scope{Kind: models.ScopeSupport, ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/support_messages", gotPath)
}

func TestInsertMessage_ReturnsStoredRow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var in models.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = "srv-1"
		json.NewEncoder(w).Encode([]models.Message{in})
	})

	scope := models.Scope{Kind: models.ScopeGroup, ID: "g1"}
	out, err := c.InsertMessage(testContext(t), scope, models.NewTextMessage(scope, "u1", "hello", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "srv-1", out.ID)
	assert.Equal(t, "g1", out.GroupID)
}

func TestInsertMessage_RejectsInvalid(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid message must not reach the server")
	})
	scope := models.Scope{Kind: models.ScopeGroup, ID: "g1"}
	_, err := c.InsertMessage(testContext(t), scope, models.NewTextMessage(scope, "u1", "", time.Now()))
	assert.ErrorIs(t, err, models.ErrMissingContent)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	})

	_, err := c.FetchMessages(testContext(t), models.Scope{Kind: models.ScopeGroup, ID: "g1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestGetGroup_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	_, err := c.GetGroup(testContext(t), "nope")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGetSupportThread(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.URL.Query().Get("id") == "eq.t1" {
			w.Write([]byte(`[{"id":"t1","user_id":"u1","created_at":"2024-01-01T00:00:00Z"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})

	thread, err := c.GetSupportThread(testContext(t), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", thread.UserID)
	assert.Contains(t, gotQuery, "id=eq.t1")

	_, err = c.GetSupportThread(testContext(t), "t2")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestUploadFile(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"Key":"voice-messages/g1/a.wav"}`))
	})

	local := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(local, []byte("RIFF"), 0o600))

	publicURL, err := c.UploadFile(testContext(t), "voice-messages", "g1/a.wav", local)
	require.NoError(t, err)

	assert.Equal(t, "/storage/v1/object/voice-messages/g1/a.wav", gotPath)
	assert.Equal(t, "audio/wav", gotType)
	assert.Equal(t, "RIFF", string(gotBody))
	assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/voice-messages/g1/a.wav", publicURL)
}

func TestBroadcast_Body(t *testing.T) {
	var body struct {
		Messages []struct {
			Topic   string          `json:"topic"`
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		} `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/api/broadcast", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.Broadcast(testContext(t), "scope:group:g1", models.EventTyping, models.PresenceSignal{AuthorID: "u1"})
	require.NoError(t, err)

	require.Len(t, body.Messages, 1)
	assert.Equal(t, "scope:group:g1", body.Messages[0].Topic)
	assert.Equal(t, "typing", body.Messages[0].Event)
	assert.Contains(t, string(body.Messages[0].Payload), `"user_id":"u1"`)
}
