package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/pgstore"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/view"
	"github.com/adi-253/talkie-chat/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend stands in for the Remote Data Service.
type backend struct {
	mu      sync.Mutex
	groups  map[string]models.Group
	history []models.Message
	members map[string]bool
	nextID  int
}

func newBackend() *backend {
	return &backend{
		groups: map[string]models.Group{
			"g1": {ID: "g1", Name: "Spanish", MemberCount: 2},
		},
		history: []models.Message{{
			ID:        "m1",
			GroupID:   "g1",
			AuthorID:  "ana",
			Content:   strPtr("hola"),
			Kind:      models.KindText,
			CreatedAt: time.Now().Add(-time.Minute),
		}},
		members: map[string]bool{},
	}
}

func strPtr(s string) *string { return &s }

func (b *backend) ListGroups(ctx context.Context) ([]models.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Group, 0, len(b.groups))
	for _, g := range b.groups {
		out = append(out, g)
	}
	return out, nil
}

func (b *backend) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[id]
	if !ok {
		return nil, errors.New("group not found")
	}
	return &g, nil
}

func (b *backend) GetSupportThread(ctx context.Context, id string) (*models.SupportThread, error) {
	if id != "t1" {
		return nil, fmt.Errorf("%w: %s", pgstore.ErrThreadNotFound, id)
	}
	return &models.SupportThread{ID: id, UserID: "me"}, nil
}

func (b *backend) ActiveChallenge(ctx context.Context, groupID string, at time.Time) (*models.Challenge, error) {
	return nil, nil
}

func (b *backend) AddMember(ctx context.Context, m models.Member) error {
	b.mu.Lock()
	b.members[m.UserID] = true
	b.mu.Unlock()
	return nil
}

func (b *backend) RemoveMember(ctx context.Context, groupID, userID string) error {
	b.mu.Lock()
	delete(b.members, userID)
	b.mu.Unlock()
	return nil
}

func (b *backend) CountMembers(ctx context.Context, groupID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members), nil
}

func (b *backend) UpdateMemberCount(ctx context.Context, groupID string, count int) error {
	b.mu.Lock()
	g := b.groups[groupID]
	g.MemberCount = count
	b.groups[groupID] = g
	b.mu.Unlock()
	return nil
}

func (b *backend) FetchMessages(ctx context.Context, scope models.Scope) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Message(nil), b.history...), nil
}

func (b *backend) InsertMessage(ctx context.Context, scope models.Scope, msg models.Message) (*models.Message, error) {
	if msg.Text() == "fail" {
		return nil, errors.New("insert rejected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	msg.ID = fmt.Sprintf("srv-%d", b.nextID)
	b.history = append(b.history, msg)
	return &msg, nil
}

type fixture struct {
	router   http.Handler
	sessions *session.Manager
	presence *PresenceHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newBackend()
	logger := logging.Discard()
	scopes := services.NewScopeService(db, nil, "", logger)
	factory := func(ctx context.Context, scope models.Scope) (*session.Session, error) {
		return session.Open(ctx, session.Options{
			Scope:  scope,
			Self:   models.Profile{ID: "me", DisplayName: "Me"},
			Remote: db,
			Logger: logger,
		})
	}
	sessions := session.NewManager(scopes, factory, nil, logger)
	t.Cleanup(sessions.CloseAll)

	presence := NewPresenceHandler(sessions)
	router := NewRouter(RouterConfig{
		Scopes:    NewScopeHandler(db, scopes, sessions, "me"),
		Messages:  NewMessageHandler(sessions, nil, t.TempDir(), logger),
		Presence:  presence,
		Sessions:  func() int { return len(sessions.Keys()) },
		Origins:   []string{"http://localhost:5173"},
		StartedAt: time.Now(),
	})
	return &fixture{router: router, sessions: sessions, presence: presence}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) open(t *testing.T) *session.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "group", ID: "g1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s, err := f.sessions.Get("scope:group:g1")
	require.NoError(t, err)
	return s
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Sessions)
}

func TestOpenSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "group", ID: "g1"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SessionResponse](t, rec)
	assert.Equal(t, "scope:group:g1", resp.Key)
	assert.Equal(t, "Spanish", resp.Scope.Name)

	rec = f.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, []string{"scope:group:g1"}, decode[[]string](t, rec))
}

func TestOpenSession_Invalid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "dm", ID: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "group"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// community without a configured group
	rec = f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "community"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenSession_SupportThread(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "support", ID: "t1"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/sessions", OpenSessionRequest{Kind: "support", ID: "t404"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, f.sessions.Keys(), 1)
}

func TestMessages_NotOpen(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/group/g1/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/dm/g1/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/group/g1/messages", SendMessageRequest{Body: "buenos días"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, decode[SendResponse](t, rec).Key, "local-")

	s.Store.Wait()

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryResponse](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].Key)
	assert.Equal(t, "srv-1", entries[1].Key)
	assert.False(t, entries[1].Pending)
	assert.Equal(t, models.StatusConfirmed, entries[1].Status)
}

func TestSendMessage_Empty(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/group/g1/messages", SendMessageRequest{Body: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_FailureRestoresDraft(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/group/g1/messages", SendMessageRequest{Body: "fail"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.Store.Wait()

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/draft", nil)
	assert.Equal(t, "fail", decode[DraftBody](t, rec).Text)

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/messages", nil)
	assert.Len(t, decode[[]EntryResponse](t, rec), 1)
}

func TestDraft(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodPut, "/api/sessions/group/g1/draft", DraftBody{Text: "half typed"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/draft", nil)
	assert.Equal(t, "half typed", decode[DraftBody](t, rec).Text)
}

func TestTimeline(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/group/g1/timeline?tz=UTC", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	tl := decode[view.Timeline](t, rec)
	require.Len(t, tl.Rows, 2)
	// newest first, the day separator ends the list
	assert.Equal(t, view.RowMessage, tl.Rows[0].Kind)
	assert.Equal(t, "hola", tl.Rows[0].Text)
	assert.Equal(t, view.RowSeparator, tl.Rows[1].Kind)

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/timeline?tz=Mars/Olympus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadHistory(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/group/g1/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/group/g1/messages", nil)
	assert.Len(t, decode[[]EntryResponse](t, rec), 1)
}

func TestPresenceSignal(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/group/g1/presence/typing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SignalResponse](t, rec).Sent)

	// within the debounce window
	rec = f.do(t, http.MethodPost, "/api/sessions/group/g1/presence/typing", nil)
	assert.False(t, decode[SignalResponse](t, rec).Sent)

	rec = f.do(t, http.MethodPost, "/api/sessions/group/g1/presence/typing_stop", nil)
	assert.True(t, decode[SignalResponse](t, rec).Sent)

	rec = f.do(t, http.MethodPost, "/api/sessions/group/g1/presence/typing", nil)
	assert.True(t, decode[SignalResponse](t, rec).Sent)

	rec = f.do(t, http.MethodPost, "/api/sessions/group/g1/presence/dancing", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	require.NoError(t, f.presence.HandleCommand(ctx, s.Key(), websocket.Command{Type: "draft", Body: "hi"}))
	assert.Equal(t, "hi", s.Store.Draft().Text())

	require.NoError(t, f.presence.HandleCommand(ctx, s.Key(), websocket.Command{Type: "send", Body: "hi"}))
	s.Store.Wait()
	assert.Len(t, s.Store.Snapshot(), 2)
	assert.Empty(t, s.Store.Draft().Text())

	require.NoError(t, f.presence.HandleCommand(ctx, s.Key(), websocket.Command{Type: "recording"}))

	err := f.presence.HandleCommand(ctx, s.Key(), websocket.Command{Type: "wave"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	err = f.presence.HandleCommand(ctx, "scope:group:nope", websocket.Command{Type: "typing"})
	assert.ErrorIs(t, err, session.ErrNotOpen)
}

func TestHandleCommand_FailedSendRestoresDraftInTimeline(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	require.NoError(t, f.presence.HandleCommand(context.Background(), s.Key(), websocket.Command{Type: "send", Body: "fail"}))
	s.Store.Wait()

	tl := Render(context.Background(), s, nil, time.UTC, logging.Discard())
	assert.Equal(t, "fail", tl.Draft)
	assert.Len(t, tl.Rows, 2)

	rec := f.do(t, http.MethodGet, "/api/sessions/group/g1/timeline?tz=UTC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fail", decode[view.Timeline](t, rec).Draft)
}

// brokenProfiles fails batch lookups and counts single ones.
type brokenProfiles struct {
	mu    sync.Mutex
	calls int
}

func (b *brokenProfiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return &models.Profile{ID: userID, DisplayName: "Ana"}, nil
}

func (b *brokenProfiles) GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	return nil, errors.New("profiles unavailable")
}

func TestRender_PrimeFailureUsesCachedNames(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	src := &brokenProfiles{}

	tl := Render(context.Background(), s, services.NewProfileDirectory(src), time.UTC, logging.Discard())
	require.Len(t, tl.Rows, 2)
	assert.Equal(t, "Unknown", tl.Rows[0].Author)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Zero(t, src.calls)
}

func TestGroups(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Group](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/api/groups/g1/join", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.Scope](t, rec).MemberCount)

	f.open(t)
	rec = f.do(t, http.MethodPost, "/api/groups/g1/leave", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.sessions.IsOpen("scope:group:g1"))

	rec = f.do(t, http.MethodPost, "/api/groups/zz/join", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	rec := f.do(t, http.MethodDelete, "/api/sessions/group/g1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	<-s.Done()

	rec = f.do(t, http.MethodDelete, "/api/sessions/group/g1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
