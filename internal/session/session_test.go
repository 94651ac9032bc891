package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct{}

func (fakeRemote) FetchMessages(ctx context.Context, scope models.Scope) ([]models.Message, error) {
	return nil, nil
}

func (fakeRemote) InsertMessage(ctx context.Context, scope models.Scope, msg models.Message) (*models.Message, error) {
	msg.ID = "srv-1"
	return &msg, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, topic, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic+" "+event)
	return nil
}

var group = models.Scope{Kind: models.ScopeGroup, ID: "g1"}

func openOffline(t *testing.T, b *fakeBroadcaster) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Scope:    group,
		Self:     models.Profile{ID: "me", DisplayName: "Me"},
		Remote:   fakeRemote{},
		Fallback: b,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func record(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandle_RowChanges(t *testing.T) {
	s := openOffline(t, &fakeBroadcaster{})
	msg := models.NewTextMessage(group, "ana", "hola", time.Now())
	msg.ID = "m1"

	require.NoError(t, s.handle(realtime.Event{Type: realtime.EventInsert, Table: "messages", Record: record(t, msg)}))
	require.NoError(t, s.handle(realtime.Event{Type: realtime.EventInsert, Table: "messages", Record: record(t, msg)}))
	require.Len(t, s.Store.Snapshot(), 1)

	body := "hola!"
	msg.Content = &body
	require.NoError(t, s.handle(realtime.Event{Type: realtime.EventUpdate, Table: "messages", Record: record(t, msg)}))
	assert.Equal(t, "hola!", s.Store.Snapshot()[0].Message.Text())

	require.NoError(t, s.handle(realtime.Event{Type: realtime.EventDelete, Table: "messages", Record: json.RawMessage(`{"id":"m1"}`)}))
	assert.Empty(t, s.Store.Snapshot())
}

func TestHandle_MalformedRecord(t *testing.T) {
	s := openOffline(t, &fakeBroadcaster{})
	err := s.handle(realtime.Event{Type: realtime.EventInsert, Table: "messages", Record: json.RawMessage(`[`)})
	assert.Error(t, err)
	assert.Empty(t, s.Store.Snapshot())
}

func TestHandle_PresenceBroadcast(t *testing.T) {
	s := openOffline(t, &fakeBroadcaster{})
	payload := record(t, models.PresenceSignal{AuthorID: "ana", DisplayName: "Ana"})

	require.NoError(t, s.handle(realtime.Event{Type: realtime.EventBroadcast, Name: models.EventRecording, Payload: payload}))

	cur, ok := s.Tracker.Current()
	require.True(t, ok)
	assert.Equal(t, models.SignalRecording, cur.Kind)
}

func TestOffline_EmitterUsesRESTFallback(t *testing.T) {
	b := &fakeBroadcaster{}
	s := openOffline(t, b)

	assert.True(t, s.Emitter.Typing(context.Background()))
	assert.Equal(t, []string{"scope:group:g1 typing"}, b.topics)
}

func TestSubscriptions(t *testing.T) {
	support := models.Scope{Kind: models.ScopeSupport, ID: "t1"}
	changes := Subscriptions(support)

	require.Len(t, changes, 3)
	for _, c := range changes {
		assert.Equal(t, "support_messages", c.Table)
		assert.Equal(t, "thread_id=eq.t1", c.Filter)
		assert.Equal(t, "public", c.Schema)
	}
	assert.Equal(t, "INSERT", changes[0].Event)
}
