package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCommands struct {
	mu   sync.Mutex
	cmds []Command
	got  chan struct{}
}

func (r *recordedCommands) HandleCommand(ctx context.Context, scopeKey string, cmd Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	r.got <- struct{}{}
	if cmd.Type == "bogus" {
		return errors.New("unknown command")
	}
	return nil
}

type openSet map[string]bool

func (o openSet) IsOpen(key string) bool { return o[key] }

func startHub(t *testing.T, cmds CommandHandler) (*Hub, string) {
	t.Helper()
	hub := NewHub(cmds, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Get("/ws/{kind}/{id}", NewHandler(hub, openSet{"scope:group:g1": true}).ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount(key) == n }, time.Second, 5*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_PublishReachesScopeClients(t *testing.T) {
	hub, base := startHub(t, nil)
	conn := dial(t, base+"/ws/group/g1")
	waitForClients(t, hub, "scope:group:g1", 1)

	require.NoError(t, hub.Publish("scope:group:g1", "timeline", map[string]int{"rows": 2}))

	f := readFrame(t, conn)
	assert.Equal(t, "timeline", f.Type)
	assert.JSONEq(t, `{"rows":2}`, string(f.Payload))
}

func TestHandler_RejectsClosedSession(t *testing.T) {
	_, base := startHub(t, nil)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/group/other", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"/ws/dm/x", nil)
	require.Error(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestClient_CommandsAndErrors(t *testing.T) {
	cmds := &recordedCommands{got: make(chan struct{}, 4)}
	hub, base := startHub(t, cmds)
	conn := dial(t, base+"/ws/group/g1")
	waitForClients(t, hub, "scope:group:g1", 1)

	require.NoError(t, conn.WriteJSON(Command{Type: "typing"}))
	<-cmds.got
	require.NoError(t, conn.WriteJSON(Command{Type: "bogus"}))
	<-cmds.got

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	var body map[string]string
	require.NoError(t, json.Unmarshal(f.Payload, &body))
	assert.Equal(t, "bogus", body["command"])

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	assert.Equal(t, "typing", cmds.cmds[0].Type)
}

func TestHub_FollowRendersOnChange(t *testing.T) {
	hub, base := startHub(t, nil)
	conn := dial(t, base+"/ws/group/g1")
	waitForClients(t, hub, "scope:group:g1", 1)

	changes := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)
	renders := 0
	go hub.Follow("scope:group:g1", stop, func() (interface{}, error) {
		renders++
		return map[string]int{"n": renders}, nil
	}, changes)

	changes <- struct{}{}
	f := readFrame(t, conn)
	assert.Equal(t, "timeline", f.Type)
	assert.JSONEq(t, `{"n":1}`, string(f.Payload))
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, base := startHub(t, nil)
	conn := dial(t, base+"/ws/group/g1")
	waitForClients(t, hub, "scope:group:g1", 1)

	conn.Close()
	waitForClients(t, hub, "scope:group:g1", 0)
}
