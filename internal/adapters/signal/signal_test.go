package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/RetroHub/internal/adapters/identity"
	"github.com/dkeye/RetroHub/internal/adapters/store"
	"github.com/dkeye/RetroHub/internal/app"
	"github.com/dkeye/RetroHub/internal/app/orch"
	"github.com/dkeye/RetroHub/internal/app/sfu"
	"github.com/dkeye/RetroHub/internal/app/sfu/sfutest"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("ws-secret")

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddUser(1, "alice", "")
	mem.AddUser(2, "bob", "")
	mem.AddFriendship(1, 2)

	reg := app.NewRegistry(app.DefaultChannelCapacity, nil)
	bus := app.NewBus(reg)
	o := orch.New(reg, bus, app.NewRoomManager(), mem, mem, sfu.NewVoiceRelay(sfutest.NewFactory().New, bus))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	ctl := NewSignalWSController(o, Options{PingPeriod: 5 * time.Second})
	r.GET("/ws", identity.Middleware(testSecret), func(c *gin.Context) {
		ctl.HandleEvents(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, user domain.UserID) *websocket.Conn {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": int64(user)}).SignedString(testSecret)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + token
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEventStream(t *testing.T) {
	srv, o := newServer(t)

	alice := dial(t, srv, 1)
	require.Eventually(t, func() bool { return o.IsOnline(1) }, time.Second, 10*time.Millisecond)

	bob := dial(t, srv, 2)
	msg := readJSON(t, alice)
	assert.Equal(t, "update_user", msg["type"])
	user := msg["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "bob", user["username"])
	assert.Equal(t, "online", user["status"])

	require.NoError(t, alice.WriteJSON(map[string]any{"kind": "ping"}))
	assert.Equal(t, map[string]any{"type": "pong"}, readJSON(t, alice))

	require.NoError(t, alice.WriteJSON(map[string]any{"kind": "signal", "target_id": 2, "json": "sdp"}))
	msg = readJSON(t, bob)
	assert.Equal(t, "send_signal", msg["type"])
	assert.Equal(t, map[string]any{"user_id": float64(1), "json": "sdp"}, msg["data"])

	require.NoError(t, alice.WriteJSON(map[string]any{"kind": "offer", "room_id": 1, "json": `{"type":"offer","sdp":"v=0"}`}))
	assert.Equal(t, map[string]any{"type": "error", "kind": "offer", "error": "not_playing"}, readJSON(t, alice))

	require.NoError(t, alice.WriteJSON(map[string]any{"kind": "mute"}))
	assert.Equal(t, map[string]any{"type": "error", "kind": "mute", "error": "not_publishing"}, readJSON(t, alice))

	require.NoError(t, alice.WriteJSON(map[string]any{"kind": "dance"}))
	assert.Equal(t, map[string]any{"type": "error", "kind": "dance", "error": "unknown_kind"}, readJSON(t, alice))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, map[string]any{"type": "error", "error": "bad_payload"}, readJSON(t, alice))

	require.NoError(t, alice.Close())
	assert.Eventually(t, func() bool { return !o.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)
	msg = readJSON(t, bob)
	assert.Equal(t, "update_user", msg["type"])
	assert.Equal(t, "offline", msg["data"].(map[string]any)["user"].(map[string]any)["status"])
}

func TestEventStreamRequiresToken(t *testing.T) {
	srv, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
