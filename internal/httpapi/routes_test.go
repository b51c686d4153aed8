package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/internal/roomcode"
	"github.com/DoyleJ11/settlers-relay/internal/ws"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := hub.NewHub(ctx, hub.Options{})
	require.NoError(t, err)
	srv := httptest.NewServer(SetupRoutes(h, ws.Options{}, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-h.Done()
	})
	return srv
}

func createRoom(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	res, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var body createdResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body.Code
}

func TestCreateAndGetRoom(t *testing.T) {
	srv := newServer(t)
	code := createRoom(t, srv)
	assert.True(t, roomcode.Valid(code))

	res, err := http.Get(srv.URL + "/rooms/" + strings.ToLower(code))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body roomResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, code, body.Lobby.RoomCode)
	assert.Empty(t, body.Lobby.Players)
	assert.Equal(t, protocol.DefaultSettings(), body.Lobby.Settings)
}

func TestGetRoom_NotFound(t *testing.T) {
	srv := newServer(t)
	res, err := http.Get(srv.URL + "/rooms/ZZZZZZ")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	createRoom(t, srv)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	var body healthResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Rooms)
}

func TestWebsocketThroughRouter(t *testing.T) {
	srv := newServer(t)
	code := createRoom(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?code="+code, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	data, err := protocol.EncodeClient(protocol.JoinRoom{PlayerName: "Ana"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	_, reply, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.DecodeServer(reply)
	require.NoError(t, err)
	welcome, ok := msg.(protocol.Welcome)
	require.True(t, ok, "first frame should be WELCOME, got %T", msg)
	assert.Equal(t, code, welcome.RoomCode)
}
