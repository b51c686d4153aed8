package player

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/httpapi"
	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/internal/peer"
	"github.com/DoyleJ11/settlers-relay/internal/room"
	"github.com/DoyleJ11/settlers-relay/internal/session"
	"github.com/DoyleJ11/settlers-relay/internal/ws"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type relay struct {
	hub *hub.Hub
	srv *httptest.Server
}

func startRelay(t *testing.T) *relay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := hub.NewHub(ctx, hub.Options{Room: room.Options{ReconnectTimeout: 5 * time.Second}})
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.SetupRoutes(h, ws.Options{}, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-h.Done()
	})
	return &relay{hub: h, srv: srv}
}

func (r *relay) newRoom(t *testing.T) string {
	t.Helper()
	rm, err := r.hub.Create(context.Background())
	require.NoError(t, err)
	return rm.Code()
}

func (r *relay) url(code string) string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws?code=" + code
}

type running struct {
	*Player
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *running) kill() {
	r.cancel()
	<-r.done
}

func launch(t *testing.T, rl *relay, code, name string, store session.Store) *running {
	t.Helper()
	p := New(Options{
		URL:           rl.url(code),
		RoomCode:      code,
		Name:          name,
		Store:         store,
		Rules:         engine.New(engine.WithDice(func() (int, int) { return 2, 3 })),
		ActionTimeout: 2 * time.Second,
		SyncTimeout:   300 * time.Millisecond,
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	r := &running{Player: p, cancel: cancel, done: done}
	t.Cleanup(r.kill)
	return r
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func ready(t *testing.T, p *running, color string) {
	t.Helper()
	require.NoError(t, p.SelectColor(color))
	require.NoError(t, p.SetReady(true))
}

func lobbyReady(p *running, n int) bool {
	l := p.Lobby()
	count := 0
	for _, pl := range l.Players {
		if pl.Ready {
			count++
		}
	}
	return count == n
}

func version(p *running) int64 {
	pc := p.Peer()
	if pc == nil {
		return -1
	}
	s, ok := pc.Authoritative(context.Background())
	if !ok {
		return -1
	}
	return s.Version
}

func result(t *testing.T, ch <-chan peer.Result) peer.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for action result")
		return peer.Result{}
	}
}

// startTwoPlayerGame runs the lobby flow: A creates and hosts, B joins, both pick colors and
// ready up, A starts.
func startTwoPlayerGame(t *testing.T, rl *relay) (a, b *running) {
	t.Helper()
	code := rl.newRoom(t)

	a = launch(t, rl, code, "Ana", session.NewMemoryStore())
	eventually(t, func() bool { return a.PlayerID() != "" }, "A never joined")
	assert.True(t, a.IsHost())

	b = launch(t, rl, code, "Bo", session.NewMemoryStore())
	eventually(t, func() bool { return b.PlayerID() != "" }, "B never joined")
	assert.False(t, b.IsHost())

	ready(t, b, "blue")
	ready(t, a, "red")
	eventually(t, func() bool { return lobbyReady(a, 2) }, "players never became ready")

	require.NoError(t, a.StartGame())
	eventually(t, func() bool { return a.GameStarted() && b.GameStarted() }, "game never started")
	eventually(t, func() bool { return version(a) == 0 && version(b) == 0 }, "initial snapshot missing")
	return a, b
}

func TestEndToEnd_LobbyToFirstRoll(t *testing.T) {
	rl := startRelay(t)
	a, b := startTwoPlayerGame(t, rl)

	want := []string{a.PlayerID(), b.PlayerID()}
	assert.Equal(t, want, a.TurnOrder())
	assert.Equal(t, want, b.TurnOrder())
	require.NotNil(t, a.Authority())
	assert.Nil(t, b.Authority())

	_, done, err := a.Act(engine.RollDice{})
	require.NoError(t, err)
	assert.NoError(t, result(t, done).Err)

	eventually(t, func() bool { return version(a) == 1 && version(b) == 1 }, "roll never reached both players")
	view, ok := b.View(context.Background())
	require.True(t, ok)
	assert.Equal(t, [2]int{2, 3}, view.Dice)
	assert.Equal(t, engine.PhaseMain, view.Phase)
}

func TestEndToEnd_PeerActionsGoThroughHost(t *testing.T) {
	rl := startRelay(t)
	a, b := startTwoPlayerGame(t, rl)

	_, done, err := b.Act(engine.RollDice{})
	require.NoError(t, err)
	var rejected *peer.RejectedError
	require.ErrorAs(t, result(t, done).Err, &rejected)
	assert.Equal(t, engine.ErrWrongTurn.Error(), rejected.Reason)
	assert.Equal(t, int64(0), version(a))

	_, done, _ = a.Act(engine.RollDice{})
	require.NoError(t, result(t, done).Err)
	_, done, _ = a.Act(engine.EndTurn{})
	require.NoError(t, result(t, done).Err)

	_, done, _ = b.Act(engine.RollDice{})
	assert.NoError(t, result(t, done).Err)
	eventually(t, func() bool { return version(a) == 3 && version(b) == 3 }, "versions diverged")
}

func TestEndToEnd_HostLeavesAndPeerTakesOver(t *testing.T) {
	rl := startRelay(t)
	a, b := startTwoPlayerGame(t, rl)

	_, done, _ := a.Act(engine.RollDice{})
	require.NoError(t, result(t, done).Err)
	eventually(t, func() bool { return version(b) == 1 }, "B missed the roll")

	a.kill()
	eventually(t, func() bool { return b.IsHost() && b.Authority() != nil }, "B never took over")

	// nobody else can answer REQUEST_STATE, so B resumes from its own copy
	s, err := b.Authority().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)

	_, done, _ = b.Act(engine.EndTurn{})
	var rejected *peer.RejectedError
	require.ErrorAs(t, result(t, done).Err, &rejected, "it is still A's turn")
}

// wire is a bare protocol client, used where a test needs to control exactly what a peer says.
type wire struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWire(t *testing.T, rl *relay, code string) *wire {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, rl.url(code), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return &wire{t: t, conn: conn}
}

func (w *wire) send(m protocol.ClientMessage) {
	w.t.Helper()
	data, err := protocol.EncodeClient(m)
	require.NoError(w.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(w.t, w.conn.Write(ctx, websocket.MessageText, data))
}

func wireRecv[T protocol.ServerMessage](w *wire) T {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := w.conn.Read(ctx)
		require.NoError(w.t, err)
		msg, err := protocol.DecodeServer(data)
		require.NoError(w.t, err)
		if v, ok := msg.(T); ok {
			return v
		}
	}
}

func TestEndToEnd_NewHostAdoptsNewerSnapshotFromPeer(t *testing.T) {
	rl := startRelay(t)
	code := rl.newRoom(t)

	a := launch(t, rl, code, "Ana", session.NewMemoryStore())
	eventually(t, func() bool { return a.PlayerID() != "" }, "A never joined")
	b := launch(t, rl, code, "Bo", session.NewMemoryStore())
	eventually(t, func() bool { return b.PlayerID() != "" }, "B never joined")

	c := dialWire(t, rl, code)
	c.send(protocol.JoinRoom{PlayerName: "Cy"})
	cID := wireRecv[protocol.Welcome](c).PlayerID
	c.send(protocol.SelectColor{Color: "white"})
	c.send(protocol.MarkReady{})

	ready(t, b, "blue")
	ready(t, a, "red")
	eventually(t, func() bool { return lobbyReady(a, 3) }, "players never became ready")
	require.NoError(t, a.StartGame())

	first := wireRecv[protocol.GameState](c)
	require.Equal(t, int64(0), first.Version)
	eventually(t, func() bool { return version(b) == 0 }, "B missed the initial snapshot")

	// C claims a later snapshot than anything B has seen
	var newer engine.State
	require.NoError(t, json.Unmarshal(first.State, &newer))
	newer.Version = 5
	newer.Phase = engine.PhaseMain
	newer.Dice = [2]int{4, 4}
	raw, err := json.Marshal(newer)
	require.NoError(t, err)

	a.kill()
	req := wireRecv[protocol.StateRequest](c)
	assert.Equal(t, b.PlayerID(), req.RequesterID)
	c.send(protocol.SyncState{Version: newer.Version, State: raw})

	adopted := wireRecv[protocol.GameState](c)
	for adopted.Version == 0 {
		adopted = wireRecv[protocol.GameState](c)
	}
	assert.Equal(t, int64(5), adopted.Version)
	eventually(t, func() bool { return b.IsHost() && version(b) == 5 }, "B never adopted the synced snapshot")

	s, err := b.Authority().Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Version)
	assert.Equal(t, [2]int{4, 4}, s.Dice)
	assert.Equal(t, engine.PhaseMain, s.Phase)
	assert.Contains(t, s.TurnOrder, cID)
}

func TestReconnectResumesSeatFromStore(t *testing.T) {
	rl := startRelay(t)
	code := rl.newRoom(t)
	store := session.NewMemoryStore()

	a := launch(t, rl, code, "Ana", session.NewMemoryStore())
	eventually(t, func() bool { return a.PlayerID() != "" }, "A never joined")

	b := launch(t, rl, code, "Bo", store)
	eventually(t, func() bool { return b.PlayerID() != "" }, "B never joined")
	first := b.PlayerID()
	b.kill()

	again := launch(t, rl, code, "Bo", store)
	eventually(t, func() bool { return again.PlayerID() != "" }, "B never came back")
	assert.Equal(t, first, again.PlayerID())
	eventually(t, func() bool { return len(a.Lobby().Players) == 2 }, "lobby lost a seat")
}

func TestStaleSessionFallsBackToFreshJoin(t *testing.T) {
	rl := startRelay(t)
	code := rl.newRoom(t)
	store := session.NewMemoryStore()
	require.NoError(t, session.Save(store, session.Session{Token: "bogus", RoomCode: code, PlayerID: "ghost"}))

	p := launch(t, rl, code, "Cy", store)
	eventually(t, func() bool { return p.PlayerID() != "" }, "never joined")
	assert.NotEqual(t, "ghost", p.PlayerID())

	s, ok, err := session.Load(store)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.PlayerID(), s.PlayerID)
}
