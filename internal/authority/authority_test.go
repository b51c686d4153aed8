package authority

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/resource"
	"github.com/DoyleJ11/settlers-relay/internal/trade"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type fakeSink struct {
	states  chan engine.State
	results chan protocol.ActionResult
}

func newSink() *fakeSink {
	return &fakeSink{
		states:  make(chan engine.State, 32),
		results: make(chan protocol.ActionResult, 32),
	}
}

func (f *fakeSink) BroadcastState(s engine.State) error {
	f.states <- s
	return nil
}

func (f *fakeSink) SendResult(r protocol.ActionResult) error {
	f.results <- r
	return nil
}

func recvState(t *testing.T, f *fakeSink) engine.State {
	t.Helper()
	select {
	case s := <-f.states:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a broadcast")
		return engine.State{}
	}
}

func recvResult(t *testing.T, f *fakeSink) protocol.ActionResult {
	t.Helper()
	select {
	case r := <-f.results:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a result")
		return protocol.ActionResult{}
	}
}

func noBroadcast(t *testing.T, f *fakeSink) {
	t.Helper()
	select {
	case s := <-f.states:
		t.Fatalf("unexpected broadcast of version %d", s.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func fixedDice(a, b int) engine.Option {
	return engine.WithDice(func() (int, int) { return a, b })
}

func newGame() engine.State {
	return engine.NewGame([]string{"a", "b"}, protocol.DefaultSettings(), engine.DefaultBoard())
}

func start(t *testing.T, rules engine.Rules, s engine.State, opts Options) (*Authority, *fakeSink) {
	t.Helper()
	sink := newSink()
	a := New(context.Background(), rules, s, sink, opts)
	t.Cleanup(a.Close)
	return a, sink
}

func TestRollDiceProducesVersionOne(t *testing.T) {
	a, sink := start(t, engine.New(fixedDice(2, 3)), newGame(), Options{})

	require.NoError(t, a.Submit(engine.Command{PlayerID: "a", ActionID: "r1", Action: engine.RollDice{}}))

	s := recvState(t, sink)
	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, [2]int{2, 3}, s.Dice)
	assert.Equal(t, engine.PhaseMain, s.Phase)
	require.NotNil(t, s.LastAction)
	assert.Equal(t, "r1", s.LastAction.ID)

	res := recvResult(t, sink)
	assert.True(t, res.Success)
	assert.Equal(t, "a", res.PlayerID)
	assert.Equal(t, "r1", res.ActionID)
	assert.Equal(t, string(engine.ActRollDice), res.ActionType)
}

func TestRejectionReachesOnlyTheActor(t *testing.T) {
	a, sink := start(t, engine.New(), newGame(), Options{})

	require.NoError(t, a.Submit(engine.Command{PlayerID: "b", ActionID: "x", Action: engine.RollDice{}}))
	res := recvResult(t, sink)
	assert.False(t, res.Success)
	assert.Equal(t, "b", res.PlayerID)
	assert.Equal(t, engine.ErrWrongTurn.Error(), res.Error)
	noBroadcast(t, sink)

	s, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Version)
}

func TestCommandsAreSerialisedWithOneVersionEach(t *testing.T) {
	a, sink := start(t, engine.New(fixedDice(2, 3)), newGame(), Options{})

	cmds := []engine.Command{
		{PlayerID: "a", ActionID: "1", Action: engine.RollDice{}},
		{PlayerID: "a", ActionID: "2", Action: engine.EndTurn{}},
		{PlayerID: "a", ActionID: "3", Action: engine.RollDice{}}, // no longer a's turn
		{PlayerID: "b", ActionID: "4", Action: engine.RollDice{}},
	}
	for _, c := range cmds {
		require.NoError(t, a.Submit(c))
	}

	for want := int64(1); want <= 3; want++ {
		assert.Equal(t, want, recvState(t, sink).Version)
	}
	var ok, failed int
	for range cmds {
		if recvResult(t, sink).Success {
			ok++
		} else {
			failed++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 1, failed)

	s, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", s.CurrentPlayerID)
	assert.Equal(t, int64(3), s.Version)
}

func TestTradeTimersExpireThenPrune(t *testing.T) {
	g := newGame()
	g.Phase = engine.PhaseMain
	g.Settings.TradeTimeoutMs = 40
	g.Hands["a"] = resource.Of(resource.Brick, 1)
	rules := engine.New(engine.WithGracePeriod(40 * time.Millisecond))
	a, sink := start(t, rules, g, Options{})

	require.NoError(t, a.Submit(engine.Command{
		PlayerID: "a",
		ActionID: "t1",
		Action:   engine.ProposeTrade{Offering: resource.Of(resource.Brick, 1), Requesting: resource.Of(resource.Ore, 1)},
	}))

	opened := recvState(t, sink)
	require.Len(t, opened.Trades.Offers, 1)
	assert.True(t, opened.Trades.Offers[0].Pending())

	expired := recvState(t, sink)
	assert.Equal(t, int64(2), expired.Version)
	require.Len(t, expired.Trades.Offers, 1)
	assert.Equal(t, "expired", string(expired.Trades.Offers[0].Status))

	pruned := recvState(t, sink)
	assert.Equal(t, int64(3), pruned.Version)
	assert.Empty(t, pruned.Trades.Offers)
	noBroadcast(t, sink)
}

func TestTradeTimersRunAfterGameOver(t *testing.T) {
	g := newGame()
	g.Phase = engine.PhaseGameOver
	g.WinnerID = "a"
	g.Version = 9
	created := time.Now().Add(-time.Second).UnixMilli()
	g.Trades.Offers = []trade.Offer{
		{ID: "o1", FromPlayerID: "b", Status: trade.StatusPending, CreatedAt: created, TimeoutMs: 500},
	}
	_, sink := start(t, engine.New(engine.WithGracePeriod(40*time.Millisecond)), g, Options{})

	expired := recvState(t, sink)
	assert.Equal(t, int64(10), expired.Version)
	require.Len(t, expired.Trades.Offers, 1)
	assert.Equal(t, trade.StatusExpired, expired.Trades.Offers[0].Status)

	pruned := recvState(t, sink)
	assert.Equal(t, int64(11), pruned.Version)
	assert.Empty(t, pruned.Trades.Offers)
	assert.Equal(t, engine.PhaseGameOver, pruned.Phase)
	noBroadcast(t, sink)
}

// refusingRules rejects every system command and counts how often it was asked.
type refusingRules struct {
	engine.Rules
	system atomic.Int32
}

func (r *refusingRules) Validate(s engine.State, cmd engine.Command) error {
	if engine.System(cmd.Action.Type()) {
		r.system.Add(1)
		return engine.ErrGameAlreadyCompleted
	}
	return r.Rules.Validate(s, cmd)
}

func TestRefusedTimersDoNotSpin(t *testing.T) {
	g := newGame()
	g.Trades.Offers = []trade.Offer{
		{ID: "o1", FromPlayerID: "a", Status: trade.StatusAccepted, CreatedAt: 1, TimeoutMs: 1, ResolvedAt: 2},
	}
	rules := &refusingRules{Rules: engine.New()}
	a, sink := start(t, rules, g, Options{})

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), rules.system.Load())
	noBroadcast(t, sink)

	s, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.Trades.Offers, 1)
}

func TestPausedAuthorityBuffersUntilResume(t *testing.T) {
	a, sink := start(t, engine.New(fixedDice(2, 3)), newGame(), Options{Paused: true})

	require.NoError(t, a.Submit(engine.Command{PlayerID: "a", ActionID: "r", Action: engine.RollDice{}}))
	a.Resend()
	noBroadcast(t, sink)

	seed := newGame()
	seed.Version = 5
	a.Resume(&seed)

	assert.Equal(t, int64(5), recvState(t, sink).Version)
	after := recvState(t, sink)
	assert.Equal(t, int64(6), after.Version)
	assert.Equal(t, engine.PhaseMain, after.Phase)
}

func TestResumeIgnoresOlderSeed(t *testing.T) {
	g := newGame()
	g.Version = 7
	a, sink := start(t, engine.New(), g, Options{Paused: true})

	old := newGame()
	old.Version = 3
	a.Resume(&old)
	assert.Equal(t, int64(7), recvState(t, sink).Version)
}

func TestResendBroadcastsCurrentSnapshot(t *testing.T) {
	a, sink := start(t, engine.New(), newGame(), Options{})
	a.Resend()
	assert.Equal(t, int64(0), recvState(t, sink).Version)
}

func TestSubmitAfterClose(t *testing.T) {
	a := New(context.Background(), engine.New(), newGame(), newSink(), Options{})
	a.Close()
	assert.ErrorIs(t, a.Submit(engine.Command{PlayerID: "a", Action: engine.RollDice{}}), ErrClosed)
}
