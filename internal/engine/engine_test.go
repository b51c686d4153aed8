package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
	"github.com/DoyleJ11/settlers-relay/internal/trade"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

// On DefaultBoard the ore hex is id 5 (number 10); its vertices are 5, 14, 15, 24, 25, 34.
const oreHex = 5

func newTwoPlayerState() State {
	return NewGame([]string{"a", "b"}, protocol.DefaultSettings(), DefaultBoard())
}

func fixedDice(d1, d2 int) Option {
	return WithDice(func() (int, int) { return d1, d2 })
}

func cmd(player string, a Action) Command {
	return Command{PlayerID: player, ActionID: "id-" + string(a.Type()), Action: a, At: 1_000}
}

func TestStripBoardShape(t *testing.T) {
	b := DefaultBoard()
	n := len(b.Hexes)
	assert.Len(t, b.Vertices, 4*n+2)
	assert.Len(t, b.Edges, 5*n+1)
	for _, h := range b.Hexes {
		assert.Len(t, b.HexVertices(h.ID), 6, "hex %d", h.ID)
	}
	assert.Equal(t, []int{5, 14, 15, 24, 25, 34}, b.HexVertices(oreHex))
	assert.Equal(t, 4, b.Desert())
}

func TestTurnScopedActionsRejectOtherPlayers(t *testing.T) {
	cases := []struct {
		name   string
		player string
		action Action
		want   error
	}{
		{"roll out of turn", "b", RollDice{}, ErrWrongTurn},
		{"end turn out of turn", "b", EndTurn{}, ErrWrongTurn},
		{"bank trade out of turn", "b", BankTrade{Give: resource.Ore, GiveAmount: 4, Receive: resource.Wool}, ErrWrongTurn},
		{"stranger", "zed", RollDice{}, ErrUnknownPlayer},
		{"player issuing timer action", "a", PruneTrades{}, ErrSystemAction},
		{"end turn before rolling", "a", EndTurn{}, ErrWrongPhase},
	}
	e := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Validate(newTwoPlayerState(), cmd(tc.player, tc.action))
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestApply_RollMovesToMainAndLeavesInputUntouched(t *testing.T) {
	s := newTwoPlayerState()
	s.Buildings[5] = Building{Owner: "a"}

	events, next, err := New(fixedDice(4, 6)).Apply(s, cmd("a", RollDice{}))
	require.NoError(t, err)

	assert.Equal(t, PhaseMain, next.Phase)
	assert.Equal(t, [2]int{4, 6}, next.Dice)
	assert.Equal(t, 1, next.Hands["a"][resource.Ore])
	assert.Equal(t, BankPerResource-1, next.Bank[resource.Ore])
	assert.Equal(t, &ActionRef{ID: "id-ROLL_DICE", PlayerID: "a", Type: ActRollDice}, next.LastAction)
	assert.Equal(t, int64(0), next.Version, "engine must not bump the version")

	assert.Equal(t, PhaseRoll, s.Phase)
	assert.Equal(t, 0, s.Hands["a"][resource.Ore])
	assert.Equal(t, EvtDiceRolled, events[0].Type)
}

func TestProduce_BankShortage(t *testing.T) {
	t.Run("two players due more than the bank holds get nothing", func(t *testing.T) {
		s := newTwoPlayerState()
		s.Bank[resource.Ore] = 2
		s.Buildings[5] = Building{Owner: "a"}
		s.Buildings[14] = Building{Owner: "a"}
		s.Buildings[24] = Building{Owner: "b", City: true}

		grants, withheld := Produce(s, 10)
		assert.Empty(t, grants)
		assert.Equal(t, []resource.Kind{resource.Ore}, withheld)
	})

	t.Run("single recipient is capped at bank supply", func(t *testing.T) {
		s := newTwoPlayerState()
		s.Bank[resource.Ore] = 2
		s.Buildings[5] = Building{Owner: "a", City: true}
		s.Buildings[24] = Building{Owner: "a"}

		grants, withheld := Produce(s, 10)
		assert.Equal(t, 2, grants["a"][resource.Ore])
		assert.Empty(t, withheld)
	})

	t.Run("shortage in one kind does not block another", func(t *testing.T) {
		s := newTwoPlayerState()
		s.Bank[resource.Brick] = 1
		// brick hex 1 (number 6) vertices 1,10,11,20,21,30
		s.Buildings[1] = Building{Owner: "a"}
		s.Buildings[20] = Building{Owner: "b"}

		grants, withheld := Produce(s, 6)
		assert.Empty(t, grants)
		assert.Equal(t, []resource.Kind{resource.Brick}, withheld)

		s.Bank[resource.Brick] = 5
		grants, _ = Produce(s, 6)
		assert.Equal(t, 1, grants["a"][resource.Brick])
		assert.Equal(t, 1, grants["b"][resource.Brick])
	})

	t.Run("robber blocks its hex", func(t *testing.T) {
		s := newTwoPlayerState()
		s.Robber = oreHex
		s.Buildings[5] = Building{Owner: "a"}
		grants, _ := Produce(s, 10)
		assert.Empty(t, grants)
	})
}

func TestRollSeven_CollectsDiscards(t *testing.T) {
	s := newTwoPlayerState()
	s.Hands["a"] = resource.Of(resource.Ore, 9)
	s.Hands["b"] = resource.Of(resource.Wool, 7)

	e := New(fixedDice(3, 4))
	_, next, err := e.Apply(s, cmd("a", RollDice{}))
	require.NoError(t, err)
	assert.Equal(t, PhaseDiscard, next.Phase)
	assert.Equal(t, map[string]int{"a": 4}, next.PendingDiscards)

	// the robber cannot move until discards are in
	err = e.Validate(next, cmd("a", MoveRobber{HexID: 1}))
	assert.ErrorIs(t, err, ErrWrongPhase)

	cases := []struct {
		name string
		who  string
		give resource.Bundle
		want error
	}{
		{"too few", "a", resource.Of(resource.Ore, 3), ErrDiscardAmount},
		{"too many", "a", resource.Of(resource.Ore, 5), ErrDiscardAmount},
		{"cards not held", "a", resource.Of(resource.Wool, 4), ErrInsufficientResources},
		{"not owing", "b", resource.Of(resource.Wool, 3), ErrNotDiscarding},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Validate(next, cmd(tc.who, Discard{Resources: tc.give}))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, after, err := e.Apply(next, cmd("a", Discard{Resources: resource.Of(resource.Ore, 4)}))
	require.NoError(t, err)
	assert.Equal(t, PhaseRobber, after.Phase)
	assert.Equal(t, 5, after.Hands["a"][resource.Ore])
	assert.Empty(t, after.PendingDiscards)
}

func TestDiscardOwed(t *testing.T) {
	assert.Equal(t, 4, DiscardOwed(9, 7))
	assert.Equal(t, 0, DiscardOwed(7, 7))
	assert.Equal(t, 4, DiscardOwed(8, 7))
}

func TestRollSeven_NoDiscardsGoesStraightToRobber(t *testing.T) {
	s := newTwoPlayerState()
	_, next, err := New(fixedDice(1, 6)).Apply(s, cmd("a", RollDice{}))
	require.NoError(t, err)
	assert.Equal(t, PhaseRobber, next.Phase)
}

func TestMoveRobber_StealsFromVictim(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseRobber
	s.Buildings[24] = Building{Owner: "b"}
	s.Hands["b"] = resource.Of(resource.Grain, 1)

	e := New()
	assert.ErrorIs(t, e.Validate(s, cmd("a", MoveRobber{HexID: s.Robber})), ErrIllegalRobber)
	assert.ErrorIs(t, e.Validate(s, cmd("a", MoveRobber{HexID: 0, VictimID: "b"})), ErrIllegalRobber)

	_, next, err := e.Apply(s, cmd("a", MoveRobber{HexID: oreHex, VictimID: "b"}))
	require.NoError(t, err)
	assert.Equal(t, oreHex, next.Robber)
	assert.Equal(t, PhaseMain, next.Phase)
	assert.Equal(t, 1, next.Hands["a"][resource.Grain])
	assert.Equal(t, 0, next.Hands["b"].Total())
}

func TestBankTrade_BestRate(t *testing.T) {
	main := func() State {
		s := newTwoPlayerState()
		s.Phase = PhaseMain
		s.Hands["a"] = resource.Of(resource.Ore, 8, resource.Wool, 8)
		return s
	}
	e := New()

	t.Run("default four to one", func(t *testing.T) {
		s := main()
		assert.Equal(t, 4, BestRate(s, "a", resource.Ore))
		assert.ErrorIs(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Ore, GiveAmount: 3, Receive: resource.Grain})), ErrBadRatio)
		_, next, err := e.Apply(s, cmd("a", BankTrade{Give: resource.Ore, GiveAmount: 8, Receive: resource.Grain}))
		require.NoError(t, err)
		assert.Equal(t, 2, next.Hands["a"][resource.Grain])
		assert.Equal(t, 0, next.Hands["a"][resource.Ore])
	})

	t.Run("generic port three to one", func(t *testing.T) {
		s := main()
		s.Buildings[9] = Building{Owner: "a"} // left end, generic port
		assert.Equal(t, 3, BestRate(s, "a", resource.Wool))
		assert.ErrorIs(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Wool, GiveAmount: 4, Receive: resource.Grain})), ErrBadRatio)
		assert.NoError(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Wool, GiveAmount: 6, Receive: resource.Grain})))
	})

	t.Run("specific port wins over generic", func(t *testing.T) {
		s := main()
		s.Buildings[9] = Building{Owner: "a"}
		s.Buildings[18] = Building{Owner: "a"} // right end, ore port
		assert.Equal(t, 2, BestRate(s, "a", resource.Ore))
		assert.Equal(t, 3, BestRate(s, "a", resource.Wool))
		assert.ErrorIs(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Ore, GiveAmount: 3, Receive: resource.Grain})), ErrBadRatio)
		assert.NoError(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Ore, GiveAmount: 4, Receive: resource.Grain})))
	})

	t.Run("opponent port does not count", func(t *testing.T) {
		s := main()
		s.Buildings[18] = Building{Owner: "b"}
		assert.Equal(t, 4, BestRate(s, "a", resource.Ore))
	})

	t.Run("bank must cover", func(t *testing.T) {
		s := main()
		s.Bank[resource.Grain] = 1
		assert.ErrorIs(t, e.Validate(s, cmd("a", BankTrade{Give: resource.Ore, GiveAmount: 8, Receive: resource.Grain})), ErrBankShort)
	})
}

func TestBuilding_FreeOpeningThenPaid(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseMain
	e := New()

	_, s, err := e.Apply(s, cmd("a", BuildSettlement{VertexID: 10}))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Free["a"].Settlements)

	// distance rule: 1 neighbours 10
	assert.ErrorIs(t, e.Validate(s, cmd("a", BuildSettlement{VertexID: 1})), ErrIllegalPlacement)

	// road must touch own network
	assert.ErrorIs(t, e.Validate(s, cmd("a", BuildRoad{EdgeID: 40})), ErrIllegalPlacement)
	edges := s.Board.EdgesAt(10)
	_, s, err = e.Apply(s, cmd("a", BuildRoad{EdgeID: edges[0]}))
	require.NoError(t, err)
	_, s, err = e.Apply(s, cmd("a", BuildSettlement{VertexID: 30}))
	require.NoError(t, err)
	assert.Equal(t, Allowance{Settlements: 0, Roads: 1}, s.Free["a"])

	// paid settlement needs a road and resources
	assert.ErrorIs(t, e.Validate(s, cmd("a", BuildSettlement{VertexID: 33})), ErrIllegalPlacement)

	s.Hands["a"] = CityCost.Clone()
	_, s, err = e.Apply(s, cmd("a", BuildCity{VertexID: 10}))
	require.NoError(t, err)
	assert.True(t, s.Buildings[10].City)
	assert.Equal(t, 3, s.Points("a"))
	assert.Equal(t, 0, s.Hands["a"].Total())

	assert.ErrorIs(t, e.Validate(s, cmd("a", BuildCity{VertexID: 10})), ErrIllegalPlacement)
}

func TestVictoryEndsGame(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseMain
	s.Settings.VictoryPoints = 3
	s.Buildings[10] = Building{Owner: "a", City: true}

	e := New()
	_, next, err := e.Apply(s, cmd("a", BuildSettlement{VertexID: 30}))
	require.NoError(t, err)
	assert.Equal(t, PhaseGameOver, next.Phase)
	assert.Equal(t, "a", next.WinnerID)

	assert.ErrorIs(t, e.Validate(next, cmd("a", EndTurn{})), ErrGameAlreadyCompleted)
}

func TestTradeTimersOutliveGameOver(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseGameOver
	s.WinnerID = "a"
	s.Trades.Offers = []trade.Offer{
		{ID: "open", FromPlayerID: "b", Status: trade.StatusPending, CreatedAt: 1_000, TimeoutMs: 500},
		{ID: "done", FromPlayerID: "a", Status: trade.StatusAccepted, CreatedAt: 1_000, TimeoutMs: 500, ResolvedAt: 1_100},
	}
	e := New()

	expire := Command{At: 2_000, Action: ExpireTrade{OfferID: "open"}}
	require.NoError(t, e.Validate(s, expire))
	_, s, err := e.Apply(s, expire)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusExpired, s.Trades.Offers[0].Status)

	prune := Command{At: 6_000, Action: PruneTrades{}}
	_, s, err = e.Apply(s, prune)
	require.NoError(t, err)
	assert.Empty(t, s.Trades.Offers)
	assert.Equal(t, PhaseGameOver, s.Phase)

	assert.ErrorIs(t, e.Validate(s, cmd("b", ProposeTrade{Offering: resource.Of(resource.Ore, 1), Requesting: resource.Of(resource.Wool, 1)})), ErrGameAlreadyCompleted)
}

func TestEndTurnRotates(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseMain
	_, next, err := New().Apply(s, cmd("a", EndTurn{}))
	require.NoError(t, err)
	assert.Equal(t, "b", next.CurrentPlayerID)
	assert.Equal(t, PhaseRoll, next.Phase)
	assert.Equal(t, 1, next.Turn)

	next.Phase = PhaseMain
	_, next, err = New().Apply(next, cmd("b", EndTurn{}))
	require.NoError(t, err)
	assert.Equal(t, "a", next.CurrentPlayerID)
}

func TestPlayerTrade_ThroughEngine(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseMain
	s.Hands["a"] = resource.Of(resource.Brick, 2)
	s.Hands["b"] = resource.Of(resource.Ore, 1)
	e := New()

	_, s, err := e.Apply(s, cmd("a", ProposeTrade{Offering: resource.Of(resource.Brick, 2), Requesting: resource.Of(resource.Ore, 1)}))
	require.NoError(t, err)
	require.Len(t, s.Trades.Active(), 1)
	offerID := s.Trades.Active()[0].ID
	assert.Equal(t, "offer-1", offerID)

	// not turn-scoped: b answers during a's turn
	_, s, err = e.Apply(s, cmd("b", AcceptTrade{OfferID: offerID}))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Hands["b"][resource.Brick])
	assert.Equal(t, 1, s.Hands["a"][resource.Ore])

	o, _ := s.Trades.Get(offerID)
	assert.Equal(t, trade.StatusAccepted, o.Status)
}

func TestTradeTimers_AreSystemOnly(t *testing.T) {
	s := newTwoPlayerState()
	s.Phase = PhaseMain
	s.Hands["a"] = resource.Of(resource.Brick, 1)
	e := New(WithGracePeriod(0))

	c := cmd("a", ProposeTrade{Offering: resource.Of(resource.Brick, 1), Requesting: resource.Of(resource.Ore, 1)})
	_, s, err := e.Apply(s, c)
	require.NoError(t, err)

	deadline := s.Trades.Active()[0].Deadline()
	sys := Command{Action: ExpireTrade{OfferID: "offer-1"}, At: deadline - 1}
	assert.ErrorIs(t, e.Validate(s, sys), trade.ErrNotExpired)

	sys.At = deadline
	_, s, err = e.Apply(s, sys)
	require.NoError(t, err)
	assert.Empty(t, s.Trades.Active())

	_, s, err = e.Apply(s, Command{Action: PruneTrades{}, At: deadline})
	require.NoError(t, err)
	assert.Empty(t, s.Trades.Offers)
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction([]byte(`{"type":"BANK_TRADE","give":"ore","giveAmount":4,"receive":"wool"}`))
	require.NoError(t, err)
	assert.Equal(t, BankTrade{Give: resource.Ore, GiveAmount: 4, Receive: resource.Wool}, a)

	raw, err := EncodeAction(MoveRobber{HexID: 3, VictimID: "b"})
	require.NoError(t, err)
	back, err := DecodeAction(raw)
	require.NoError(t, err)
	assert.Equal(t, MoveRobber{HexID: 3, VictimID: "b"}, back)

	_, err = DecodeAction([]byte(`{"type":"SUMMON_DRAGON"}`))
	assert.ErrorIs(t, err, protocol.ErrUnknownType)
}
