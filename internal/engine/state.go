package engine

import (
	"maps"
	"slices"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
	"github.com/DoyleJ11/settlers-relay/internal/trade"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type Phase string

const (
	PhaseRoll     Phase = "roll"
	PhaseDiscard  Phase = "discard"
	PhaseRobber   Phase = "robber"
	PhaseMain     Phase = "main"
	PhaseGameOver Phase = "game_over"
)

const (
	BankPerResource = 19
	MaxRoads        = 15
	MaxSettlements  = 5
	MaxCities       = 4
	FreeSettlements = 2
	FreeRoads       = 2
)

type Building struct {
	Owner string `json:"owner"`
	City  bool   `json:"city,omitempty"`
}

// ActionRef identifies the action that produced a snapshot so peers can retire the matching
// pending action.
type ActionRef struct {
	ID       string     `json:"id,omitempty"`
	PlayerID string     `json:"playerId,omitempty"`
	Type     ActionType `json:"type"`
}

// Allowance counts the free opening pieces a player has not placed yet.
type Allowance struct {
	Settlements int `json:"settlements"`
	Roads       int `json:"roads"`
}

// State is the whole authoritative game. The host owns the only writable copy; every accepted
// action produces a new State with Version one higher.
type State struct {
	Version         int64                      `json:"version"`
	CurrentPlayerID string                     `json:"currentPlayerId"`
	Phase           Phase                      `json:"phase"`
	Turn            int                        `json:"turn"`
	TurnOrder       []string                   `json:"turnOrder"`
	Settings        protocol.Settings          `json:"settings"`
	Board           Board                      `json:"board"`
	Robber          int                        `json:"robber"`
	Hands           map[string]resource.Bundle `json:"hands"`
	Bank            resource.Bundle            `json:"bank"`
	Buildings       map[int]Building           `json:"buildings"`
	Roads           map[int]string             `json:"roads"`
	Free            map[string]Allowance       `json:"free"`
	Dice            [2]int                     `json:"dice"`
	PendingDiscards map[string]int             `json:"pendingDiscards,omitempty"`
	Trades          trade.Book                 `json:"trades"`
	OfferSeq        int                        `json:"offerSeq"`
	LastAction      *ActionRef                 `json:"lastAction,omitempty"`
	WinnerID        string                     `json:"winnerId,omitempty"`
}

// NewGame seats turnOrder on board with a full bank and empty hands. The first player in
// turnOrder rolls first.
func NewGame(turnOrder []string, settings protocol.Settings, board Board) State {
	s := State{
		Phase:           PhaseRoll,
		TurnOrder:       slices.Clone(turnOrder),
		Settings:        settings,
		Board:           board,
		Robber:          board.Desert(),
		Hands:           map[string]resource.Bundle{},
		Bank:            resource.Bundle{},
		Buildings:       map[int]Building{},
		Roads:           map[int]string{},
		Free:            map[string]Allowance{},
		PendingDiscards: map[string]int{},
	}
	for _, k := range resource.All {
		s.Bank[k] = BankPerResource
	}
	for _, p := range turnOrder {
		s.Hands[p] = resource.Bundle{}
		s.Free[p] = Allowance{Settlements: FreeSettlements, Roads: FreeRoads}
	}
	if len(turnOrder) > 0 {
		s.CurrentPlayerID = turnOrder[0]
	}
	return s
}

// Clone returns a deep copy. The board is immutable once a game starts and is shared.
func (s State) Clone() State {
	c := s
	c.TurnOrder = slices.Clone(s.TurnOrder)
	c.Hands = make(map[string]resource.Bundle, len(s.Hands))
	for p, h := range s.Hands {
		c.Hands[p] = h.Clone()
	}
	c.Bank = s.Bank.Clone()
	c.Buildings = maps.Clone(s.Buildings)
	c.Roads = maps.Clone(s.Roads)
	c.Free = maps.Clone(s.Free)
	c.PendingDiscards = maps.Clone(s.PendingDiscards)
	if c.PendingDiscards == nil {
		c.PendingDiscards = map[string]int{}
	}
	c.Trades = s.Trades.Clone()
	if s.LastAction != nil {
		ref := *s.LastAction
		c.LastAction = &ref
	}
	return c
}

func (s State) Seated(player string) bool { return slices.Contains(s.TurnOrder, player) }

// Points counts victory points from buildings on the board.
func (s State) Points(player string) int {
	n := 0
	for _, b := range s.Buildings {
		if b.Owner != player {
			continue
		}
		if b.City {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (s State) pieces(player string) (roads, settlements, cities int) {
	for _, owner := range s.Roads {
		if owner == player {
			roads++
		}
	}
	for _, b := range s.Buildings {
		if b.Owner != player {
			continue
		}
		if b.City {
			cities++
		} else {
			settlements++
		}
	}
	return
}

func (s State) nextPlayer() string {
	i := slices.Index(s.TurnOrder, s.CurrentPlayerID)
	if i < 0 || len(s.TurnOrder) == 0 {
		return s.CurrentPlayerID
	}
	return s.TurnOrder[(i+1)%len(s.TurnOrder)]
}
