package engine

import (
	"slices"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
)

func discardLimit(s State) int {
	if s.Settings.DiscardLimit <= 0 {
		return 7
	}
	return s.Settings.DiscardLimit
}

// DiscardOwed returns how many cards a hand of size n must give up on a seven, or 0.
func DiscardOwed(n, limit int) int {
	if n <= limit {
		return 0
	}
	return n / 2
}

// startDiscards collects every over-limit hand into the pending set. The robber only moves
// once that set is empty.
func startDiscards(s *State) []Event {
	s.PendingDiscards = map[string]int{}
	var events []Event
	for _, p := range s.TurnOrder {
		if owed := DiscardOwed(s.Hands[p].Total(), discardLimit(*s)); owed > 0 {
			s.PendingDiscards[p] = owed
			events = append(events, Event{Type: EvtDiscardRequired, PlayerID: p, Amount: owed})
		}
	}
	if len(s.PendingDiscards) > 0 {
		s.Phase = PhaseDiscard
	} else {
		s.Phase = PhaseRobber
	}
	return events
}

func validateDiscard(s State, player string, a Discard) error {
	if err := requirePhase(s, PhaseDiscard); err != nil {
		return err
	}
	owed, ok := s.PendingDiscards[player]
	if !ok {
		return ErrNotDiscarding
	}
	if err := a.Resources.Validate(); err != nil {
		return err
	}
	if a.Resources.Total() != owed {
		return ErrDiscardAmount
	}
	if !s.Hands[player].Covers(a.Resources) {
		return ErrInsufficientResources
	}
	return nil
}

func applyDiscard(s *State, player string, a Discard) []Event {
	s.Hands[player].Sub(a.Resources)
	s.Bank.Add(a.Resources)
	delete(s.PendingDiscards, player)
	if len(s.PendingDiscards) == 0 {
		s.Phase = PhaseRobber
	}
	return []Event{{Type: EvtDiscarded, PlayerID: player, Amount: a.Resources.Total()}}
}

// victims lists players other than thief with a building on hex.
func victims(s State, thief string, hex int) []string {
	var out []string
	for _, v := range s.Board.HexVertices(hex) {
		b, ok := s.Buildings[v]
		if !ok || b.Owner == thief || slices.Contains(out, b.Owner) {
			continue
		}
		out = append(out, b.Owner)
	}
	return out
}

func validateRobber(s State, player string, a MoveRobber) error {
	if err := requirePhase(s, PhaseRobber); err != nil {
		return err
	}
	if _, ok := s.Board.hex(a.HexID); !ok || a.HexID == s.Robber {
		return ErrIllegalRobber
	}
	if a.VictimID != "" && !slices.Contains(victims(s, player, a.HexID), a.VictimID) {
		return ErrIllegalRobber
	}
	return nil
}

func (e *Engine) applyRobber(s *State, player string, a MoveRobber) []Event {
	s.Robber = a.HexID
	s.Phase = PhaseMain
	events := []Event{{Type: EvtRobberMoved, PlayerID: player, Amount: a.HexID}}
	if a.VictimID == "" {
		return events
	}
	cards := s.Hands[a.VictimID].Cards()
	if len(cards) == 0 {
		return events
	}
	k := cards[e.rng.IntN(len(cards))]
	s.Hands[a.VictimID].Sub(resource.Bundle{k: 1})
	s.Hands[player].Add(resource.Bundle{k: 1})
	return append(events, Event{Type: EvtCardStolen, PlayerID: player, Detail: a.VictimID, Amount: 1})
}
