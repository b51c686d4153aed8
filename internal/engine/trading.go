package engine

import (
	"fmt"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
	"github.com/DoyleJ11/settlers-relay/internal/trade"
)

// BestRate is the lowest number of give cards the bank takes for one card from player: 4 by
// default, 3 with a generic port, 2 with a port for that resource.
func BestRate(s State, player string, give resource.Kind) int {
	rate := 4
	for _, p := range s.Board.Ports {
		if p.Resource != "" && p.Resource != give {
			continue
		}
		for _, v := range p.Vertices {
			if b, ok := s.Buildings[v]; ok && b.Owner == player && p.Ratio < rate {
				rate = p.Ratio
			}
		}
	}
	return rate
}

func validateBankTrade(s State, player string, a BankTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	if !resource.Valid(a.Give) || !resource.Valid(a.Receive) || a.Give == a.Receive {
		return fmt.Errorf("%w: give %q for %q", ErrBadRatio, a.Give, a.Receive)
	}
	rate := BestRate(s, player, a.Give)
	if a.GiveAmount <= 0 || a.GiveAmount%rate != 0 {
		return fmt.Errorf("%w: %d %s at %d:1", ErrBadRatio, a.GiveAmount, a.Give, rate)
	}
	if s.Hands[player][a.Give] < a.GiveAmount {
		return ErrInsufficientResources
	}
	if s.Bank[a.Receive] < a.GiveAmount/rate {
		return ErrBankShort
	}
	return nil
}

func applyBankTrade(s *State, player string, a BankTrade) []Event {
	got := a.GiveAmount / BestRate(*s, player, a.Give)
	pay(s, player, resource.Bundle{a.Give: a.GiveAmount})
	s.Bank[a.Receive] -= got
	s.Hands[player][a.Receive] += got
	return []Event{{Type: EvtBankTraded, PlayerID: player, Detail: string(a.Receive), Amount: got}}
}

func affords(s State) trade.Affords {
	return func(player string, need resource.Bundle) bool {
		return s.Hands[player].Covers(need)
	}
}

func tradeTimeout(s State) int64 {
	if s.Settings.TradeTimeoutMs <= 0 {
		return 60_000
	}
	return s.Settings.TradeTimeoutMs
}

func nextOfferID(s State) string {
	return fmt.Sprintf("offer-%d", s.OfferSeq+1)
}

func proposal(s State, cmd Command, to string, offering, requesting resource.Bundle) trade.Proposal {
	return trade.Proposal{
		ID:         nextOfferID(s),
		From:       cmd.PlayerID,
		To:         to,
		Offering:   offering,
		Requesting: requesting,
		Now:        cmd.At,
		TimeoutMs:  tradeTimeout(s),
	}
}

func validatePropose(s State, cmd Command, a ProposeTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	if a.ToPlayerID != "" && !s.Seated(a.ToPlayerID) {
		return ErrUnknownPlayer
	}
	return s.Trades.CheckPropose(proposal(s, cmd, a.ToPlayerID, a.Offering, a.Requesting), affords(s))
}

func applyPropose(s *State, cmd Command, a ProposeTrade) []Event {
	o, _ := s.Trades.Propose(proposal(*s, cmd, a.ToPlayerID, a.Offering, a.Requesting), affords(*s))
	s.OfferSeq++
	return []Event{{Type: EvtTradeOpened, PlayerID: cmd.PlayerID, Detail: o.ID}}
}

func validateAccept(s State, player string, a AcceptTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	return s.Trades.CheckAccept(a.OfferID, player, affords(s))
}

func applyAccept(s *State, cmd Command, a AcceptTrade) []Event {
	o, _ := s.Trades.Accept(a.OfferID, cmd.PlayerID, cmd.At, affords(*s))
	s.Hands[o.FromPlayerID].Sub(o.Offering)
	s.Hands[cmd.PlayerID].Add(o.Offering)
	s.Hands[cmd.PlayerID].Sub(o.Requesting)
	s.Hands[o.FromPlayerID].Add(o.Requesting)
	return []Event{{Type: EvtTradeResolved, PlayerID: cmd.PlayerID, Detail: string(o.Status)}}
}

func validateDecline(s State, player string, a DeclineTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	return s.Trades.CheckDecline(a.OfferID, player)
}

func applyDecline(s *State, cmd Command, a DeclineTrade) []Event {
	o, _ := s.Trades.Decline(a.OfferID, cmd.PlayerID, cmd.At, s.TurnOrder)
	return []Event{{Type: EvtTradeResolved, PlayerID: cmd.PlayerID, Detail: string(o.Status)}}
}

func validateCounter(s State, cmd Command, a CounterTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	return s.Trades.CheckCounter(a.OfferID, proposal(s, cmd, "", a.Offering, a.Requesting), affords(s))
}

func applyCounter(s *State, cmd Command, a CounterTrade) []Event {
	_, created, _ := s.Trades.Counter(a.OfferID, proposal(*s, cmd, "", a.Offering, a.Requesting), affords(*s))
	s.OfferSeq++
	return []Event{
		{Type: EvtTradeResolved, PlayerID: cmd.PlayerID, Detail: string(trade.StatusCountered)},
		{Type: EvtTradeOpened, PlayerID: cmd.PlayerID, Detail: created.ID},
	}
}

func validateCancel(s State, player string, a CancelTrade) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	return s.Trades.CheckCancel(a.OfferID, player)
}

func applyCancel(s *State, cmd Command, a CancelTrade) []Event {
	o, _ := s.Trades.Cancel(a.OfferID, cmd.PlayerID, cmd.At)
	return []Event{{Type: EvtTradeResolved, PlayerID: cmd.PlayerID, Detail: string(o.Status)}}
}
