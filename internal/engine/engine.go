// Package engine is the reference rules engine the host runs behind the action pipeline. It is
// a pure function of (state, command): Validate never mutates, and Apply returns a new state
// that shares nothing writable with its input.
package engine

import (
	"errors"
	"math/rand/v2"
	"time"
)

var (
	ErrWrongTurn             = errors.New("not your turn")
	ErrWrongPhase            = errors.New("action not allowed in this phase")
	ErrUnknownPlayer         = errors.New("player is not seated in this game")
	ErrSystemAction          = errors.New("action is reserved for the host")
	ErrUnsupportedAction     = errors.New("unsupported action")
	ErrGameAlreadyCompleted  = errors.New("game already completed")
	ErrNotDiscarding         = errors.New("player has nothing to discard")
	ErrDiscardAmount         = errors.New("wrong number of cards discarded")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrBankShort             = errors.New("bank cannot cover this trade")
	ErrBadRatio              = errors.New("trade does not match your best rate")
	ErrIllegalPlacement      = errors.New("illegal placement")
	ErrNoPieces              = errors.New("no pieces of that kind left")
	ErrIllegalRobber         = errors.New("illegal robber move")
	ErrNothingToPrune        = errors.New("no resolved trades to prune")
)

// Command is one action attributed to a player. PlayerID is empty for host timer actions.
// At is the host's wall clock in unix milliseconds when the command was dequeued.
type Command struct {
	PlayerID string
	ActionID string
	Action   Action
	At       int64
}

type EventType string

const (
	EvtDiceRolled         EventType = "DiceRolled"
	EvtResourcesProduced  EventType = "ResourcesProduced"
	EvtProductionWithheld EventType = "ProductionWithheld"
	EvtDiscardRequired    EventType = "DiscardRequired"
	EvtDiscarded          EventType = "Discarded"
	EvtRobberMoved        EventType = "RobberMoved"
	EvtCardStolen         EventType = "CardStolen"
	EvtBuilt              EventType = "Built"
	EvtBankTraded         EventType = "BankTraded"
	EvtTradeOpened        EventType = "TradeOpened"
	EvtTradeResolved      EventType = "TradeResolved"
	EvtTradesPruned       EventType = "TradesPruned"
	EvtTurnAdvanced       EventType = "TurnAdvanced"
	EvtGameCompleted      EventType = "GameCompleted"
)

// Event describes one effect of an applied command. Events are informational; the state is
// the source of truth.
type Event struct {
	Type     EventType
	PlayerID string
	Detail   string
	Amount   int
}

// Rules is the contract between the host authority and a game's rules.
type Rules interface {
	Validate(s State, cmd Command) error
	Apply(s State, cmd Command) ([]Event, State, error)
}

type Engine struct {
	roll    func() (int, int)
	rng     *rand.Rand
	graceMs int64
}

type Option func(*Engine)

// WithDice replaces the dice. Tests use it to force a roll.
func WithDice(roll func() (int, int)) Option {
	return func(e *Engine) { e.roll = roll }
}

func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithGracePeriod sets how long resolved trade offers stay visible before pruning.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) { e.graceMs = d.Milliseconds() }
}

func New(opts ...Option) *Engine {
	e := &Engine{graceMs: 3000}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		now := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(now, now>>7))
	}
	if e.roll == nil {
		e.roll = func() (int, int) { return e.rng.IntN(6) + 1, e.rng.IntN(6) + 1 }
	}
	return e
}

func (e *Engine) GracePeriod() time.Duration { return time.Duration(e.graceMs) * time.Millisecond }

func (e *Engine) Validate(s State, cmd Command) error {
	if cmd.Action == nil {
		return ErrUnsupportedAction
	}
	t := cmd.Action.Type()
	if System(t) {
		if cmd.PlayerID != "" {
			return ErrSystemAction
		}
	} else if !s.Seated(cmd.PlayerID) {
		return ErrUnknownPlayer
	} else if s.Phase == PhaseGameOver {
		// trade timers keep running after the winning build
		return ErrGameAlreadyCompleted
	}
	if TurnScoped(t) && cmd.PlayerID != s.CurrentPlayerID {
		return ErrWrongTurn
	}

	switch a := cmd.Action.(type) {
	case RollDice:
		return requirePhase(s, PhaseRoll)
	case Discard:
		return validateDiscard(s, cmd.PlayerID, a)
	case MoveRobber:
		return validateRobber(s, cmd.PlayerID, a)
	case BuildRoad:
		return validateRoad(s, cmd.PlayerID, a)
	case BuildSettlement:
		return validateSettlement(s, cmd.PlayerID, a)
	case BuildCity:
		return validateCity(s, cmd.PlayerID, a)
	case BankTrade:
		return validateBankTrade(s, cmd.PlayerID, a)
	case ProposeTrade:
		return validatePropose(s, cmd, a)
	case AcceptTrade:
		return validateAccept(s, cmd.PlayerID, a)
	case DeclineTrade:
		return validateDecline(s, cmd.PlayerID, a)
	case CounterTrade:
		return validateCounter(s, cmd, a)
	case CancelTrade:
		return validateCancel(s, cmd.PlayerID, a)
	case EndTurn:
		return requirePhase(s, PhaseMain)
	case ExpireTrade:
		return s.Trades.CheckExpire(a.OfferID, cmd.At)
	case PruneTrades:
		if s.Trades.Prunable(cmd.At, e.graceMs) == 0 {
			return ErrNothingToPrune
		}
		return nil
	default:
		return ErrUnsupportedAction
	}
}

// Apply validates cmd and returns the resulting state. The input state is left untouched and
// the version is not changed; versioning belongs to the caller.
func (e *Engine) Apply(s State, cmd Command) ([]Event, State, error) {
	if err := e.Validate(s, cmd); err != nil {
		return nil, s, err
	}
	next := s.Clone()
	var events []Event

	switch a := cmd.Action.(type) {
	case RollDice:
		events = e.applyRoll(&next)
	case Discard:
		events = applyDiscard(&next, cmd.PlayerID, a)
	case MoveRobber:
		events = e.applyRobber(&next, cmd.PlayerID, a)
	case BuildRoad:
		events = applyRoad(&next, cmd.PlayerID, a)
	case BuildSettlement:
		events = applySettlement(&next, cmd.PlayerID, a)
	case BuildCity:
		events = applyCity(&next, cmd.PlayerID, a)
	case BankTrade:
		events = applyBankTrade(&next, cmd.PlayerID, a)
	case ProposeTrade:
		events = applyPropose(&next, cmd, a)
	case AcceptTrade:
		events = applyAccept(&next, cmd, a)
	case DeclineTrade:
		events = applyDecline(&next, cmd, a)
	case CounterTrade:
		events = applyCounter(&next, cmd, a)
	case CancelTrade:
		events = applyCancel(&next, cmd, a)
	case EndTurn:
		events = applyEndTurn(&next)
	case ExpireTrade:
		o, _ := next.Trades.Expire(a.OfferID, cmd.At)
		events = []Event{{Type: EvtTradeResolved, PlayerID: o.FromPlayerID, Detail: string(o.Status)}}
	case PruneTrades:
		removed := next.Trades.Prune(cmd.At, e.graceMs)
		events = []Event{{Type: EvtTradesPruned, Amount: len(removed)}}
	}

	next.LastAction = &ActionRef{ID: cmd.ActionID, PlayerID: cmd.PlayerID, Type: cmd.Action.Type()}
	return events, next, nil
}

func requirePhase(s State, p Phase) error {
	if s.Phase != p {
		return ErrWrongPhase
	}
	return nil
}

func (e *Engine) applyRoll(s *State) []Event {
	d1, d2 := e.roll()
	s.Dice = [2]int{d1, d2}
	sum := d1 + d2
	events := []Event{{Type: EvtDiceRolled, PlayerID: s.CurrentPlayerID, Amount: sum}}

	if sum == 7 {
		return append(events, startDiscards(s)...)
	}

	grants, withheld := Produce(*s, sum)
	for _, p := range s.TurnOrder {
		g, ok := grants[p]
		if !ok {
			continue
		}
		s.Hands[p].Add(g)
		s.Bank.Sub(g)
		events = append(events, Event{Type: EvtResourcesProduced, PlayerID: p, Amount: g.Total()})
	}
	for _, k := range withheld {
		events = append(events, Event{Type: EvtProductionWithheld, Detail: string(k)})
	}
	s.Phase = PhaseMain
	return events
}

func applyEndTurn(s *State) []Event {
	s.CurrentPlayerID = s.nextPlayer()
	s.Phase = PhaseRoll
	s.Turn++
	s.Dice = [2]int{}
	return []Event{{Type: EvtTurnAdvanced, PlayerID: s.CurrentPlayerID}}
}

func victoryPoints(s State) int {
	if s.Settings.VictoryPoints <= 0 {
		return 10
	}
	return s.Settings.VictoryPoints
}

// checkVictory ends the game when player has reached the target.
func checkVictory(s *State, player string) []Event {
	if s.Points(player) < victoryPoints(*s) {
		return nil
	}
	s.Phase = PhaseGameOver
	s.WinnerID = player
	return []Event{{Type: EvtGameCompleted, PlayerID: player, Amount: s.Points(player)}}
}
