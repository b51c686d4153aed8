package engine

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type ActionType string

const (
	ActRollDice        ActionType = "ROLL_DICE"
	ActDiscard         ActionType = "DISCARD"
	ActMoveRobber      ActionType = "MOVE_ROBBER"
	ActBuildRoad       ActionType = "BUILD_ROAD"
	ActBuildSettlement ActionType = "BUILD_SETTLEMENT"
	ActBuildCity       ActionType = "BUILD_CITY"
	ActBankTrade       ActionType = "BANK_TRADE"
	ActProposeTrade    ActionType = "PROPOSE_TRADE"
	ActAcceptTrade     ActionType = "ACCEPT_TRADE"
	ActDeclineTrade    ActionType = "DECLINE_TRADE"
	ActCounterTrade    ActionType = "COUNTER_TRADE"
	ActCancelTrade     ActionType = "CANCEL_TRADE"
	ActEndTurn         ActionType = "END_TURN"

	// Issued by the host's own timers, never accepted from a player.
	ActExpireTrade ActionType = "EXPIRE_TRADE"
	ActPruneTrades ActionType = "PRUNE_TRADES"
)

// Action is the closed set of things a player (or the host's clock) can ask the rules to do.
type Action interface {
	Type() ActionType
	isAction()
}

type RollDice struct{}

type Discard struct {
	Resources resource.Bundle `json:"resources"`
}

type MoveRobber struct {
	HexID    int    `json:"hexId"`
	VictimID string `json:"victimId,omitempty"`
}

type BuildRoad struct {
	EdgeID int `json:"edgeId"`
}

type BuildSettlement struct {
	VertexID int `json:"vertexId"`
}

type BuildCity struct {
	VertexID int `json:"vertexId"`
}

type BankTrade struct {
	Give       resource.Kind `json:"give"`
	GiveAmount int           `json:"giveAmount"`
	Receive    resource.Kind `json:"receive"`
}

type ProposeTrade struct {
	ToPlayerID string          `json:"toPlayerId,omitempty"`
	Offering   resource.Bundle `json:"offering"`
	Requesting resource.Bundle `json:"requesting"`
}

type AcceptTrade struct {
	OfferID string `json:"offerId"`
}

type DeclineTrade struct {
	OfferID string `json:"offerId"`
}

type CounterTrade struct {
	OfferID    string          `json:"offerId"`
	Offering   resource.Bundle `json:"offering"`
	Requesting resource.Bundle `json:"requesting"`
}

type CancelTrade struct {
	OfferID string `json:"offerId"`
}

type EndTurn struct{}

type ExpireTrade struct {
	OfferID string `json:"offerId"`
}

type PruneTrades struct{}

func (RollDice) Type() ActionType        { return ActRollDice }
func (Discard) Type() ActionType         { return ActDiscard }
func (MoveRobber) Type() ActionType      { return ActMoveRobber }
func (BuildRoad) Type() ActionType       { return ActBuildRoad }
func (BuildSettlement) Type() ActionType { return ActBuildSettlement }
func (BuildCity) Type() ActionType       { return ActBuildCity }
func (BankTrade) Type() ActionType       { return ActBankTrade }
func (ProposeTrade) Type() ActionType    { return ActProposeTrade }
func (AcceptTrade) Type() ActionType     { return ActAcceptTrade }
func (DeclineTrade) Type() ActionType    { return ActDeclineTrade }
func (CounterTrade) Type() ActionType    { return ActCounterTrade }
func (CancelTrade) Type() ActionType     { return ActCancelTrade }
func (EndTurn) Type() ActionType         { return ActEndTurn }
func (ExpireTrade) Type() ActionType     { return ActExpireTrade }
func (PruneTrades) Type() ActionType     { return ActPruneTrades }

func (RollDice) isAction()        {}
func (Discard) isAction()         {}
func (MoveRobber) isAction()      {}
func (BuildRoad) isAction()       {}
func (BuildSettlement) isAction() {}
func (BuildCity) isAction()       {}
func (BankTrade) isAction()       {}
func (ProposeTrade) isAction()    {}
func (AcceptTrade) isAction()     {}
func (DeclineTrade) isAction()    {}
func (CounterTrade) isAction()    {}
func (CancelTrade) isAction()     {}
func (EndTurn) isAction()         {}
func (ExpireTrade) isAction()     {}
func (PruneTrades) isAction()     {}

// TurnScoped reports whether only the current player may issue t.
func TurnScoped(t ActionType) bool {
	switch t {
	case ActRollDice, ActMoveRobber, ActBuildRoad, ActBuildSettlement, ActBuildCity, ActBankTrade, ActEndTurn:
		return true
	}
	return false
}

// System reports whether t is reserved for the host's timers.
func System(t ActionType) bool {
	return t == ActExpireTrade || t == ActPruneTrades
}

func EncodeAction(a Action) (json.RawMessage, error) {
	return protocol.Tag(string(a.Type()), a)
}

// DecodeAction parses the payload of a GAME_ACTION.
func DecodeAction(data []byte) (Action, error) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return nil, err
	}
	switch ActionType(typ) {
	case ActRollDice:
		return RollDice{}, nil
	case ActDiscard:
		return decodeAction[Discard](data)
	case ActMoveRobber:
		return decodeAction[MoveRobber](data)
	case ActBuildRoad:
		return decodeAction[BuildRoad](data)
	case ActBuildSettlement:
		return decodeAction[BuildSettlement](data)
	case ActBuildCity:
		return decodeAction[BuildCity](data)
	case ActBankTrade:
		return decodeAction[BankTrade](data)
	case ActProposeTrade:
		return decodeAction[ProposeTrade](data)
	case ActAcceptTrade:
		return decodeAction[AcceptTrade](data)
	case ActDeclineTrade:
		return decodeAction[DeclineTrade](data)
	case ActCounterTrade:
		return decodeAction[CounterTrade](data)
	case ActCancelTrade:
		return decodeAction[CancelTrade](data)
	case ActEndTurn:
		return EndTurn{}, nil
	case ActExpireTrade:
		return decodeAction[ExpireTrade](data)
	case ActPruneTrades:
		return PruneTrades{}, nil
	default:
		return nil, fmt.Errorf("%w: action %q", protocol.ErrUnknownType, typ)
	}
}

func decodeAction[T Action](data []byte) (Action, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidMessage, err)
	}
	return v, nil
}
