package peer

import (
	"github.com/DoyleJ11/settlers-relay/internal/engine"
)

// Predictor guesses the effect of a pending action without mutating s. It reports false when
// it cannot predict.
type Predictor interface {
	Predict(s engine.State, playerID string, a engine.Action) (engine.State, bool)
}

type NoPrediction struct{}

func (NoPrediction) Predict(s engine.State, _ string, _ engine.Action) (engine.State, bool) {
	return s, false
}

// RulesPredictor runs deterministic actions through the local rules. Dice rolls and robber
// steals depend on the host's randomness and are left to the snapshot.
type RulesPredictor struct {
	Rules engine.Rules
}

func (p RulesPredictor) Predict(s engine.State, playerID string, a engine.Action) (engine.State, bool) {
	switch a.Type() {
	case engine.ActRollDice, engine.ActMoveRobber:
		return s, false
	}
	_, next, err := p.Rules.Apply(s, engine.Command{PlayerID: playerID, Action: a})
	if err != nil {
		return s, false
	}
	return next, true
}
