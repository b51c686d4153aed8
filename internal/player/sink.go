package player

import (
	"encoding/json"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

// hostSink publishes the authority's output: snapshots go to the relay and straight into the
// local peer, results go to the relay unless they are for this player.
type hostSink struct{ p *Player }

func (h hostSink) BroadcastState(s engine.State) error {
	if pc := h.p.Peer(); pc != nil {
		pc.ApplySnapshot(s)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return h.p.mgr.Send(protocol.GameState{Version: s.Version, State: raw})
}

func (h hostSink) SendResult(r protocol.ActionResult) error {
	if r.PlayerID == h.p.PlayerID() {
		if pc := h.p.Peer(); pc != nil {
			pc.HandleResult(r)
		}
		return nil
	}
	return h.p.mgr.Send(r)
}

// peerTransport routes this player's actions: into the local authority while hosting, through
// the relay otherwise.
type peerTransport struct{ p *Player }

func (t peerTransport) SendAction(a protocol.GameAction) error {
	if auth := t.p.Authority(); auth != nil {
		action, err := engine.DecodeAction(a.Action)
		if err != nil {
			return err
		}
		return auth.Submit(engine.Command{PlayerID: a.PlayerID, ActionID: a.ActionID, Action: action})
	}
	return t.p.mgr.Send(a)
}
