package player

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/authority"
	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/peer"
	"github.com/DoyleJ11/settlers-relay/internal/session"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

func (p *Player) handle(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.Welcome:
		p.welcome(m)

	case protocol.LobbyState:
		p.mu.Lock()
		p.lobby = m.State
		p.isHost = m.State.HostID != "" && m.State.HostID == p.playerID
		if m.State.GameStarted {
			p.gameStarted = true
			p.turnOrder = append([]string(nil), m.State.TurnOrder...)
		}
		p.settings = m.State.Settings
		p.mu.Unlock()
		p.reconcileRole(false)

	case protocol.GameStarted:
		p.mu.Lock()
		p.gameStarted = true
		p.turnOrder = append([]string(nil), m.TurnOrder...)
		p.settings = m.Settings
		p.mu.Unlock()
		p.ensurePeer()
		p.reconcileRole(true)

	case protocol.GameAction:
		p.submitRemote(m)

	case protocol.GameState:
		s, err := decodeState(m.State)
		if err != nil {
			p.log.Warn("undecodable snapshot", zap.Int64("version", m.Version), zap.Error(err))
			return
		}
		if pc := p.Peer(); pc != nil {
			pc.ApplySnapshot(s)
		}

	case protocol.ActionResult:
		if pc := p.Peer(); pc != nil {
			pc.HandleResult(m)
		}

	case protocol.HostMigrated:
		p.log.Info("host migrated", zap.String("host", m.NewHostID))
		if pc := p.Peer(); pc != nil {
			pc.HostMigrated()
		}
		p.mu.Lock()
		p.isHost = m.NewHostID == p.playerID
		p.mu.Unlock()
		p.reconcileRole(false)

	case protocol.StateRequest:
		p.answerStateRequest(m)

	case protocol.SyncState:
		s, err := decodeState(m.State)
		if err != nil {
			p.log.Warn("undecodable sync", zap.String("from", m.FromPlayerID), zap.Error(err))
			return
		}
		p.finishSync(&s)

	case protocol.PlayerConnected:
		if a := p.Authority(); a != nil {
			a.Resend()
		}

	case protocol.Error:
		p.serverError(m)

	case protocol.PlayerDisconnected, protocol.ChatBroadcast, protocol.Pong:
		// surfaced through OnMessage only
	}
}

func (p *Player) welcome(m protocol.Welcome) {
	err := session.Save(p.opts.Store, session.Session{
		Token:      m.SessionToken,
		PlayerID:   m.PlayerID,
		RoomCode:   m.RoomCode,
		PlayerName: p.opts.Name,
	})
	if err != nil {
		p.log.Warn("save session", zap.Error(err))
	}

	p.mu.Lock()
	changed := p.playerID != "" && p.playerID != m.PlayerID
	p.playerID = m.PlayerID
	p.token = m.SessionToken
	p.isHost = m.IsHost
	old := p.peer
	if changed {
		p.peer = nil
	}
	p.mu.Unlock()
	if changed && old != nil {
		old.Close()
	}
	p.log.Info("joined", zap.String("player", m.PlayerID), zap.Bool("host", m.IsHost))
	p.ensurePeer()
}

func (p *Player) ensurePeer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peer != nil || p.playerID == "" {
		return
	}
	p.peer = peer.New(p.ctx, p.playerID, peerTransport{p}, peer.Options{
		Timeout:   p.opts.ActionTimeout,
		Predictor: peer.RulesPredictor{Rules: p.rules},
		Logger:    p.opts.Logger,
	})
}

// reconcileRole starts or stops the authority to match the relay's view of who hosts.
// fresh is set when the game has just started and nobody holds a snapshot yet.
func (p *Player) reconcileRole(fresh bool) {
	p.mu.Lock()
	host, started, running := p.isHost, p.gameStarted, p.auth != nil
	p.mu.Unlock()

	switch {
	case host && started && !running:
		p.becomeHost(fresh)
	case !host && running:
		p.demote()
	}
}

func (p *Player) becomeHost(fresh bool) {
	p.ensurePeer()
	p.mu.Lock()
	initial := engine.NewGame(p.turnOrder, p.settings, p.opts.Board)
	pc := p.peer
	ctx := p.ctx
	p.mu.Unlock()

	cached := false
	if !fresh && pc != nil {
		if s, ok := pc.Authoritative(ctx); ok {
			initial, cached = s, true
		}
	}

	a := authority.New(ctx, p.rules, initial, hostSink{p}, authority.Options{Paused: !fresh, Logger: p.opts.Logger})

	p.mu.Lock()
	p.auth = a
	if !fresh {
		p.syncing = true
		p.syncGen++
		gen := p.syncGen
		p.syncTimer = time.AfterFunc(p.opts.SyncTimeout, func() {
			select {
			case p.timer <- syncTimedOut{gen: gen}:
			default:
			}
		})
	}
	p.mu.Unlock()

	if fresh {
		p.log.Info("hosting new game", zap.Strings("turnOrder", initial.TurnOrder))
		a.Resend()
		return
	}
	p.log.Info("took over hosting, asking peers for state", zap.Int64("cachedVersion", initial.Version), zap.Bool("cached", cached))
	p.send(protocol.RequestState{})
}

// finishSync releases a paused authority, seeding it with reply when that is newer.
func (p *Player) finishSync(reply *engine.State) {
	p.mu.Lock()
	if !p.syncing || p.auth == nil {
		p.mu.Unlock()
		return
	}
	p.syncing = false
	p.syncGen++
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}
	a := p.auth
	p.mu.Unlock()
	a.Resume(reply)
}

func (p *Player) demote() {
	p.mu.Lock()
	a := p.auth
	p.auth = nil
	p.syncing = false
	p.syncGen++
	p.mu.Unlock()
	if a != nil {
		p.log.Info("no longer host")
		a.Close()
	}
}

func (p *Player) submitRemote(m protocol.GameAction) {
	a := p.Authority()
	if a == nil {
		p.log.Debug("action arrived but not hosting", zap.String("from", m.PlayerID))
		return
	}
	action, err := engine.DecodeAction(m.Action)
	if err != nil {
		p.send(protocol.ActionResult{PlayerID: m.PlayerID, ActionID: m.ActionID, Error: err.Error()})
		return
	}
	if err := a.Submit(engine.Command{PlayerID: m.PlayerID, ActionID: m.ActionID, Action: action}); err != nil {
		p.send(protocol.ActionResult{PlayerID: m.PlayerID, ActionID: m.ActionID, ActionType: string(action.Type()), Error: err.Error()})
	}
}

func (p *Player) answerStateRequest(m protocol.StateRequest) {
	pc := p.Peer()
	if pc == nil {
		return
	}
	s, ok := pc.Authoritative(p.ctx)
	if !ok {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		p.log.Warn("encode sync", zap.Error(err))
		return
	}
	p.log.Info("sending snapshot to new host", zap.String("host", m.RequesterID), zap.Int64("version", s.Version))
	p.send(protocol.SyncState{Version: s.Version, State: raw})
}

func (p *Player) serverError(m protocol.Error) {
	switch m.Code {
	case protocol.CodeInvalidSession:
		p.log.Info("saved session rejected, joining fresh")
		if err := session.Clear(p.opts.Store); err != nil {
			p.log.Warn("clear session", zap.Error(err))
		}
		p.send(protocol.JoinRoom{PlayerName: p.opts.Name})
	case protocol.CodeRoomExpired:
		if err := session.Clear(p.opts.Store); err != nil {
			p.log.Warn("clear session", zap.Error(err))
		}
		p.log.Info("room expired")
	case protocol.CodeNoPeerAvailable:
		p.finishSync(nil)
	default:
		p.log.Info("relay error", zap.String("code", string(m.Code)), zap.String("message", m.Message))
	}
}
