// Package player is a complete game client: it joins or resumes a seat, keeps the relay
// connection alive, tracks the game as a peer and runs the authority whenever the relay
// makes it the host.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/authority"
	"github.com/DoyleJ11/settlers-relay/internal/conn"
	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/peer"
	"github.com/DoyleJ11/settlers-relay/internal/roomcode"
	"github.com/DoyleJ11/settlers-relay/internal/session"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

var ErrNoGame = errors.New("player: game has not started")

type Options struct {
	// URL is the relay websocket endpoint including the room code query.
	URL      string
	RoomCode string
	Name     string

	Store  session.Store
	Rules  engine.Rules
	Board  engine.Board
	Dialer conn.Dialer

	ActionTimeout     time.Duration
	SyncTimeout       time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	PingInterval      time.Duration

	// OnMessage sees every server message after the client has handled it. It runs on the
	// client goroutine.
	OnMessage func(protocol.ServerMessage)
	Logger    *zap.Logger
}

type syncTimedOut struct{ gen int }

type Player struct {
	opts  Options
	log   *zap.Logger
	mgr   *conn.Manager
	rules engine.Rules
	timer chan syncTimedOut

	ctx context.Context

	mu          sync.Mutex
	playerID    string
	token       string
	isHost      bool
	lobby       protocol.Lobby
	gameStarted bool
	turnOrder   []string
	settings    protocol.Settings
	peer        *peer.Client
	auth        *authority.Authority
	syncing     bool
	syncGen     int
	syncTimer   *time.Timer
}

func New(opts Options) *Player {
	if opts.Store == nil {
		opts.Store = session.NewMemoryStore()
	}
	if opts.Rules == nil {
		opts.Rules = engine.New()
	}
	if len(opts.Board.Hexes) == 0 {
		opts.Board = engine.DefaultBoard()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 2 * time.Second
	}
	opts.RoomCode = roomcode.Normalize(opts.RoomCode)
	p := &Player{
		opts:     opts,
		log:      logging.OrNop(opts.Logger).Named("player"),
		rules:    opts.Rules,
		timer:    make(chan syncTimedOut, 1),
		settings: protocol.DefaultSettings(),
		ctx:      context.Background(),
	}
	p.mgr = conn.New(conn.Options{
		URL:          opts.URL,
		Dialer:       opts.Dialer,
		BaseDelay:    opts.ReconnectBase,
		MaxDelay:     opts.ReconnectMax,
		MaxAttempts:  opts.ReconnectAttempts,
		PingInterval: opts.PingInterval,
		OnConnect:    func(context.Context) { p.greet() },
		Logger:       opts.Logger,
	})
	return p
}

// Run connects and handles server messages until ctx ends.
func (p *Player) Run(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	defer p.stop()

	errc := make(chan error, 1)
	go func() { errc <- p.mgr.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case err := <-errc:
			return err
		case msg := <-p.mgr.Incoming():
			p.handle(msg)
			if p.opts.OnMessage != nil {
				p.opts.OnMessage(msg)
			}
		case t := <-p.timer:
			p.mu.Lock()
			stale := t.gen != p.syncGen
			p.mu.Unlock()
			if !stale {
				p.log.Info("no snapshot from peers, resuming from cache")
				p.finishSync(nil)
			}
		}
	}
}

func (p *Player) stop() {
	p.mu.Lock()
	auth, pc := p.auth, p.peer
	p.auth, p.peer = nil, nil
	if p.syncTimer != nil {
		p.syncTimer.Stop()
	}
	p.mu.Unlock()
	if auth != nil {
		auth.Close()
	}
	if pc != nil {
		pc.Close()
	}
}

// greet runs on every (re)connect: resume a saved seat in this room, or join fresh.
func (p *Player) greet() {
	s, ok, err := session.Load(p.opts.Store)
	if err != nil {
		p.log.Warn("session unreadable", zap.Error(err))
	}
	if ok && s.RoomCode == p.opts.RoomCode {
		p.send(protocol.Reconnect{SessionToken: s.Token})
		return
	}
	p.send(protocol.JoinRoom{PlayerName: p.opts.Name})
}

func (p *Player) send(m protocol.ClientMessage) {
	if err := p.mgr.Send(m); err != nil {
		p.log.Debug("send failed", zap.String("type", protocol.ClientTypeOf(m)), zap.Error(err))
	}
}

// Accessors used by the binary and tests.

func (p *Player) PlayerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playerID
}

func (p *Player) IsHost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isHost
}

func (p *Player) Lobby() protocol.Lobby {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lobby
}

func (p *Player) GameStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gameStarted
}

func (p *Player) TurnOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.turnOrder...)
}

func (p *Player) ConnState() conn.State { return p.mgr.State() }

func (p *Player) Peer() *peer.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *Player) Authority() *authority.Authority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auth
}

// View is the game as this player currently sees it, pending actions included.
func (p *Player) View(ctx context.Context) (engine.State, bool) {
	pc := p.Peer()
	if pc == nil {
		return engine.State{}, false
	}
	return pc.View(ctx)
}

// Lobby and chat commands.

func (p *Player) SelectColor(color string) error {
	return p.mgr.Send(protocol.SelectColor{Color: color})
}

func (p *Player) SetReady(ready bool) error {
	if ready {
		return p.mgr.Send(protocol.MarkReady{})
	}
	return p.mgr.Send(protocol.UnmarkReady{})
}

func (p *Player) UpdateSettings(s protocol.Settings) error {
	return p.mgr.Send(protocol.UpdateSettings{Settings: s})
}

func (p *Player) StartGame() error { return p.mgr.Send(protocol.StartGame{}) }

func (p *Player) Chat(text string) error { return p.mgr.Send(protocol.ChatMessage{Text: text}) }

// Leave gives up the seat and forgets the saved session.
func (p *Player) Leave() error {
	if err := session.Clear(p.opts.Store); err != nil {
		p.log.Warn("clear session", zap.Error(err))
	}
	return p.mgr.Send(protocol.LeaveRoom{})
}

// Act sends a game action through the peer pipeline.
func (p *Player) Act(a engine.Action) (string, <-chan peer.Result, error) {
	pc := p.Peer()
	if pc == nil {
		return "", nil, ErrNoGame
	}
	id, done := pc.Send(a)
	return id, done, nil
}

func decodeState(raw json.RawMessage) (engine.State, error) {
	var s engine.State
	err := json.Unmarshal(raw, &s)
	return s, err
}
