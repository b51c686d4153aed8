// Package room implements the relay side of a game room: one actor goroutine per room owns
// membership, lobby metadata, reconnect windows and message fan-out. It never interprets game
// actions; those are forwarded between players and the current host.
package room

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type Msg interface{ isRoomMsg() }

// Attach registers a socket. Outbox belongs to the room from here on: the room closes it when
// the socket is dropped or the room ends.
type Attach struct {
	ConnID string
	Outbox chan protocol.ServerMessage
}

// Detach reports that the socket closed without an explicit LEAVE_ROOM.
type Detach struct{ ConnID string }

type FromClient struct {
	ConnID string
	Msg    protocol.ClientMessage
}

// Malformed reports a frame the socket layer could not decode.
type Malformed struct {
	ConnID string
	Err    error
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type reconnectExpired struct {
	PlayerID string
	Gen      int
}

type activityExpired struct{ Gen int }

func (Attach) isRoomMsg()           {}
func (Detach) isRoomMsg()           {}
func (FromClient) isRoomMsg()       {}
func (Malformed) isRoomMsg()        {}
func (GetState) isRoomMsg()         {}
func (Shutdown) isRoomMsg()         {}
func (reconnectExpired) isRoomMsg() {}
func (activityExpired) isRoomMsg()  {}

// View is a race-free copy of the room for tests and the HTTP API.
type View struct {
	Lobby    protocol.Lobby
	NumConns int
}

type Options struct {
	ReconnectTimeout time.Duration
	Expiration       time.Duration
	MinPlayers       int
	MaxPlayers       int
	Logger           *zap.Logger
	// OnClose runs on the room goroutine after the room has stopped.
	OnClose func(code string)
}

func (o *Options) defaults() {
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = 30 * time.Second
	}
	if o.Expiration <= 0 {
		o.Expiration = 30 * time.Minute
	}
	if o.MinPlayers < 2 {
		o.MinPlayers = 2
	}
	if o.MaxPlayers < o.MinPlayers {
		o.MaxPlayers = 6
	}
}

type player struct {
	id           string
	name         string
	color        string
	sessionToken string
	connected    bool
	ready        bool
	joinOrder    int
	lastSeen     time.Time

	connID   string
	timerGen int
	timer    *time.Timer
}

type Room struct {
	code  string
	opts  Options
	log   *zap.Logger
	inbox chan Msg

	conns   map[string]chan protocol.ServerMessage
	members map[string]string // connID -> playerID
	players map[string]*player
	slow    []string

	hostID      string
	joinCounter int
	gameStarted bool
	turnOrder   []string
	settings    protocol.Settings

	createdAt     time.Time
	lastActivity  time.Time
	activityGen   int
	activityTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, code string, opts Options) *Room {
	opts.defaults()
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	r := &Room{
		code:      code,
		opts:      opts,
		log:       logging.OrNop(opts.Logger).With(zap.String("room", code)),
		inbox:     make(chan Msg, 64),
		conns:     make(map[string]chan protocol.ServerMessage),
		members:   make(map[string]string),
		players:   make(map[string]*player),
		settings:  protocol.DefaultSettings(),
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.touch()
	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Inbox exposes the mailbox to tests. Other callers should prefer Send, which cannot block on
// a stopped room.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send delivers m unless the room has stopped.
func (r *Room) Send(m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	}
}

// Snapshot asks the room for a View. It reports false if the room stopped or ctx ended first.
func (r *Room) Snapshot(ctx context.Context) (View, bool) {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-r.done:
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-r.done:
		return View{}, false
	case <-ctx.Done():
		return View{}, false
	}
}

// post is used by timer callbacks.
func (r *Room) post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Attach:
				r.conns[msg.ConnID] = msg.Outbox
				r.touch()

			case Detach:
				r.detach(msg.ConnID)

			case Malformed:
				code := protocol.CodeInvalidMessage
				if errorsIsUnknown(msg.Err) {
					code = protocol.CodeUnknownMessageType
				}
				r.sendError(msg.ConnID, code, msg.Err.Error())

			case FromClient:
				r.touch()
				r.handle(msg.ConnID, msg.Msg)

			case GetState:
				msg.Reply <- View{Lobby: r.lobby(), NumConns: len(r.conns)}

			case reconnectExpired:
				r.reconnectWindowClosed(msg)

			case activityExpired:
				if msg.Gen != r.activityGen {
					break // stale timer
				}
				r.expire()
				return

			case Shutdown:
				r.shutdown()
				return
			}
			r.dropSlow()
		}
	}
}

func (r *Room) touch() {
	r.lastActivity = time.Now()
	r.activityGen++
	gen := r.activityGen
	if r.activityTimer != nil {
		r.activityTimer.Stop()
	}
	r.activityTimer = time.AfterFunc(r.opts.Expiration, func() { r.post(activityExpired{Gen: gen}) })
}

func (r *Room) expire() {
	r.log.Info("room expired", zap.Duration("idle", time.Since(r.lastActivity)))
	for id := range r.conns {
		r.sendError(id, protocol.CodeRoomExpired, "room expired after inactivity")
	}
	r.shutdown()
}

func (r *Room) shutdown() {
	if r.activityTimer != nil {
		r.activityTimer.Stop()
	}
	for _, p := range r.players {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	for id, ch := range r.conns {
		close(ch)
		delete(r.conns, id)
	}
	r.cancel()
	if r.opts.OnClose != nil {
		r.opts.OnClose(r.code)
	}
}

// send queues msg for one socket. A full outbox marks the socket slow; it is dropped after the
// current message has been handled.
func (r *Room) send(connID string, msg protocol.ServerMessage) {
	ch, ok := r.conns[connID]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		r.slow = append(r.slow, connID)
	}
}

func (r *Room) sendError(connID string, code protocol.Code, message string) {
	r.send(connID, protocol.Error{Code: code, Message: message})
}

func (r *Room) sendToPlayer(playerID string, msg protocol.ServerMessage) {
	if p, ok := r.players[playerID]; ok && p.connected {
		r.send(p.connID, msg)
	}
}

// broadcast reaches every connected player except the ids in skip.
func (r *Room) broadcast(msg protocol.ServerMessage, skip ...string) {
	for _, p := range r.sortedPlayers() {
		if !p.connected || contains(skip, p.id) {
			continue
		}
		r.send(p.connID, msg)
	}
}

func (r *Room) broadcastLobby() {
	r.broadcast(protocol.LobbyState{State: r.lobby()})
}

func (r *Room) dropSlow() {
	for len(r.slow) > 0 {
		id := r.slow[0]
		r.slow = r.slow[1:]
		if _, ok := r.conns[id]; ok {
			r.log.Warn("dropping slow connection", zap.String("conn", id))
			r.detach(id)
		}
	}
}

func (r *Room) sortedPlayers() []*player {
	out := make([]*player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinOrder < out[j].joinOrder })
	return out
}

func (r *Room) lobby() protocol.Lobby {
	l := protocol.Lobby{
		RoomCode:     r.code,
		HostID:       r.hostID,
		GameStarted:  r.gameStarted,
		TurnOrder:    append([]string(nil), r.turnOrder...),
		Settings:     r.settings,
		CreatedAt:    r.createdAt.UnixMilli(),
		LastActivity: r.lastActivity.UnixMilli(),
		Players:      []protocol.LobbyPlayer{},
	}
	for _, p := range r.sortedPlayers() {
		l.Players = append(l.Players, protocol.LobbyPlayer{
			ID:        p.id,
			Name:      p.name,
			Color:     p.color,
			Connected: p.connected,
			Ready:     p.ready,
			JoinOrder: p.joinOrder,
			LastSeen:  p.lastSeen.UnixMilli(),
		})
	}
	return l
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
