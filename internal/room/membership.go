package room

import (
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

const MaxNameLength = 20

func errorsIsUnknown(err error) bool { return errors.Is(err, protocol.ErrUnknownType) }

// NewSessionToken returns a 32-character secret.
func NewSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SanitizeName trims name and strips control characters and angle brackets. ok is false when
// the result is empty or longer than MaxNameLength runes.
func SanitizeName(name string) (string, bool) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			return -1
		}
		return r
	}, name)
	clean = strings.TrimSpace(clean)
	n := utf8.RuneCountInString(clean)
	return clean, n >= 1 && n <= MaxNameLength
}

// Candidate is the part of a player that host selection looks at.
type Candidate struct {
	ID        string
	JoinOrder int
	Connected bool
}

// NextHost picks the connected candidate with the smallest join order, skipping outgoing.
// Ties, which a single room never produces, fall back to id order.
func NextHost(candidates []Candidate, outgoing string) (string, bool) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Connected && c.ID != outgoing {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return "", false
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].JoinOrder != eligible[j].JoinOrder {
			return eligible[i].JoinOrder < eligible[j].JoinOrder
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0].ID, true
}

func (r *Room) candidates() []Candidate {
	out := make([]Candidate, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, Candidate{ID: p.id, JoinOrder: p.joinOrder, Connected: p.connected})
	}
	return out
}

// migrateHost replaces outgoing as host. With no connected candidate the room has no host until
// someone joins or reconnects.
func (r *Room) migrateHost(outgoing string) {
	next, ok := NextHost(r.candidates(), outgoing)
	if !ok {
		r.hostID = ""
		r.log.Info("no eligible host", zap.String("outgoing", outgoing))
		return
	}
	r.promote(next)
}

func (r *Room) promote(id string) {
	r.hostID = id
	p := r.players[id]
	r.log.Info("host migrated", zap.String("host", id), zap.Int("joinOrder", p.joinOrder))
	r.broadcast(protocol.HostMigrated{NewHostID: id, NewHostName: p.name})
}

func (r *Room) findByToken(token string) *player {
	if token == "" {
		return nil
	}
	for _, p := range r.players {
		if subtle.ConstantTimeCompare([]byte(p.sessionToken), []byte(token)) == 1 {
			return p
		}
	}
	return nil
}

func (r *Room) join(connID string, m protocol.JoinRoom) {
	if _, joined := r.members[connID]; joined {
		r.sendError(connID, protocol.CodeAlreadyJoined, "this connection already joined")
		return
	}
	if p := r.findByToken(m.SessionToken); p != nil {
		r.reattach(connID, p)
		return
	}
	name, ok := SanitizeName(m.PlayerName)
	if !ok {
		r.sendError(connID, protocol.CodeInvalidName, "name must be 1-20 characters")
		return
	}
	if r.gameStarted {
		r.sendError(connID, protocol.CodeGameInProgress, "game already started")
		return
	}
	if len(r.players) >= r.opts.MaxPlayers {
		r.sendError(connID, protocol.CodeRoomFull, "room is full")
		return
	}

	p := &player{
		id:           uuid.NewString(),
		name:         name,
		sessionToken: NewSessionToken(),
		connected:    true,
		joinOrder:    r.joinCounter,
		lastSeen:     time.Now(),
		connID:       connID,
	}
	r.joinCounter++
	r.players[p.id] = p
	r.members[connID] = p.id
	r.log.Info("player joined", zap.String("player", p.id), zap.Int("joinOrder", p.joinOrder))

	hostless := r.hostID == ""
	if hostless {
		r.hostID = p.id
	}
	r.send(connID, protocol.Welcome{PlayerID: p.id, SessionToken: p.sessionToken, RoomCode: r.code, IsHost: r.hostID == p.id})
	if hostless && len(r.players) > 1 {
		r.promote(p.id)
	}
	r.broadcast(protocol.PlayerConnected{PlayerID: p.id, PlayerName: p.name}, p.id)
	r.broadcastLobby()
}

// reconnect resolves the player by session token only; the client never names its player id.
func (r *Room) reconnect(connID, token string) {
	p := r.findByToken(token)
	if p == nil {
		r.sendError(connID, protocol.CodeInvalidSession, "session not recognised")
		return
	}
	if other, joined := r.members[connID]; joined && other != p.id {
		r.sendError(connID, protocol.CodeAlreadyJoined, "this connection belongs to another player")
		return
	}
	r.reattach(connID, p)
}

// reattach binds connID to an existing player. Repeating it with the same token is harmless:
// the same player comes back and no second record is made.
func (r *Room) reattach(connID string, p *player) {
	if p.connID != "" && p.connID != connID {
		old := p.connID
		r.sendError(old, protocol.CodeSessionReplaced, "session resumed on another connection")
		delete(r.members, old)
		if ch, ok := r.conns[old]; ok {
			close(ch)
			delete(r.conns, old)
		}
	}

	p.timerGen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	wasConnected := p.connected
	p.connected = true
	p.lastSeen = time.Now()
	p.connID = connID
	r.members[connID] = p.id

	hostless := r.hostID == ""
	if hostless {
		r.hostID = p.id
	}
	r.log.Info("player reconnected", zap.String("player", p.id), zap.Bool("host", r.hostID == p.id))
	r.send(connID, protocol.Welcome{PlayerID: p.id, SessionToken: p.sessionToken, RoomCode: r.code, IsHost: r.hostID == p.id})
	if hostless {
		r.promote(p.id)
	}
	if !wasConnected {
		r.broadcast(protocol.PlayerConnected{PlayerID: p.id, PlayerName: p.name}, p.id)
	}
	r.broadcastLobby()
}

// leave removes the player at once, as opposed to a dropped socket which keeps the seat open.
func (r *Room) leave(connID, playerID string) {
	p := r.players[playerID]
	delete(r.members, connID)
	r.remove(p)
}

func (r *Room) remove(p *player) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(r.players, p.id)
	if p.connID != "" {
		delete(r.members, p.connID)
	}
	r.log.Info("player removed", zap.String("player", p.id))
	r.broadcast(protocol.PlayerDisconnected{PlayerID: p.id, PlayerName: p.name, Permanent: true})
	if r.hostID == p.id {
		r.migrateHost(p.id)
	}
	r.broadcastLobby()
}

func (r *Room) detach(connID string) {
	if ch, ok := r.conns[connID]; ok {
		close(ch)
		delete(r.conns, connID)
	}
	playerID, joined := r.members[connID]
	if !joined {
		return
	}
	delete(r.members, connID)
	p := r.players[playerID]
	if p == nil || p.connID != connID {
		return
	}
	r.disconnect(p)
}

// disconnect keeps the seat for ReconnectTimeout. A host is replaced immediately because a
// disconnected browser cannot run the authority.
func (r *Room) disconnect(p *player) {
	p.connected = false
	p.connID = ""
	p.lastSeen = time.Now()
	p.timerGen++
	gen, id := p.timerGen, p.id
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(r.opts.ReconnectTimeout, func() {
		r.post(reconnectExpired{PlayerID: id, Gen: gen})
	})
	r.log.Info("player disconnected", zap.String("player", p.id), zap.Duration("window", r.opts.ReconnectTimeout))

	r.broadcast(protocol.PlayerDisconnected{PlayerID: p.id, PlayerName: p.name})
	if r.hostID == p.id {
		r.migrateHost(p.id)
	}
	r.broadcastLobby()
}

func (r *Room) reconnectWindowClosed(msg reconnectExpired) {
	p, ok := r.players[msg.PlayerID]
	if !ok || p.timerGen != msg.Gen || p.connected {
		return // cancelled by a reconnect or already removed
	}
	p.timer = nil
	r.remove(p)
}
