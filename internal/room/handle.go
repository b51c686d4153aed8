package room

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

const MaxChatLength = 500

func (r *Room) handle(connID string, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.JoinRoom:
		r.join(connID, m)
		return
	case protocol.Reconnect:
		r.reconnect(connID, m.SessionToken)
		return
	case protocol.Ping:
		r.send(connID, protocol.Pong{Timestamp: m.Timestamp})
		return
	}

	playerID, joined := r.members[connID]
	if !joined {
		r.sendError(connID, protocol.CodeNotJoined, "join the room first")
		return
	}
	p := r.players[playerID]
	p.lastSeen = time.Now()

	switch m := msg.(type) {
	case protocol.SelectColor:
		r.selectColor(connID, p, m.Color)
	case protocol.MarkReady:
		r.setReady(connID, p, true)
	case protocol.UnmarkReady:
		r.setReady(connID, p, false)
	case protocol.UpdateSettings:
		r.updateSettings(connID, p, m.Settings)
	case protocol.StartGame:
		r.startGame(connID, p)
	case protocol.ChatMessage:
		r.chat(connID, p, m.Text)
	case protocol.LeaveRoom:
		r.leave(connID, p.id)
	case protocol.GameAction:
		r.forwardAction(connID, p, m)
	case protocol.GameState:
		r.broadcastState(connID, p, m)
	case protocol.ActionResult:
		r.forwardResult(connID, p, m)
	case protocol.RequestState:
		r.requestState(connID, p)
	case protocol.SyncState:
		r.forwardSync(connID, p, m)
	default:
		r.sendError(connID, protocol.CodeUnknownMessageType, "unsupported message")
	}
}

func (r *Room) requireHost(connID string, p *player) bool {
	if r.hostID != p.id {
		r.sendError(connID, protocol.CodeNotHost, "only the host can do that")
		return false
	}
	return true
}

func (r *Room) requireLobby(connID string) bool {
	if r.gameStarted {
		r.sendError(connID, protocol.CodeGameInProgress, "game already started")
		return false
	}
	return true
}

func (r *Room) requireGame(connID string) bool {
	if !r.gameStarted {
		r.sendError(connID, protocol.CodeGameNotStarted, "game has not started")
		return false
	}
	return true
}

func (r *Room) selectColor(connID string, p *player, color string) {
	if !r.requireLobby(connID) {
		return
	}
	if !protocol.ValidColor(color) {
		r.sendError(connID, protocol.CodeInvalidColor, "unknown color")
		return
	}
	for _, other := range r.players {
		if other.id != p.id && other.color == color {
			r.sendError(connID, protocol.CodeColorTaken, "color already taken")
			return
		}
	}
	p.color = color
	r.broadcastLobby()
}

func (r *Room) setReady(connID string, p *player, ready bool) {
	if !r.requireLobby(connID) {
		return
	}
	if ready && p.color == "" {
		r.sendError(connID, protocol.CodeNoColorSelected, "pick a color first")
		return
	}
	p.ready = ready
	r.broadcastLobby()
}

func (r *Room) updateSettings(connID string, p *player, s protocol.Settings) {
	if !r.requireHost(connID, p) || !r.requireLobby(connID) {
		return
	}
	if err := s.Validate(); err != nil {
		r.sendError(connID, protocol.CodeInvalidSettings, err.Error())
		return
	}
	r.settings = s
	r.broadcastLobby()
}

func (r *Room) startGame(connID string, p *player) {
	if !r.requireHost(connID, p) || !r.requireLobby(connID) {
		return
	}
	var order []string
	for _, q := range r.sortedPlayers() {
		if !q.connected {
			continue
		}
		if q.color == "" {
			r.sendError(connID, protocol.CodeNoColorSelected, q.name+" has no color")
			return
		}
		if !q.ready {
			r.sendError(connID, protocol.CodePlayersNotReady, q.name+" is not ready")
			return
		}
		order = append(order, q.id)
	}
	if len(order) < r.opts.MinPlayers {
		r.sendError(connID, protocol.CodeNotEnoughPlayers, "not enough players")
		return
	}
	r.gameStarted = true
	r.turnOrder = order
	r.log.Info("game started", zap.Strings("turnOrder", order))
	r.broadcast(protocol.GameStarted{TurnOrder: append([]string(nil), order...), Settings: r.settings})
	r.broadcastLobby()
}

func sanitizeChat(text string) (string, bool) {
	clean := strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	clean = strings.TrimSpace(clean)
	n := utf8.RuneCountInString(clean)
	return clean, n >= 1 && n <= MaxChatLength
}

func (r *Room) chat(connID string, p *player, text string) {
	clean, ok := sanitizeChat(text)
	if !ok {
		r.sendError(connID, protocol.CodeInvalidChat, "chat messages must be 1-500 characters")
		return
	}
	r.broadcast(protocol.ChatBroadcast{
		From:      p.id,
		FromName:  p.name,
		FromColor: p.color,
		Text:      clean,
		Timestamp: time.Now().UnixMilli(),
	})
}

// forwardAction hands an action to the host. The player id comes from the socket's membership,
// never from the client.
func (r *Room) forwardAction(connID string, p *player, m protocol.GameAction) {
	if !r.requireGame(connID) {
		return
	}
	if r.hostID == "" {
		r.sendError(connID, protocol.CodeNoHost, "no host is running the game")
		return
	}
	m.PlayerID = p.id
	r.sendToPlayer(r.hostID, m)
}

func (r *Room) broadcastState(connID string, p *player, m protocol.GameState) {
	if !r.requireHost(connID, p) || !r.requireGame(connID) {
		return
	}
	r.broadcast(m)
}

func (r *Room) forwardResult(connID string, p *player, m protocol.ActionResult) {
	if !r.requireHost(connID, p) {
		return
	}
	if _, ok := r.players[m.PlayerID]; !ok {
		r.sendError(connID, protocol.CodeUnknownPlayer, "no such player")
		return
	}
	r.sendToPlayer(m.PlayerID, m)
}

// requestState asks the earliest-joined connected peer to send the host its latest snapshot.
func (r *Room) requestState(connID string, p *player) {
	if !r.requireHost(connID, p) || !r.requireGame(connID) {
		return
	}
	peer, ok := NextHost(r.candidates(), p.id)
	if !ok {
		r.sendError(connID, protocol.CodeNoPeerAvailable, "no peer can supply a snapshot")
		return
	}
	r.sendToPlayer(peer, protocol.StateRequest{RequesterID: p.id})
}

func (r *Room) forwardSync(connID string, p *player, m protocol.SyncState) {
	if !r.requireGame(connID) {
		return
	}
	if r.hostID == "" {
		r.sendError(connID, protocol.CodeNoHost, "no host to receive the snapshot")
		return
	}
	if r.hostID == p.id {
		return
	}
	m.FromPlayerID = p.id
	r.sendToPlayer(r.hostID, m)
}
