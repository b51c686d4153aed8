package protocol

import (
	"encoding/json"
	"fmt"
)

type ClientType string

const (
	TypeJoinRoom       ClientType = "JOIN_ROOM"
	TypeReconnect      ClientType = "RECONNECT"
	TypeSelectColor    ClientType = "SELECT_COLOR"
	TypeMarkReady      ClientType = "MARK_READY"
	TypeUnmarkReady    ClientType = "UNMARK_READY"
	TypeUpdateSettings ClientType = "UPDATE_SETTINGS"
	TypeStartGame      ClientType = "START_GAME"
	TypeChatMessage    ClientType = "CHAT_MESSAGE"
	TypeLeaveRoom      ClientType = "LEAVE_ROOM"
	TypePing           ClientType = "PING"
	TypeRequestState   ClientType = "REQUEST_STATE"
)

type ServerType string

const (
	TypeWelcome            ServerType = "WELCOME"
	TypeLobbyState         ServerType = "LOBBY_STATE"
	TypeChatBroadcast      ServerType = "CHAT_BROADCAST"
	TypePlayerConnected    ServerType = "PLAYER_CONNECTED"
	TypePlayerDisconnected ServerType = "PLAYER_DISCONNECTED"
	TypeHostMigrated       ServerType = "HOST_MIGRATED"
	TypeGameStarted        ServerType = "GAME_STARTED"
	TypeError              ServerType = "ERROR"
	TypePong               ServerType = "PONG"
	TypeStateRequest       ServerType = "STATE_REQUEST"
)

// Kinds that travel in both directions with the same shape.
const (
	TypeGameAction   = "GAME_ACTION"
	TypeGameState    = "GAME_STATE"
	TypeActionResult = "ACTION_RESULT"
	TypeSyncState    = "SYNC_STATE"
)

// ClientMessage is the closed set of messages a player client sends to the relay.
type ClientMessage interface{ clientType() string }

// ServerMessage is the closed set of messages the relay sends to a player client.
type ServerMessage interface{ serverType() string }

// Client -> Relay

type JoinRoom struct {
	PlayerName   string `json:"playerName"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type Reconnect struct {
	SessionToken string `json:"sessionToken"`
}

type SelectColor struct {
	Color string `json:"color"`
}

type MarkReady struct{}
type UnmarkReady struct{}

type UpdateSettings struct {
	Settings Settings `json:"settings"`
}

type StartGame struct{}

type ChatMessage struct {
	Text string `json:"text"`
}

type LeaveRoom struct{}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// RequestState is sent by a host that needs a fresher snapshot than its own cache.
type RequestState struct{}

// Both directions.

// GameAction carries an opaque rules-engine action. PlayerID is stamped by the relay; any value
// a client puts there is overwritten.
type GameAction struct {
	PlayerID string          `json:"playerId,omitempty"`
	ActionID string          `json:"actionId,omitempty"`
	Action   json.RawMessage `json:"action"`
}

type GameState struct {
	Version int64           `json:"version"`
	State   json.RawMessage `json:"state"`
}

// ActionResult is addressed by the host to PlayerID; the relay forwards it to that player only.
type ActionResult struct {
	PlayerID   string `json:"playerId"`
	ActionID   string `json:"actionId,omitempty"`
	ActionType string `json:"actionType"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// SyncState answers a STATE_REQUEST. FromPlayerID is stamped by the relay.
type SyncState struct {
	FromPlayerID string          `json:"fromPlayerId,omitempty"`
	Version      int64           `json:"version"`
	State        json.RawMessage `json:"state"`
}

// Relay -> Client

type Welcome struct {
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
	RoomCode     string `json:"roomCode"`
	IsHost       bool   `json:"isHost"`
}

type LobbyState struct {
	State Lobby `json:"state"`
}

type ChatBroadcast struct {
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	FromColor string `json:"fromColor,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type PlayerConnected struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type PlayerDisconnected struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	// Permanent is set when the player left or their reconnect window elapsed.
	Permanent bool `json:"permanent,omitempty"`
}

type HostMigrated struct {
	NewHostID   string `json:"newHostId,omitempty"`
	NewHostName string `json:"newHostName,omitempty"`
}

type GameStarted struct {
	TurnOrder []string `json:"turnOrder"`
	Settings  Settings `json:"settings"`
}

type Error struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

type StateRequest struct {
	RequesterID string `json:"requesterId"`
}

func (JoinRoom) clientType() string       { return string(TypeJoinRoom) }
func (Reconnect) clientType() string      { return string(TypeReconnect) }
func (SelectColor) clientType() string    { return string(TypeSelectColor) }
func (MarkReady) clientType() string      { return string(TypeMarkReady) }
func (UnmarkReady) clientType() string    { return string(TypeUnmarkReady) }
func (UpdateSettings) clientType() string { return string(TypeUpdateSettings) }
func (StartGame) clientType() string      { return string(TypeStartGame) }
func (ChatMessage) clientType() string    { return string(TypeChatMessage) }
func (LeaveRoom) clientType() string      { return string(TypeLeaveRoom) }
func (Ping) clientType() string           { return string(TypePing) }
func (RequestState) clientType() string   { return string(TypeRequestState) }
func (GameAction) clientType() string     { return TypeGameAction }
func (GameState) clientType() string      { return TypeGameState }
func (ActionResult) clientType() string   { return TypeActionResult }
func (SyncState) clientType() string      { return TypeSyncState }

func (Welcome) serverType() string            { return string(TypeWelcome) }
func (LobbyState) serverType() string         { return string(TypeLobbyState) }
func (ChatBroadcast) serverType() string      { return string(TypeChatBroadcast) }
func (PlayerConnected) serverType() string    { return string(TypePlayerConnected) }
func (PlayerDisconnected) serverType() string { return string(TypePlayerDisconnected) }
func (HostMigrated) serverType() string       { return string(TypeHostMigrated) }
func (GameStarted) serverType() string        { return string(TypeGameStarted) }
func (Error) serverType() string              { return string(TypeError) }
func (Pong) serverType() string               { return string(TypePong) }
func (StateRequest) serverType() string       { return string(TypeStateRequest) }
func (GameAction) serverType() string         { return TypeGameAction }
func (GameState) serverType() string          { return TypeGameState }
func (ActionResult) serverType() string       { return TypeActionResult }
func (SyncState) serverType() string          { return TypeSyncState }

// ClientTypeOf returns the discriminant of m.
func ClientTypeOf(m ClientMessage) string { return m.clientType() }

// ServerTypeOf returns the discriminant of m.
func ServerTypeOf(m ServerMessage) string { return m.serverType() }

func EncodeClient(m ClientMessage) ([]byte, error) { return Tag(m.clientType(), m) }

func EncodeServer(m ServerMessage) ([]byte, error) { return Tag(m.serverType(), m) }

// DecodeClient parses a client message. Errors wrap ErrInvalidMessage or ErrUnknownType.
func DecodeClient(data []byte) (ClientMessage, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case string(TypeJoinRoom):
		return decodeClient[JoinRoom](data)
	case string(TypeReconnect):
		return decodeClient[Reconnect](data)
	case string(TypeSelectColor):
		return decodeClient[SelectColor](data)
	case string(TypeMarkReady):
		return MarkReady{}, nil
	case string(TypeUnmarkReady):
		return UnmarkReady{}, nil
	case string(TypeUpdateSettings):
		return decodeClient[UpdateSettings](data)
	case string(TypeStartGame):
		return StartGame{}, nil
	case string(TypeChatMessage):
		return decodeClient[ChatMessage](data)
	case string(TypeLeaveRoom):
		return LeaveRoom{}, nil
	case string(TypePing):
		return decodeClient[Ping](data)
	case string(TypeRequestState):
		return RequestState{}, nil
	case TypeGameAction:
		return decodeClient[GameAction](data)
	case TypeGameState:
		return decodeClient[GameState](data)
	case TypeActionResult:
		return decodeClient[ActionResult](data)
	case TypeSyncState:
		return decodeClient[SyncState](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// DecodeServer parses a relay message. Errors wrap ErrInvalidMessage or ErrUnknownType.
func DecodeServer(data []byte) (ServerMessage, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case string(TypeWelcome):
		return decodeServer[Welcome](data)
	case string(TypeLobbyState):
		return decodeServer[LobbyState](data)
	case string(TypeChatBroadcast):
		return decodeServer[ChatBroadcast](data)
	case string(TypePlayerConnected):
		return decodeServer[PlayerConnected](data)
	case string(TypePlayerDisconnected):
		return decodeServer[PlayerDisconnected](data)
	case string(TypeHostMigrated):
		return decodeServer[HostMigrated](data)
	case string(TypeGameStarted):
		return decodeServer[GameStarted](data)
	case string(TypeError):
		return decodeServer[Error](data)
	case string(TypePong):
		return decodeServer[Pong](data)
	case string(TypeStateRequest):
		return decodeServer[StateRequest](data)
	case TypeGameAction:
		return decodeServer[GameAction](data)
	case TypeGameState:
		return decodeServer[GameState](data)
	case TypeActionResult:
		return decodeServer[ActionResult](data)
	case TypeSyncState:
		return decodeServer[SyncState](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

func decodeClient[T ClientMessage](data []byte) (ClientMessage, error) {
	var v T
	if err := decodeInto(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeServer[T ServerMessage](data []byte) (ServerMessage, error) {
	var v T
	if err := decodeInto(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
