package protocol

// Code is the machine-readable reason carried by ERROR messages.
type Code string

const (
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeUnknownMessageType Code = "UNKNOWN_MESSAGE_TYPE"

	CodeNotHost         Code = "NOT_HOST"
	CodeNotJoined       Code = "NOT_JOINED"
	CodeNoColorSelected Code = "NO_COLOR_SELECTED"
	CodeAlreadyJoined   Code = "ALREADY_JOINED"

	CodeRoomFull         Code = "ROOM_FULL"
	CodeGameInProgress   Code = "GAME_IN_PROGRESS"
	CodeGameNotStarted   Code = "GAME_NOT_STARTED"
	CodeRoomExpired      Code = "ROOM_EXPIRED"
	CodeInvalidSession   Code = "INVALID_SESSION"
	CodeSessionReplaced  Code = "SESSION_REPLACED"
	CodeNoHost           Code = "NO_HOST"
	CodeNoPeerAvailable  Code = "NO_PEER_AVAILABLE"
	CodeNotEnoughPlayers Code = "NOT_ENOUGH_PLAYERS"
	CodePlayersNotReady  Code = "PLAYERS_NOT_READY"
	CodeUnknownPlayer    Code = "UNKNOWN_PLAYER"

	CodeInvalidName     Code = "INVALID_NAME"
	CodeInvalidColor    Code = "INVALID_COLOR"
	CodeColorTaken      Code = "COLOR_TAKEN"
	CodeInvalidSettings Code = "INVALID_SETTINGS"
	CodeInvalidChat     Code = "INVALID_CHAT"
)
