package protocol

import "fmt"

var Colors = []string{"red", "blue", "white", "orange", "green", "brown"}

func ValidColor(c string) bool {
	for _, known := range Colors {
		if known == c {
			return true
		}
	}
	return false
}

// Settings are the host-editable game options. The relay stores and broadcasts them but never
// interprets them; the host seeds its rules engine from them at game start.
type Settings struct {
	VictoryPoints  int   `json:"victoryPoints"`
	DiscardLimit   int   `json:"discardLimit"`
	TradeTimeoutMs int64 `json:"tradeTimeoutMs"`
}

func DefaultSettings() Settings {
	return Settings{VictoryPoints: 10, DiscardLimit: 7, TradeTimeoutMs: 60_000}
}

func (s Settings) Validate() error {
	if s.VictoryPoints < 3 || s.VictoryPoints > 20 {
		return fmt.Errorf("victoryPoints must be within 3..20, got %d", s.VictoryPoints)
	}
	if s.DiscardLimit < 5 || s.DiscardLimit > 20 {
		return fmt.Errorf("discardLimit must be within 5..20, got %d", s.DiscardLimit)
	}
	if s.TradeTimeoutMs < 5_000 || s.TradeTimeoutMs > 300_000 {
		return fmt.Errorf("tradeTimeoutMs must be within 5000..300000, got %d", s.TradeTimeoutMs)
	}
	return nil
}

// LobbyPlayer is the public view of a room member. The session token is never part of it.
type LobbyPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Connected bool   `json:"isConnected"`
	Ready     bool   `json:"isReady"`
	JoinOrder int    `json:"joinOrder"`
	LastSeen  int64  `json:"lastSeen"`
}

type Lobby struct {
	RoomCode     string        `json:"roomCode"`
	HostID       string        `json:"hostId,omitempty"`
	Players      []LobbyPlayer `json:"players"` // sorted by join order
	GameStarted  bool          `json:"gameStarted"`
	TurnOrder    []string      `json:"turnOrder,omitempty"`
	Settings     Settings      `json:"settings"`
	CreatedAt    int64         `json:"createdAt"`
	LastActivity int64         `json:"lastActivity"`
}
