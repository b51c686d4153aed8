package session

import (
	"errors"
	"time"
)

// TTL is how long a saved seat stays resumable.
const TTL = 24 * time.Hour

const (
	keyToken      = "session_token"
	keyPlayerID   = "player_id"
	keyRoomCode   = "room_code"
	keyPlayerName = "player_name"
)

type Session struct {
	Token      string
	PlayerID   string
	RoomCode   string
	PlayerName string
}

func Save(st Store, s Session) error {
	return errors.Join(
		st.Set(keyToken, s.Token, TTL),
		st.Set(keyPlayerID, s.PlayerID, TTL),
		st.Set(keyRoomCode, s.RoomCode, TTL),
		st.Set(keyPlayerName, s.PlayerName, TTL),
	)
}

// Load reports ok only when both the token and the room code are still live.
func Load(st Store) (Session, bool, error) {
	var s Session
	var ok bool
	var errs []error
	get := func(key string, dst *string) bool {
		v, found, err := st.Get(key)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
		return found
	}
	ok = get(keyToken, &s.Token)
	ok = get(keyRoomCode, &s.RoomCode) && ok
	get(keyPlayerID, &s.PlayerID)
	get(keyPlayerName, &s.PlayerName)
	if err := errors.Join(errs...); err != nil {
		return Session{}, false, err
	}
	if !ok {
		return Session{}, false, nil
	}
	return s, true, nil
}

func Clear(st Store) error {
	return errors.Join(
		st.Delete(keyToken),
		st.Delete(keyPlayerID),
		st.Delete(keyRoomCode),
		st.Delete(keyPlayerName),
	)
}
