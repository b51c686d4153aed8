// Package config reads relay and player settings from the environment. A .env file in the
// working directory is loaded first when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Relay struct {
	Addr             string
	RoomExpiration   time.Duration
	ReconnectTimeout time.Duration
	MinPlayers       int
	MaxPlayers       int
	PingInterval     time.Duration
	SweepSpec        string
	AllowedOrigins   []string
	LogLevel         string
	LogDev           bool
}

type Client struct {
	RelayURL          string
	SessionFile       string
	ActionTimeout     time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	PingInterval      time.Duration
	SyncTimeout       time.Duration
	LogLevel          string
	LogDev            bool
}

func DefaultRelay() Relay {
	return Relay{
		Addr:             ":8080",
		RoomExpiration:   30 * time.Minute,
		ReconnectTimeout: 30 * time.Second,
		MinPlayers:       2,
		MaxPlayers:       6,
		PingInterval:     25 * time.Second,
		SweepSpec:        "@every 1m",
		LogLevel:         "info",
	}
}

func DefaultClient() Client {
	return Client{
		RelayURL:          "ws://localhost:8080/ws",
		SessionFile:       "",
		ActionTimeout:     5 * time.Second,
		ReconnectBase:     500 * time.Millisecond,
		ReconnectMax:      10 * time.Second,
		ReconnectAttempts: 8,
		PingInterval:      25 * time.Second,
		SyncTimeout:       2 * time.Second,
		LogLevel:          "info",
	}
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadRelay() (Relay, error) {
	if err := loadDotenv(); err != nil {
		return Relay{}, err
	}
	c := DefaultRelay()
	r := reader{}
	r.str("RELAY_ADDR", &c.Addr)
	r.duration("ROOM_EXPIRATION", &c.RoomExpiration)
	r.duration("RECONNECT_TIMEOUT", &c.ReconnectTimeout)
	r.integer("MIN_PLAYERS", &c.MinPlayers)
	r.integer("MAX_PLAYERS", &c.MaxPlayers)
	r.duration("PING_INTERVAL", &c.PingInterval)
	r.str("ROOM_SWEEP_SPEC", &c.SweepSpec)
	r.list("ALLOWED_ORIGINS", &c.AllowedOrigins)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.boolean("LOG_DEV", &c.LogDev)
	if r.err != nil {
		return Relay{}, r.err
	}
	return c, c.Validate()
}

func (c Relay) Validate() error {
	if c.MinPlayers < 2 {
		return fmt.Errorf("MIN_PLAYERS must be at least 2, got %d", c.MinPlayers)
	}
	if c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("MAX_PLAYERS (%d) must not be below MIN_PLAYERS (%d)", c.MaxPlayers, c.MinPlayers)
	}
	if c.RoomExpiration <= 0 || c.ReconnectTimeout <= 0 || c.PingInterval <= 0 {
		return errors.New("ROOM_EXPIRATION, RECONNECT_TIMEOUT and PING_INTERVAL must be positive")
	}
	return nil
}

func LoadClient() (Client, error) {
	if err := loadDotenv(); err != nil {
		return Client{}, err
	}
	c := DefaultClient()
	r := reader{}
	r.str("RELAY_URL", &c.RelayURL)
	r.str("SESSION_FILE", &c.SessionFile)
	r.duration("ACTION_TIMEOUT", &c.ActionTimeout)
	r.duration("RECONNECT_BASE", &c.ReconnectBase)
	r.duration("RECONNECT_MAX", &c.ReconnectMax)
	r.integer("RECONNECT_ATTEMPTS", &c.ReconnectAttempts)
	r.duration("PING_INTERVAL", &c.PingInterval)
	r.duration("SYNC_TIMEOUT", &c.SyncTimeout)
	r.str("LOG_LEVEL", &c.LogLevel)
	r.boolean("LOG_DEV", &c.LogDev)
	if r.err != nil {
		return Client{}, r.err
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return Client{}, errors.New("RECONNECT_BASE must be positive and not above RECONNECT_MAX")
	}
	if c.ReconnectAttempts < 1 {
		return Client{}, fmt.Errorf("RECONNECT_ATTEMPTS must be at least 1, got %d", c.ReconnectAttempts)
	}
	return c, nil
}

// reader keeps the first parse error so loaders can read every key before checking.
type reader struct{ err error }

func (r *reader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (r *reader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		*dst = v
	}
}

func (r *reader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = d
}

func (r *reader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *reader) boolean(key string, dst *bool) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = b
}

func (r *reader) list(key string, dst *[]string) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
