// Package conn keeps a player client connected to the relay: it dials, reconnects with
// exponential backoff, sends keepalive pings and hands decoded frames to the caller.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

var ErrNotConnected = errors.New("conn: not connected")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Transport is one established connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

type Options struct {
	URL          string
	Dialer       Dialer
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PingInterval time.Duration
	WriteTimeout time.Duration
	// OnConnect runs after every successful dial, once Send works.
	OnConnect func(ctx context.Context)
	Logger    *zap.Logger
}

type Manager struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	state State
	tr    Transport
	rtt   time.Duration

	incoming  chan protocol.ServerMessage
	states    chan State
	reconnect chan struct{}
}

func New(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	return &Manager{
		opts:      opts,
		log:       logging.OrNop(opts.Logger).Named("conn"),
		state:     StateDisconnected,
		incoming:  make(chan protocol.ServerMessage, 256),
		states:    make(chan State, 16),
		reconnect: make(chan struct{}, 1),
	}
}

// Backoff returns min(base*2^attempt, max).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (m *Manager) Incoming() <-chan protocol.ServerMessage { return m.incoming }

// States reports transitions. Updates are dropped when the reader falls behind; State is
// always current.
func (m *Manager) States() <-chan State { return m.states }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RTT is the round trip measured by the latest PING/PONG pair.
func (m *Manager) RTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtt
}

// Reconnect restarts dialing after the manager gave up.
func (m *Manager) Reconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.log.Debug("state", zap.String("state", string(s)))
	select {
	case m.states <- s:
	default:
	}
}

func (m *Manager) setTransport(tr Transport) {
	m.mu.Lock()
	m.tr = tr
	m.mu.Unlock()
}

// Send encodes msg and writes it on the current connection.
func (m *Manager) Send(msg protocol.ClientMessage) error {
	m.mu.Lock()
	tr := m.tr
	m.mu.Unlock()
	if tr == nil {
		return ErrNotConnected
	}
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	return tr.Write(ctx, data)
}

// Run dials and redials until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected)
	var delay time.Duration
	attempt := 0
	first := true
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if first {
			m.setState(StateConnecting)
		} else {
			m.setState(StateReconnecting)
		}

		tr, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			m.log.Info("dial failed", zap.Int("attempt", attempt), zap.Error(err))
			if attempt >= m.opts.MaxAttempts {
				m.setState(StateFailed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-m.reconnect:
				}
				attempt, delay, first = 0, 0, true
				continue
			}
			delay = Backoff(m.opts.BaseDelay, m.opts.MaxDelay, attempt-1)
			first = false
			continue
		}

		attempt, first = 0, false
		err = m.serve(ctx, tr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Info("connection lost", zap.Error(err))
		delay = m.opts.BaseDelay
	}
}

func (m *Manager) serve(ctx context.Context, tr Transport) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		m.setTransport(nil)
		tr.Close()
	}()

	m.setTransport(tr)
	m.setState(StateConnected)
	if m.opts.OnConnect != nil {
		m.opts.OnConnect(sctx)
	}
	if m.opts.PingInterval > 0 {
		go m.keepalive(sctx)
	}

	for {
		data, err := tr.Read(sctx)
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			m.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		if pong, ok := msg.(protocol.Pong); ok && pong.Timestamp > 0 {
			m.mu.Lock()
			m.rtt = time.Since(time.UnixMilli(pong.Timestamp))
			m.mu.Unlock()
		}
		select {
		case m.incoming <- msg:
		case <-sctx.Done():
			return sctx.Err()
		}
	}
}

func (m *Manager) keepalive(ctx context.Context) {
	t := time.NewTicker(m.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Send(protocol.Ping{Timestamp: time.Now().UnixMilli()}); err != nil {
				m.log.Debug("ping failed", zap.Error(err))
			}
		}
	}
}
