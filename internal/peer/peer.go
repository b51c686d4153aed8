// Package peer is the non-host half of the action pipeline. It sends actions to the host,
// tracks them until the host answers, accepts authoritative snapshots in version order and
// offers an optimistic view with pending actions folded in.
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

var (
	ErrActionTimeout    = errors.New("peer: no answer from host")
	ErrHostDisconnected = errors.New("peer: host disconnected before answering")
	ErrClosed           = errors.New("peer: closed")
)

// RejectedError carries the host's reason for refusing an action.
type RejectedError struct {
	ActionType string
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.ActionType, e.Reason)
}

// Result is delivered once per sent action. Err is nil when the host accepted it.
type Result struct {
	ActionID string
	Err      error
}

// Transport carries actions towards the host.
type Transport interface {
	SendAction(a protocol.GameAction) error
}

// Pending is an action waiting for the host.
type Pending struct {
	ID     string
	Action engine.Action
	SentAt time.Time

	orphaned bool
	timer    *time.Timer
	done     chan Result
}

type Options struct {
	Timeout   time.Duration
	Predictor Predictor
	Logger    *zap.Logger
}

type Msg interface{ isPeerMsg() }

type sendMsg struct{ p *Pending }
type resultMsg struct{ r protocol.ActionResult }
type snapshotMsg struct {
	s     engine.State
	reply chan bool
}
type hostMigrated struct{}
type pendingTimeout struct{ id string }
type query struct{ reply chan Status }

func (sendMsg) isPeerMsg()        {}
func (resultMsg) isPeerMsg()      {}
func (snapshotMsg) isPeerMsg()    {}
func (hostMigrated) isPeerMsg()   {}
func (pendingTimeout) isPeerMsg() {}
func (query) isPeerMsg()          {}

// Status is a copy of the client's bookkeeping.
type Status struct {
	Authoritative engine.State
	HasState      bool
	LastApplied   int64
	View          engine.State
	Pending       int
	Desyncs       int
}

type Client struct {
	playerID  string
	transport Transport
	predictor Predictor
	timeout   time.Duration
	log       *zap.Logger
	inbox     chan Msg

	state    engine.State
	hasState bool
	pending  []*Pending
	desyncs  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, playerID string, tr Transport, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Predictor == nil {
		opts.Predictor = NoPrediction{}
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Client{
		playerID:  playerID,
		transport: tr,
		predictor: opts.Predictor,
		timeout:   opts.Timeout,
		log:       logging.OrNop(opts.Logger).Named("peer").With(zap.String("player", playerID)),
		inbox:     make(chan Msg, 256),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Client) post(m Msg) bool {
	select {
	case c.inbox <- m:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Send queues a for the host. The returned channel yields exactly one Result.
func (c *Client) Send(a engine.Action) (string, <-chan Result) {
	p := &Pending{
		ID:     uuid.NewString(),
		Action: a,
		SentAt: time.Now(),
		done:   make(chan Result, 1),
	}
	if !c.post(sendMsg{p: p}) {
		p.done <- Result{ActionID: p.ID, Err: ErrClosed}
		close(p.done)
	}
	return p.ID, p.done
}

func (c *Client) HandleResult(r protocol.ActionResult) { c.post(resultMsg{r: r}) }

// ApplySnapshot offers a broadcast state and reports whether it was newer than the last one.
func (c *Client) ApplySnapshot(s engine.State) bool {
	reply := make(chan bool, 1)
	if !c.post(snapshotMsg{s: s, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-c.done:
		return false
	}
}

// HostMigrated marks everything in flight as sent to a host that is gone.
func (c *Client) HostMigrated() { c.post(hostMigrated{}) }

func (c *Client) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !c.post(query{reply: reply}) {
		return Status{}, ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// View is the authoritative state with pending actions predicted on top. It is computed on
// every call and never stored.
func (c *Client) View(ctx context.Context) (engine.State, bool) {
	st, err := c.Status(ctx)
	if err != nil || !st.HasState {
		return engine.State{}, false
	}
	return st.View, true
}

func (c *Client) Authoritative(ctx context.Context) (engine.State, bool) {
	st, err := c.Status(ctx)
	if err != nil || !st.HasState {
		return engine.State{}, false
	}
	return st.Authoritative, true
}

func (c *Client) LastAppliedVersion(ctx context.Context) int64 {
	st, _ := c.Status(ctx)
	return st.LastApplied
}

// Close fails every pending action with ErrClosed and stops the client.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

func (c *Client) loop() {
	defer close(c.done)
	defer func() {
		for len(c.pending) > 0 {
			c.resolve(c.pending[0], ErrClosed)
		}
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-c.inbox:
			switch msg := m.(type) {
			case sendMsg:
				c.send(msg.p)
			case resultMsg:
				c.result(msg.r)
			case snapshotMsg:
				msg.reply <- c.snapshot(msg.s)
			case hostMigrated:
				for _, p := range c.pending {
					p.orphaned = true
				}
			case pendingTimeout:
				if p := c.find(msg.id); p != nil {
					err := ErrActionTimeout
					if p.orphaned {
						err = ErrHostDisconnected
					}
					c.log.Debug("pending action timed out", zap.String("actionId", p.ID), zap.Error(err))
					c.resolve(p, err)
				}
			case query:
				msg.reply <- c.status()
			}
		}
	}
}

func (c *Client) send(p *Pending) {
	raw, err := engine.EncodeAction(p.Action)
	if err == nil {
		err = c.transport.SendAction(protocol.GameAction{PlayerID: c.playerID, ActionID: p.ID, Action: raw})
	}
	c.pending = append(c.pending, p)
	if err != nil {
		c.resolve(p, err)
		return
	}
	id := p.ID
	p.timer = time.AfterFunc(c.timeout, func() { c.post(pendingTimeout{id: id}) })
}

// result matches by action id. Only a result without an id falls back to the oldest pending
// action of the same type; an unknown id was already resolved by its snapshot.
func (c *Client) result(r protocol.ActionResult) {
	var p *Pending
	if r.ActionID != "" {
		p = c.find(r.ActionID)
	} else {
		p = c.oldest(engine.ActionType(r.ActionType))
	}
	if p == nil {
		return
	}
	if r.Success {
		c.resolve(p, nil)
		return
	}
	c.resolve(p, &RejectedError{ActionType: r.ActionType, Reason: r.Error})
}

func (c *Client) snapshot(s engine.State) bool {
	if c.hasState && s.Version <= c.state.Version {
		c.log.Debug("stale snapshot dropped", zap.Int64("version", s.Version), zap.Int64("have", c.state.Version))
		return false
	}

	var match *Pending
	if ref := s.LastAction; ref != nil && (ref.PlayerID == "" || ref.PlayerID == c.playerID) {
		if ref.ID != "" {
			match = c.find(ref.ID)
		} else {
			match = c.oldest(ref.Type)
		}
	}
	if match != nil && c.hasState && s.Version == c.state.Version+1 {
		predicted, ok := c.predictor.Predict(c.state, c.playerID, match.Action)
		if ok && (predicted.Phase != s.Phase || predicted.CurrentPlayerID != s.CurrentPlayerID) {
			c.desyncs++
			c.log.Warn("prediction diverged from host",
				zap.Int64("version", s.Version),
				zap.String("predictedPhase", string(predicted.Phase)),
				zap.String("phase", string(s.Phase)),
				zap.Int("desyncs", c.desyncs),
			)
		}
	}

	c.state = s.Clone()
	c.hasState = true
	if match != nil {
		c.resolve(match, nil)
	}
	return true
}

func (c *Client) status() Status {
	st := Status{
		HasState: c.hasState,
		Pending:  len(c.pending),
		Desyncs:  c.desyncs,
	}
	if !c.hasState {
		return st
	}
	st.Authoritative = c.state.Clone()
	st.LastApplied = c.state.Version
	view := c.state.Clone()
	for _, p := range c.pending {
		if next, ok := c.predictor.Predict(view, c.playerID, p.Action); ok {
			view = next
		}
	}
	st.View = view
	return st
}

func (c *Client) find(id string) *Pending {
	if id == "" {
		return nil
	}
	for _, p := range c.pending {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (c *Client) oldest(t engine.ActionType) *Pending {
	for _, p := range c.pending {
		if p.Action.Type() == t {
			return p
		}
	}
	return nil
}

func (c *Client) resolve(p *Pending, err error) {
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- Result{ActionID: p.ID, Err: err}
	close(p.done)
}
