// Package authority runs the host side of a game: one goroutine owns the authoritative state
// and feeds every command, including the host's own and its trade timers, through
// validate, apply, version bump and broadcast, strictly one at a time.
package authority

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

var (
	ErrClosed    = errors.New("authority: closed")
	ErrQueueFull = errors.New("authority: command queue full")
)

// Sink receives the authority's output. Calls happen on the authority goroutine and must not
// call back into the authority.
type Sink interface {
	BroadcastState(s engine.State) error
	SendResult(r protocol.ActionResult) error
}

// graced is implemented by rules that keep resolved trades around for a while.
type graced interface {
	GracePeriod() time.Duration
}

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// Paused starts the authority holding commands until Resume.
	Paused    bool
	InboxSize int
}

type Msg interface{ isAuthorityMsg() }

type submit struct{ cmd engine.Command }
type resend struct{}
type resume struct{ seed *engine.State }
type getState struct{ reply chan engine.State }
type timerFired struct{ gen int }

func (submit) isAuthorityMsg()     {}
func (resend) isAuthorityMsg()     {}
func (resume) isAuthorityMsg()     {}
func (getState) isAuthorityMsg()   {}
func (timerFired) isAuthorityMsg() {}

type Authority struct {
	rules engine.Rules
	state engine.State
	sink  Sink
	log   *zap.Logger
	now   func() time.Time
	grace time.Duration
	inbox chan Msg

	paused   bool
	buffered []engine.Command

	timer    *time.Timer
	timerGen int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, rules engine.Rules, initial engine.State, sink Sink, opts Options) *Authority {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	ctx, cancel := context.WithCancel(parent)
	a := &Authority{
		rules:  rules,
		state:  initial.Clone(),
		sink:   sink,
		log:    logging.OrNop(opts.Logger).Named("authority"),
		now:    opts.Now,
		grace:  3 * time.Second,
		inbox:  make(chan Msg, opts.InboxSize),
		paused: opts.Paused,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if g, ok := rules.(graced); ok {
		a.grace = g.GracePeriod()
	}
	go a.loop()
	return a
}

// Submit queues cmd without blocking.
func (a *Authority) Submit(cmd engine.Command) error {
	select {
	case <-a.done:
		return ErrClosed
	default:
	}
	select {
	case a.inbox <- submit{cmd: cmd}:
		return nil
	case <-a.done:
		return ErrClosed
	default:
		a.log.Warn("dropping command, queue full", zap.String("player", cmd.PlayerID), zap.String("actionId", cmd.ActionID))
		return ErrQueueFull
	}
}

// Resend broadcasts the current snapshot again, e.g. after a peer reconnects.
func (a *Authority) Resend() { a.post(resend{}) }

// Resume releases a paused authority. A seed newer than the current state replaces it first.
func (a *Authority) Resume(seed *engine.State) { a.post(resume{seed: seed}) }

// Snapshot returns a copy of the authoritative state.
func (a *Authority) Snapshot(ctx context.Context) (engine.State, error) {
	reply := make(chan engine.State, 1)
	if !a.post(getState{reply: reply}) {
		return engine.State{}, ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-a.done:
		return engine.State{}, ErrClosed
	case <-ctx.Done():
		return engine.State{}, ctx.Err()
	}
}

// Close stops the authority and waits for its goroutine.
func (a *Authority) Close() {
	a.cancel()
	<-a.done
}

func (a *Authority) Done() <-chan struct{} { return a.done }

func (a *Authority) post(m Msg) bool {
	select {
	case a.inbox <- m:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *Authority) loop() {
	defer close(a.done)
	defer func() {
		if a.timer != nil {
			a.timer.Stop()
		}
	}()
	if !a.paused {
		a.schedule()
	}
	for {
		select {
		case <-a.ctx.Done():
			return
		case m := <-a.inbox:
			switch msg := m.(type) {
			case submit:
				if a.paused {
					a.buffered = append(a.buffered, msg.cmd)
					break
				}
				a.process(msg.cmd)

			case resend:
				if !a.paused {
					a.broadcast()
				}

			case resume:
				a.resume(msg.seed)

			case getState:
				msg.reply <- a.state.Clone()

			case timerFired:
				if msg.gen != a.timerGen || a.paused {
					break // stale timer
				}
				a.runTimers()
			}
		}
	}
}

func (a *Authority) resume(seed *engine.State) {
	if seed != nil && seed.Version > a.state.Version {
		a.log.Info("adopting synced state", zap.Int64("from", a.state.Version), zap.Int64("to", seed.Version))
		a.state = seed.Clone()
	}
	a.paused = false
	a.broadcast()
	queued := a.buffered
	a.buffered = nil
	for _, cmd := range queued {
		a.process(cmd)
	}
	a.schedule()
}

// process runs one command through the pipeline. Exactly one version bump per accepted
// command; rejections only reach the submitting player.
func (a *Authority) process(cmd engine.Command) bool {
	cmd.At = a.now().UnixMilli()
	if cmd.Action == nil {
		a.reject(cmd, "", engine.ErrUnsupportedAction)
		return false
	}
	typ := cmd.Action.Type()
	if engine.TurnScoped(typ) && cmd.PlayerID != a.state.CurrentPlayerID {
		a.reject(cmd, typ, engine.ErrWrongTurn)
		return false
	}
	if err := a.rules.Validate(a.state, cmd); err != nil {
		a.reject(cmd, typ, err)
		return false
	}
	events, next, err := a.rules.Apply(a.state, cmd)
	if err != nil {
		a.reject(cmd, typ, err)
		return false
	}
	next.Version = a.state.Version + 1
	a.state = next
	a.log.Debug("applied",
		zap.String("type", string(typ)),
		zap.String("player", cmd.PlayerID),
		zap.Int64("version", next.Version),
		zap.Int("events", len(events)),
	)
	a.broadcast()
	if cmd.PlayerID != "" {
		a.result(protocol.ActionResult{
			PlayerID:   cmd.PlayerID,
			ActionID:   cmd.ActionID,
			ActionType: string(typ),
			Success:    true,
		})
	}
	a.schedule()
	return true
}

func (a *Authority) reject(cmd engine.Command, typ engine.ActionType, err error) {
	if cmd.PlayerID == "" {
		a.log.Debug("system action skipped", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	a.log.Debug("rejected", zap.String("type", string(typ)), zap.String("player", cmd.PlayerID), zap.Error(err))
	a.result(protocol.ActionResult{
		PlayerID:   cmd.PlayerID,
		ActionID:   cmd.ActionID,
		ActionType: string(typ),
		Success:    false,
		Error:      err.Error(),
	})
}

func (a *Authority) broadcast() {
	if err := a.sink.BroadcastState(a.state.Clone()); err != nil {
		a.log.Warn("broadcast failed", zap.Int64("version", a.state.Version), zap.Error(err))
	}
}

func (a *Authority) result(r protocol.ActionResult) {
	if err := a.sink.SendResult(r); err != nil {
		a.log.Warn("result not delivered", zap.String("player", r.PlayerID), zap.Error(err))
	}
}

// runTimers turns due trade deadlines and elapsed grace periods into system commands.
func (a *Authority) runTimers() {
	now := a.now().UnixMilli()
	due, applied := 0, 0
	for _, o := range a.state.Trades.Offers {
		if o.Pending() && o.Deadline() <= now {
			due++
			if a.process(engine.Command{Action: engine.ExpireTrade{OfferID: o.ID}}) {
				applied++
			}
		}
	}
	if a.state.Trades.Prunable(a.now().UnixMilli(), a.grace.Milliseconds()) > 0 {
		due++
		if a.process(engine.Command{Action: engine.PruneTrades{}}) {
			applied++
		}
	}
	if due > 0 && applied == 0 {
		// nothing will change until the next accepted command reschedules
		a.log.Warn("trade timers refused by rules", zap.Int("due", due), zap.String("phase", string(a.state.Phase)))
		a.stopTimer()
		return
	}
	a.schedule()
}

func (a *Authority) stopTimer() {
	a.timerGen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Authority) schedule() {
	a.stopTimer()
	at, ok := a.state.Trades.NextEvent(a.grace.Milliseconds())
	if !ok {
		return
	}
	delay := time.Duration(at-a.now().UnixMilli()) * time.Millisecond
	if delay < 10*time.Millisecond {
		delay = 10 * time.Millisecond
	}
	gen := a.timerGen
	a.timer = time.AfterFunc(delay, func() { a.post(timerFired{gen: gen}) })
}
