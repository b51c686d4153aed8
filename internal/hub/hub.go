// Package hub is the relay's room registry. It creates rooms under fresh codes, hands them to
// the HTTP and websocket layers, and forgets them once they close.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/room"
	"github.com/DoyleJ11/settlers-relay/internal/roomcode"
)

// ErrNoFreeCode is returned when code generation keeps colliding with live rooms.
var ErrNoFreeCode = errors.New("hub: no free room code")

const maxCodeAttempts = 16

type HubMsg interface{ isHubMsg() }

type Created struct {
	Room *room.Room
	Err  error
}

type CreateRoom struct {
	Reply chan Created
}

// GetRoom replies with nil when no live room uses Code.
type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct {
	Code string
}

type Stats struct {
	Rooms   int
	Created int
	Closed  int
}

type GetStats struct {
	Reply chan Stats
}

// Sweep drops rooms that stopped without reporting back. The cron schedule posts it; tests may
// post it directly.
type Sweep struct {
	Reply chan int
}

type ShutdownHub struct{}

type roomClosed struct{ Code string }

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (GetStats) isHubMsg()    {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}
func (roomClosed) isHubMsg()  {}

type Options struct {
	Room room.Options
	// SweepSpec is a robfig/cron schedule such as "@every 1m". Empty disables the sweeper.
	SweepSpec string
	Logger    *zap.Logger
	// NewCode overrides roomcode.Generate in tests.
	NewCode func() (string, error)
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	opts  Options
	log   *zap.Logger
	cron  *cron.Cron
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, opts Options) (*Hub, error) {
	if opts.NewCode == nil {
		opts.NewCode = roomcode.Generate
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    logging.OrNop(opts.Logger).Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if opts.SweepSpec != "" {
		h.cron = cron.New()
		if _, err := h.cron.AddFunc(opts.SweepSpec, func() { h.post(Sweep{}) }); err != nil {
			cancel()
			return nil, err
		}
		h.cron.Start()
	}
	go h.loop()
	return h, nil
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) post(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Create is the request/reply form of CreateRoom.
func (h *Hub) Create(ctx context.Context) (*room.Room, error) {
	reply := make(chan Created, 1)
	if !h.post(CreateRoom{Reply: reply}) {
		return nil, context.Canceled
	}
	select {
	case c := <-reply:
		return c.Room, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get looks a room up by a code as typed by a player.
func (h *Hub) Get(ctx context.Context, code string) *room.Room {
	reply := make(chan *room.Room, 1)
	if !h.post(GetRoom{Code: code, Reply: reply}) {
		return nil
	}
	select {
	case rm := <-reply:
		return rm
	case <-ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				rm, err := h.create()
				msg.Reply <- Created{Room: rm, Err: err}

			case GetRoom:
				msg.Reply <- h.rooms[roomcode.Normalize(msg.Code)] // may be nil

			case RemoveRoom:
				code := roomcode.Normalize(msg.Code)
				if rm, ok := h.rooms[code]; ok {
					delete(h.rooms, code)
					go rm.Send(room.Shutdown{})
				}

			case roomClosed:
				if _, ok := h.rooms[msg.Code]; ok {
					delete(h.rooms, msg.Code)
					h.stats.Closed++
					h.log.Info("room closed", zap.String("room", msg.Code), zap.Int("rooms", len(h.rooms)))
				}

			case GetStats:
				s := h.stats
				s.Rooms = len(h.rooms)
				msg.Reply <- s

			case Sweep:
				n := h.sweep()
				if msg.Reply != nil {
					msg.Reply <- n
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create() (*room.Room, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := h.opts.NewCode()
		if err != nil {
			return nil, err
		}
		if _, taken := h.rooms[code]; taken {
			h.log.Debug("room code collision, regenerating", zap.String("room", code))
			continue
		}
		opts := h.opts.Room
		opts.Logger = h.log.Named("room")
		opts.OnClose = func(code string) { h.post(roomClosed{Code: code}) }
		rm := room.New(h.ctx, code, opts)
		h.rooms[code] = rm
		h.stats.Created++
		h.log.Info("room created", zap.String("room", code), zap.Int("rooms", len(h.rooms)))
		return rm, nil
	}
	return nil, ErrNoFreeCode
}

func (h *Hub) sweep() int {
	removed := 0
	for code, rm := range h.rooms {
		select {
		case <-rm.Done():
			delete(h.rooms, code)
			removed++
		default:
		}
	}
	h.log.Info("room sweep", zap.Int("removed", removed), zap.Int("rooms", len(h.rooms)))
	return removed
}

// shutdown stops every room through the shared context and waits for them to finish.
func (h *Hub) shutdown() {
	if h.cron != nil {
		h.cron.Stop()
	}
	h.cancel()
	deadline := time.After(5 * time.Second)
	for code, rm := range h.rooms {
		select {
		case <-rm.Done():
		case <-deadline:
			h.log.Warn("room did not stop in time", zap.String("room", code))
		}
	}
	clear(h.rooms)
}
