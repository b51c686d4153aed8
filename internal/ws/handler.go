// Package ws attaches websocket connections to relay rooms. Each socket gets a writer
// goroutine draining the outbox the room owns, and a reader loop that decodes frames into
// room messages.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/room"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type Options struct {
	// OriginPatterns is passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
	// PingInterval drives websocket-level keepalive pings. Zero disables them.
	PingInterval time.Duration
	// ReadTimeout bounds the wait for the next frame.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	OutboxSize   int
	Logger       *zap.Logger
}

func (o *Options) defaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts.defaults()
	log := logging.OrNop(opts.Logger).Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		rm := h.Get(r.Context(), code)
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(opts.ReadLimit)

		connID := uuid.NewString()
		log := log.With(zap.String("room", rm.Code()), zap.String("conn", connID))
		out := make(chan protocol.ServerMessage, opts.OutboxSize)
		if !rm.Send(room.Attach{ConnID: connID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "room closed")
			return
		}
		defer rm.Send(room.Detach{ConnID: connID})

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. The room closes out when it drops this socket.
		go func() {
			defer cancel()
			for msg := range out {
				payload, err := protocol.EncodeServer(msg)
				if err != nil {
					log.Error("encode", zap.String("type", protocol.ServerTypeOf(msg)), zap.Error(err))
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
				err = conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
			conn.Close(websocket.StatusNormalClosure, "released by room")
		}()

		if opts.PingInterval > 0 {
			go keepalive(ctx, conn, opts.PingInterval, cancel)
		}

		// Reader loop
		for {
			rctx, rcancel := context.WithTimeout(ctx, opts.ReadTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("socket closed by peer")
				default:
					if !errors.Is(err, context.Canceled) {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			msg, err := protocol.DecodeClient(data)
			var next room.Msg = room.FromClient{ConnID: connID, Msg: msg}
			if err != nil {
				next = room.Malformed{ConnID: connID, Err: err}
			}
			if !rm.Send(next) {
				conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
		}
	}
}

func keepalive(ctx context.Context, conn *websocket.Conn, every time.Duration, fail context.CancelFunc) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				fail()
				return
			}
		}
	}
}
