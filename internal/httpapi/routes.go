// Package httpapi exposes the relay over HTTP: room creation and lookup, the websocket
// endpoint and a health check.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/ws"
)

func SetupRoutes(h *hub.Hub, wsOpts ws.Options, log *zap.Logger) http.Handler {
	log = logging.OrNop(log)
	if wsOpts.Logger == nil {
		wsOpts.Logger = log
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log.Named("http")))

	r.Post("/rooms", CreateRoom(h, log))
	r.Get("/rooms/{code}", GetRoom(h))
	r.Get("/healthz", Healthz(h))
	r.Get("/ws", ws.Handler(h, wsOpts))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		})
	}
}
