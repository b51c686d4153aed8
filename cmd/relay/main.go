package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/config"
	"github.com/DoyleJ11/settlers-relay/internal/httpapi"
	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/room"
	"github.com/DoyleJ11/settlers-relay/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.NewHub(ctx, hub.Options{
		Room: room.Options{
			ReconnectTimeout: cfg.ReconnectTimeout,
			Expiration:       cfg.RoomExpiration,
			MinPlayers:       cfg.MinPlayers,
			MaxPlayers:       cfg.MaxPlayers,
		},
		SweepSpec: cfg.SweepSpec,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("hub: %w", err)
	}

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, ws.Options{
		OriginPatterns: cfg.AllowedOrigins,
		PingInterval:   cfg.PingInterval,
		ReadTimeout:    3 * cfg.PingInterval,
		Logger:         log,
	}, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case h.Inbox() <- hub.ShutdownHub{}:
	case <-h.Done():
	}
	<-h.Done()
	return srv.Shutdown(shutdownCtx)
}
