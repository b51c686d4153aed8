package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DoyleJ11/settlers-relay/internal/config"
	"github.com/DoyleJ11/settlers-relay/internal/logging"
	"github.com/DoyleJ11/settlers-relay/internal/player"
	"github.com/DoyleJ11/settlers-relay/internal/roomcode"
	"github.com/DoyleJ11/settlers-relay/internal/session"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

func main() {
	code := flag.String("room", "", "room code to join")
	name := flag.String("name", "", "display name")
	flag.Parse()

	if err := run(roomcode.Normalize(*code), *name); err != nil {
		fmt.Fprintln(os.Stderr, "player:", err)
		os.Exit(1)
	}
}

func run(code, name string) error {
	if !roomcode.Valid(code) {
		return fmt.Errorf("invalid room code %q", code)
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	var store session.Store = session.NewMemoryStore()
	if cfg.SessionFile != "" {
		store = session.NewFileStore(cfg.SessionFile)
	}

	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return fmt.Errorf("RELAY_URL: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	p := player.New(player.Options{
		URL:               u.String(),
		RoomCode:          code,
		Name:              name,
		Store:             store,
		ActionTimeout:     cfg.ActionTimeout,
		SyncTimeout:       cfg.SyncTimeout,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		ReconnectAttempts: cfg.ReconnectAttempts,
		PingInterval:      cfg.PingInterval,
		OnMessage:         printMessage,
		Logger:            log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go readCommands(ctx, p, stop)
	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printMessage(m protocol.ServerMessage) {
	switch v := m.(type) {
	case protocol.ChatBroadcast:
		fmt.Printf("[%s] %s\n", v.FromName, v.Text)
	case protocol.Error:
		fmt.Printf("error %s: %s\n", v.Code, v.Message)
	case protocol.Pong, protocol.GameState, protocol.GameAction:
	default:
		data, _ := json.Marshal(v)
		fmt.Printf("%s %s\n", protocol.ServerTypeOf(m), data)
	}
}

func readCommands(ctx context.Context, p *player.Player, quit context.CancelFunc) {
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		if err := dispatch(ctx, p, fields, quit); err != nil {
			fmt.Println(err)
		}
	}
	quit()
}

func dispatch(ctx context.Context, p *player.Player, fields []string, quit context.CancelFunc) error {
	switch fields[0] {
	case "help":
		fmt.Println(help)
		return nil
	case "quit":
		quit()
		return nil
	case "color":
		if len(fields) < 2 {
			return fmt.Errorf("usage: color <%s>", strings.Join(protocol.Colors, "|"))
		}
		return p.SelectColor(fields[1])
	case "ready":
		return p.SetReady(true)
	case "unready":
		return p.SetReady(false)
	case "start":
		return p.StartGame()
	case "chat":
		return p.Chat(strings.Join(fields[1:], " "))
	case "leave":
		return p.Leave()
	case "state":
		s, ok := p.View(ctx)
		if !ok {
			return player.ErrNoGame
		}
		data, err := json.MarshalIndent(struct {
			Version int64  `json:"version"`
			Turn    string `json:"currentPlayerId"`
			Phase   string `json:"phase"`
			Hand    any    `json:"hand"`
			Offers  any    `json:"offers"`
		}{s.Version, s.CurrentPlayerID, string(s.Phase), s.Hands[p.PlayerID()], s.Trades.Active()}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	action, err := parseAction(fields)
	if err != nil {
		return err
	}
	id, done, err := p.Act(action)
	if err != nil {
		return err
	}
	go func() {
		if res := <-done; res.Err != nil {
			fmt.Printf("%s %s failed: %v\n", action.Type(), id[:8], res.Err)
		}
	}()
	return nil
}
