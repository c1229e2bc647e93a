package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oddsline/platform/internal/realtime"
)

// livetail connects to the realtime endpoint and prints every delta for the
// given match IDs, or the full in-play stream when none are given.
func main() {
	url := flag.String("url", "ws://localhost:3100/api/ws", "realtime endpoint")
	token := flag.String("token", os.Getenv("LIVETAIL_TOKEN"), "connection token (or LIVETAIL_TOKEN)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(*url, *token, flag.Args(), logger); err != nil {
		fmt.Fprintln(os.Stderr, "livetail:", err)
		os.Exit(1)
	}
}

func run(url, token string, matchIDs []string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := realtime.NewConnManager(realtime.ClientConfig{
		URL:    url,
		Token:  token,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Connect(ctx); err != nil {
		return err
	}

	for _, id := range matchIDs {
		if err := mgr.Subscribe(id); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	if len(matchIDs) == 0 {
		if err := mgr.RequestInplay(); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-mgr.Done():
			return err
		case msg, ok := <-mgr.Updates():
			if !ok {
				return nil
			}
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
	}
}
