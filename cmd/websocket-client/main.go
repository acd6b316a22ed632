package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/omochice/roster-chat/internal/client"
	"github.com/omochice/roster-chat/internal/client/ws"
	"github.com/omochice/roster-chat/internal/config"
	"github.com/omochice/roster-chat/internal/logging"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:2019/ws", "WebSocket server URL")
	username := flag.String("username", "", "Account to register")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	keepalive := flag.Duration("keepalive", config.Default().Client.Keepalive, "Idle keepalive interval, 0 disables")
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Username is required. Use -username flag")
		os.Exit(1)
	}

	log, err := logging.New(config.LoggingConfig{Level: *logLevel, Encoding: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := client.New(*username, ws.New(*serverURL),
		client.WithLogger(log),
		client.WithKeepalive(*keepalive))
	if err := s.Connect(ctx); err != nil {
		log.Error("cannot go online", zap.String("url", *serverURL), zap.Error(err))
		return
	}
	defer s.Close(context.Background())

	if err := client.RunConsole(ctx, os.Stdin, os.Stdout, s); err != nil && ctx.Err() == nil {
		log.Warn("session ended", zap.Error(err))
	}
}
