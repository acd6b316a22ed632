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
	"github.com/omochice/roster-chat/internal/client/tcp"
	"github.com/omochice/roster-chat/internal/client/ws"
	"github.com/omochice/roster-chat/internal/config"
	"github.com/omochice/roster-chat/internal/logging"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a TOML config file")
	serverAddr := flag.String("server", "", "Server address, e.g. localhost:2019 (overrides config)")
	username := flag.String("username", "", "Account to register (overrides config)")
	transport := flag.String("transport", "", `Transport, "tcp" or "ws" (overrides config)`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *username != "" {
		cfg.Client.Username = *username
	}
	if *transport != "" {
		cfg.Client.Transport = *transport
	}
	if cfg.Client.Username == "" {
		fmt.Fprintln(os.Stderr, "Username is required. Use -username flag")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var dialer client.Dialer
	switch {
	case cfg.Client.Transport == "ws" && *serverAddr != "":
		dialer = ws.New("ws://" + *serverAddr + "/ws")
	case cfg.Client.Transport == "ws":
		dialer = ws.New(cfg.Client.URL())
	case *serverAddr != "":
		dialer = tcp.New(*serverAddr)
	default:
		dialer = tcp.New(cfg.Client.Address())
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg.Client, dialer, log)
	log.Sync()
	os.Exit(code)
}

func run(cfg config.ClientConfig, dialer client.Dialer, log *zap.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := client.New(cfg.Username, dialer,
		client.WithLogger(log),
		client.WithHandshakeTimeout(cfg.HandshakeTimeout),
		client.WithKeepalive(cfg.Keepalive))
	if err := s.Connect(ctx); err != nil {
		log.Error("cannot go online", zap.String("address", dialer.Address()), zap.Error(err))
		return 1
	}
	defer s.Close(context.Background())

	if err := client.RunConsole(ctx, os.Stdin, os.Stdout, s); err != nil && ctx.Err() == nil {
		log.Warn("session ended", zap.Error(err))
		return 1
	}
	return 0
}
