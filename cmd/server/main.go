package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/roster-chat/internal/config"
	apperrors "github.com/omochice/roster-chat/internal/errors"
	"github.com/omochice/roster-chat/internal/logging"
	"github.com/omochice/roster-chat/internal/server"
	"github.com/omochice/roster-chat/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to a TOML config file")
	port := flag.Int("port", -1, "Port to listen on for both TCP and WebSocket (overrides config)")
	bind := flag.String("bind", "", "Address to bind (overrides config)")
	operator := flag.String("operator", "", "Operator account name (overrides config)")
	journal := flag.String("journal", "", "Path to the presence journal database (overrides config)")
	noConsole := flag.Bool("no-console", false, "Do not read operator commands from stdin")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port >= 0 {
		cfg.Server.Port = *port
	}
	if *bind != "" {
		cfg.Server.BindAddress = *bind
	}
	if *operator != "" {
		cfg.Server.Operator = *operator
	}
	if *journal != "" {
		cfg.Journal.Path = *journal
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	code := run(cfg, log, !*noConsole)
	log.Sync()
	os.Exit(code)
}

func run(cfg config.Config, log *zap.Logger, console bool) int {
	var opts []server.Option
	if cfg.Server.Operator != "" {
		opts = append(opts, server.WithOperator(server.NewOperator(cfg.Server.Operator)))
	}
	if cfg.Journal.Path != "" {
		j, err := storage.Open(cfg.Journal.Path, log)
		if err != nil {
			log.Error("journal unavailable", zap.String("path", cfg.Journal.Path), zap.Error(err))
			return 1
		}
		defer j.Close()
		opts = append(opts, server.WithJournal(j))
	}

	srv := server.New(cfg, log, opts...)
	if err := srv.Listen(); err != nil {
		log.Error("cannot listen",
			zap.String("address", cfg.Server.Address()),
			zap.String("code", apperrors.GetCode(err)),
			zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve()
	}()

	consoleDone := make(chan error, 1)
	if console {
		go func() {
			consoleDone <- server.RunConsole(ctx, os.Stdin, os.Stdout, srv)
		}()
	}

	code := waitForStop(ctx, errChan, consoleDone, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	return code
}

// waitForStop blocks until Serve fails, ctx ends or the operator types quit.
// A console whose input ends is detached and the server keeps running.
func waitForStop(ctx context.Context, served <-chan error, console <-chan error, log *zap.Logger) int {
	for {
		select {
		case err := <-served:
			if err != nil {
				log.Error("server error", zap.Error(err))
				return 1
			}
			return 0
		case <-ctx.Done():
			log.Info("received signal, shutting down")
			return 0
		case err := <-console:
			if err == nil {
				log.Info("operator quit, shutting down")
				return 0
			}
			if errors.Is(err, server.ErrConsoleDetached) {
				log.Info("console detached, serving until signal")
			} else {
				log.Warn("console ended, serving until signal", zap.Error(err))
			}
			console = nil
		}
	}
}
