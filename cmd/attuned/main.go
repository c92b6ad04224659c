// Command attuned runs the inference serving core: persistent model workers,
// the turn orchestrator, and the admin endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attunehq/attune/internal/app"
	"github.com/attunehq/attune/internal/config"
)

// Exit codes: 0 clean shutdown, 1 configuration or runtime failure, 2 all
// workers unavailable at startup.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUnavailable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables complete the defaults)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "attuned: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "attuned: %v\n", err)
		}
		return exitFailure
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("attuned starting",
		"config", *configPath,
		"admin_addr", cfg.Server.AdminAddr,
		"log_level", cfg.Server.LogLevel,
		"respond_chain", cfg.Respond.Chain,
		"device", cfg.Workers.Device,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitFailure
	}

	slog.Info("serving core ready")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		if errors.Is(err, app.ErrWorkersUnavailable) {
			return exitUnavailable
		}
		return exitFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return exitFailure
	}
	slog.Info("goodbye")
	return exitOK
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
