package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"anemometer-server/internal/app"
	"anemometer-server/internal/config"
	"anemometer-server/internal/logging"
)

const appName = "anemometer-server"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = app.Run(ctx, cfg, logger)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		_ = logCloser.Close()
		os.Exit(1)
	}

	slog.Info("shutting down")
	_ = logCloser.Close()
}
