package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"uplinkdash/telemetry-server/internal/app"
	"uplinkdash/telemetry-server/internal/config"
	"uplinkdash/telemetry-server/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped cleanly")
}
