package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/weintegritywork/weintegrity-ppm/internal/app"
	"github.com/weintegritywork/weintegrity-ppm/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)
	if cfg.GeneratedSecret {
		logger.Warn("TRACKER_JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}
	if cfg.Debug {
		logger.Warn("debug mode: the dev seed endpoint is enabled and reset codes are logged")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
