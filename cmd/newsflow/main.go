package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"newsflow/internal/app"
	"newsflow/internal/config"
	"newsflow/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run one pipeline pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if *once {
		err = application.Run(ctx)
	} else {
		err = application.RunScheduled(ctx)
	}
	if err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
