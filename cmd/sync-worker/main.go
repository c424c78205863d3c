package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwcooley99/cbl-lti-app/internal/app"
	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting sync worker")

	a, err := app.New(cfg, app.Options{Redis: true, Canvas: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	syncWorker := worker.NewSyncWorker(a.Services.Runner, a.Services.Tracker, a.Services.Consumer, cfg.Workers.Sync.Count)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- syncWorker.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutting down sync worker...")
		cancel()
		// In-flight jobs finish or are requeued before Start returns.
		err = <-done
	case err = <-done:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Sync worker failed")
	}

	log.Info().Msg("Sync worker exited")
}
