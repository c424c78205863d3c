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

	log.Info().Str("version", cfg.App.Version).Msg("Starting rules worker")

	a, err := app.New(cfg, app.Options{Redis: true, Storage: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	rulesWorker := worker.NewRulesWorker(a.Repo, a.Storage, a.Services.Tracker, a.Services.Consumer, cfg.Workers.RuleImport.Count)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- rulesWorker.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutting down rules worker...")
		cancel()
		// In-flight jobs finish or are requeued before Start returns.
		err = <-done
	case err = <-done:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Rules worker failed")
	}

	log.Info().Msg("Rules worker exited")
}
