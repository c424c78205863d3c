package main

import (
	"context"
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

	log.Info().Str("version", cfg.App.Version).Msg("Starting scheduler")

	a, err := app.New(cfg, app.Options{Redis: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	scheduler, err := worker.NewScheduleWorker(cfg.Workers.Schedule, a.Services.Dispatcher)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid schedule")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutting down scheduler...")
		cancel()
		err = <-done
	case err = <-done:
	}
	scheduler.Stop()
	if err != nil {
		log.Fatal().Err(err).Msg("Scheduler failed")
	}

	log.Info().Msg("Scheduler exited")
}
