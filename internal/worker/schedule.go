package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type RunDispatcher interface {
	DispatchRun(ctx context.Context, termID *int64) (*model.Job, error)
}

// ScheduleWorker enqueues a full sync run on a cron schedule.
type ScheduleWorker struct {
	schedule   string
	runOnStart bool
	dispatcher RunDispatcher
	cron       *cron.Cron
	log        zerolog.Logger
}

func NewScheduleWorker(cfg config.ScheduleWorkerConfig, dispatcher RunDispatcher) (*ScheduleWorker, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Cron, err)
	}

	return &ScheduleWorker{
		schedule:   cfg.Cron,
		runOnStart: cfg.RunOnStart,
		dispatcher: dispatcher,
		cron:       cron.New(cron.WithLocation(loc)),
		log:        logger.Component("scheduler"),
	}, nil
}

func (w *ScheduleWorker) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.schedule, func() { w.trigger(ctx) }); err != nil {
		return err
	}

	w.log.Info().Str("schedule", w.schedule).Msg("Starting scheduler")
	if w.runOnStart {
		w.trigger(ctx)
	}

	w.cron.Start()
	<-ctx.Done()
	return nil
}

func (w *ScheduleWorker) Stop() {
	w.log.Info().Msg("Stopping scheduler")
	<-w.cron.Stop().Done()
}

func (w *ScheduleWorker) trigger(ctx context.Context) {
	job, err := w.dispatcher.DispatchRun(ctx, nil)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to enqueue scheduled run")
		return
	}
	w.log.Info().Str("job_id", job.ID).Msg("Scheduled run enqueued")
}
