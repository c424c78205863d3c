package worker

import (
	"context"
	"encoding/json"

	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/pipeline"
	"github.com/mwcooley99/cbl-lti-app/internal/queue"

	"github.com/rs/zerolog"
)

type RunExecutor interface {
	Run(ctx context.Context, req model.RunRequest, reporter pipeline.Reporter) (*pipeline.RunReport, error)
}

// RunTracker mirrors run progress into the job record.
type RunTracker interface {
	JobUpdater
	Reporter(ctx context.Context, jobID string) pipeline.Reporter
}

// SyncWorker executes queued sync runs.
type SyncWorker struct {
	runner     RunExecutor
	tracker    RunTracker
	consumer   *queue.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewSyncWorker(runner RunExecutor, tracker RunTracker, consumer *queue.Consumer, workers int) *SyncWorker {
	return &SyncWorker{
		runner:     runner,
		tracker:    tracker,
		consumer:   consumer,
		workerPool: NewWorkerPool(workers),
		log:        logger.Component("sync-worker"),
	}
}

// Start consumes the run queue until ctx is cancelled and every in-flight run
// has returned.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting sync worker")

	err := w.workerPool.Run(ctx, func(ctx context.Context, _ int) error {
		return w.consumer.ConsumeRunQueue(ctx, w.handleMessage)
	})

	w.log.Info().Msg("Sync worker stopped")
	return err
}

// handleMessage runs the job inline. A returned error sends the message to
// the dead letter queue, or back to the run queue when ctx was cancelled.
func (w *SyncWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.RunJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal run job")
		return err
	}

	log := w.log.With().Str("job_id", job.JobID).Logger()
	if job.TermID != nil {
		log = log.With().Int64("term_id", *job.TermID).Logger()
	}
	log.Info().Time("requested_at", job.RequestedAt).Msg("Processing run job")

	jobCtx := context.WithoutCancel(ctx)
	report, err := w.runner.Run(ctx, model.RunRequest{TermID: job.TermID}, w.tracker.Reporter(jobCtx, job.JobID))
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("Run job interrupted by shutdown")
			requeueJob(jobCtx, w.tracker, job.JobID, log)
			return ctx.Err()
		}
		log.Error().Err(err).Msg("Run job failed")
		return err
	}

	log.Info().Str("status", string(report.Status)).Msg("Run job finished")
	return nil
}
