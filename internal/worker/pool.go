package worker

import (
	"context"
	"errors"

	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a fixed number of consumer loops. A loop keeps the message
// it popped until its handler returns, so no job waits in process memory.
type WorkerPool struct {
	workerCount int
	log         zerolog.Logger
}

func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
		log:         logger.Component("pool"),
	}
}

// Run blocks until every loop has returned. Cancelling ctx is a clean stop;
// any other loop error stops the remaining loops and is returned.
func (wp *WorkerPool) Run(ctx context.Context, loop func(ctx context.Context, id int) error) error {
	wp.log.Info().Int("worker_count", wp.workerCount).Msg("Starting worker pool")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < wp.workerCount; i++ {
		id := i
		g.Go(func() error {
			log := wp.log.With().Int("worker_id", id).Logger()
			log.Debug().Msg("Worker started")

			err := loop(gctx, id)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Worker stopped with error")
				return err
			}
			log.Debug().Msg("Worker stopping due to context cancellation")
			return err
		})
	}

	err := g.Wait()
	wp.log.Info().Msg("Worker pool stopped")
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// requeueJob puts a tracked job back to QUEUED after its message was
// returned to the queue on shutdown.
func requeueJob(ctx context.Context, jobs JobUpdater, jobID string, log zerolog.Logger) {
	err := jobs.Update(ctx, jobID, func(job *model.Job) {
		job.Status = model.JobStatusQueued
		job.Progress = 0
		job.Message = "Requeued after shutdown"
	})
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to mark job requeued")
	}
}
