package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/excel"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/queue"
	"github.com/mwcooley99/cbl-lti-app/internal/storage"

	"github.com/rs/zerolog"
)

type JobUpdater interface {
	Update(ctx context.Context, id string, fn func(job *model.Job)) error
}

// RulesWorker replaces the grade rule table from uploaded rule sheets.
type RulesWorker struct {
	repo       db.Repository
	storage    storage.Storage
	parser     excel.ParsingStrategy
	jobs       JobUpdater
	consumer   *queue.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewRulesWorker(
	repo db.Repository,
	store storage.Storage,
	jobs JobUpdater,
	consumer *queue.Consumer,
	workers int,
) *RulesWorker {
	return &RulesWorker{
		repo:       repo,
		storage:    store,
		parser:     excel.NewExcelStrategy(),
		jobs:       jobs,
		consumer:   consumer,
		workerPool: NewWorkerPool(workers),
		log:        logger.Component("rules-worker"),
	}
}

func (w *RulesWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting rules worker")

	err := w.workerPool.Run(ctx, func(ctx context.Context, _ int) error {
		return w.consumer.ConsumeRuleImportQueue(ctx, w.handleMessage)
	})

	w.log.Info().Msg("Rules worker stopped")
	return err
}

func (w *RulesWorker) handleMessage(ctx context.Context, data []byte) error {
	var job model.RuleImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.log.Error().Err(err).Msg("Failed to unmarshal rule import job")
		return err
	}

	w.log.Info().Str("job_id", job.JobID).Str("s3_path", job.S3Path).Msg("Processing rule import job")

	return w.processFile(ctx, job)
}

func (w *RulesWorker) processFile(ctx context.Context, job model.RuleImportJob) error {
	log := w.log.With().Str("job_id", job.JobID).Logger()
	jobCtx := context.WithoutCancel(ctx)
	w.setStatus(jobCtx, job.JobID, model.JobStatusRunning, "Importing grade rules")

	rules, err := w.load(ctx, job.S3Path)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("Rule import interrupted by shutdown")
			requeueJob(jobCtx, w.jobs, job.JobID, log)
			return ctx.Err()
		}
		log.Error().Err(err).Msg("Rule import failed")
		w.setStatus(jobCtx, job.JobID, model.JobStatusFailed, err.Error())
		return err
	}

	log.Info().Int("rule_count", len(rules)).Msg("Grade rules imported")
	w.setStatus(jobCtx, job.JobID, model.JobStatusCompleted, fmt.Sprintf("%d grade rules imported", len(rules)))
	return nil
}

func (w *RulesWorker) load(ctx context.Context, key string) ([]model.GradeRule, error) {
	reader, err := w.storage.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	rules, err := w.parser.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := w.parser.Validate(ctx, rules); err != nil {
		return nil, err
	}

	if err := w.repo.ReplaceGradeRules(ctx, rules); err != nil {
		return nil, fmt.Errorf("failed to store grade rules: %w", err)
	}
	return rules, nil
}

func (w *RulesWorker) setStatus(ctx context.Context, jobID string, status model.JobStatus, msg string) {
	err := w.jobs.Update(ctx, jobID, func(job *model.Job) {
		job.Status = status
		job.Message = msg
		if status.Terminal() {
			job.Progress = 100
		}
	})
	if err != nil {
		w.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to update job status")
	}
}
