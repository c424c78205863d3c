package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/pipeline"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// JobTracker stores job progress records as JSON with a TTL.
type JobTracker struct {
	redis *RedisClient
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

func NewJobTracker(redisClient *RedisClient, ttl time.Duration) *JobTracker {
	return &JobTracker{
		redis: redisClient,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Component("jobs"),
	}
}

func (t *JobTracker) key(id string) string {
	return t.redis.Key("job", id)
}

// Create stores a new job in QUEUED state.
func (t *JobTracker) Create(ctx context.Context, id string, kind model.JobKind, termID *int64) (*model.Job, error) {
	now := t.now()
	job := &model.Job{
		ID:        id,
		Kind:      kind,
		Status:    model.JobStatusQueued,
		TermID:    termID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (t *JobTracker) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := t.redis.Client().Get(ctx, t.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update applies fn to the stored job. A missing job is recreated so a
// worker can report on jobs enqueued without a tracker entry.
func (t *JobTracker) Update(ctx context.Context, id string, fn func(job *model.Job)) error {
	job, err := t.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		job = &model.Job{ID: id, CreatedAt: t.now()}
	} else if err != nil {
		return err
	}

	fn(job)
	job.UpdatedAt = t.now()
	return t.save(ctx, job)
}

func (t *JobTracker) save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.redis.Client().Set(ctx, t.key(job.ID), data, t.ttl).Err()
}

// Reporter returns a run reporter that mirrors progress into the job record.
func (t *JobTracker) Reporter(ctx context.Context, jobID string) pipeline.Reporter {
	return &jobReporter{
		ctx:     ctx,
		tracker: t,
		jobID:   jobID,
		log:     t.log.With().Str("job_id", jobID).Logger(),
	}
}

type jobReporter struct {
	ctx     context.Context
	tracker *JobTracker
	jobID   string
	log     zerolog.Logger
}

func (r *jobReporter) update(fn func(job *model.Job)) {
	if err := r.tracker.Update(r.ctx, r.jobID, fn); err != nil {
		r.log.Warn().Err(err).Msg("Failed to update job progress")
	}
}

func (r *jobReporter) Started() {
	r.update(func(job *model.Job) {
		if job.Kind == "" {
			job.Kind = model.JobKindSync
		}
		job.Status = model.JobStatusStarted
		job.Progress = 0
	})
}

func (r *jobReporter) Progress(pct int, msg string) {
	r.log.Info().Int("progress", pct).Msg(msg)
	r.update(func(job *model.Job) {
		job.Status = model.JobStatusRunning
		job.Progress = pct
		job.Message = msg
	})
}

func (r *jobReporter) Completed(report *pipeline.RunReport) {
	r.update(func(job *model.Job) {
		job.Status = model.JobStatusCompleted
		if report.Status != pipeline.StatusCompleted {
			job.Status = model.JobStatusCompletedWithErrors
		}
		job.Progress = 100
		job.Message = fmt.Sprintf("%d term(s) processed", len(report.Terms))
		job.SkippedCourses = report.SkippedCourses()
	})
}

func (r *jobReporter) Failed(err error) {
	r.update(func(job *model.Job) {
		job.Status = model.JobStatusFailed
		job.Message = err.Error()
	})
}
