package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/google/uuid"
)

// Dispatcher creates a tracked job and enqueues it for a worker.
type Dispatcher struct {
	producer *Producer
	tracker  *JobTracker
	now      func() time.Time
}

func NewDispatcher(producer *Producer, tracker *JobTracker) *Dispatcher {
	return &Dispatcher{
		producer: producer,
		tracker:  tracker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) DispatchRun(ctx context.Context, termID *int64) (*model.Job, error) {
	job, err := d.tracker.Create(ctx, uuid.NewString(), model.JobKindSync, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	run := model.RunJob{JobID: job.ID, TermID: termID, RequestedAt: d.now()}
	if err := d.producer.EnqueueRunJob(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to enqueue run: %w", err)
	}
	return job, nil
}

func (d *Dispatcher) DispatchRuleImport(ctx context.Context, s3Path string) (*model.Job, error) {
	job, err := d.tracker.Create(ctx, uuid.NewString(), model.JobKindRuleImport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := d.producer.EnqueueRuleImportJob(ctx, model.RuleImportJob{JobID: job.ID, S3Path: s3Path}); err != nil {
		return nil, fmt.Errorf("failed to enqueue rule import: %w", err)
	}
	return job, nil
}

func (d *Dispatcher) Get(ctx context.Context, id string) (*model.Job, error) {
	return d.tracker.Get(ctx, id)
}
