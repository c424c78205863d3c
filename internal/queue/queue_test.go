package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/pipeline"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis, *config.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	return NewRedisClientFrom(rdb, cfg), mr, cfg
}

func TestProducerConsumerRoundTrip(t *testing.T) {
	rc, mr, cfg := newTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	termID := int64(7)
	if err := NewProducer(rc, cfg).EnqueueRunJob(ctx, model.RunJob{JobID: "j1", TermID: &termID}); err != nil {
		t.Fatalf("EnqueueRunJob: %v", err)
	}

	consumer := NewConsumer(rc, cfg)
	consumer.pollTimeout = 100 * time.Millisecond

	got := make(chan model.RunJob, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.ConsumeRunQueue(ctx, func(_ context.Context, data []byte) error {
			var job model.RunJob
			if err := json.Unmarshal(data, &job); err != nil {
				return err
			}
			got <- job
			return errors.New("handler failed")
		})
	}()

	select {
	case job := <-got:
		if job.JobID != "j1" || job.TermID == nil || *job.TermID != 7 {
			t.Fatalf("job: got=%+v", job)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for job")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		items, _ := mr.List(cfg.Redis.RunQueue + cfg.Redis.DLQSuffix)
		if len(items) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dlq: want=1 message got=%v", items)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("consume: want context.Canceled got=%v", err)
	}
}

func TestRunLockSerializesRuns(t *testing.T) {
	rc, mr, _ := newTestRedis(t)
	ctx := context.Background()

	lock := NewRunLock(rc, time.Minute)
	release, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := NewRunLock(rc, time.Minute).Acquire(ctx); !errors.Is(err, apperrors.ErrRunInProgress) {
		t.Fatalf("second Acquire: want ErrRunInProgress got=%v", err)
	}

	release()
	if mr.Exists("cbl:run:lock") {
		t.Fatalf("lock key still set after release")
	}

	again, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestRunLockReleaseKeepsForeignLock(t *testing.T) {
	rc, mr, _ := newTestRedis(t)
	lock := NewRunLock(rc, time.Minute)

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Expired and taken over by another process.
	mr.Set("cbl:run:lock", "someone-else")

	release()
	if v, _ := mr.Get("cbl:run:lock"); v != "someone-else" {
		t.Fatalf("foreign lock: got=%q", v)
	}
}

func TestJobTrackerReporter(t *testing.T) {
	rc, mr, _ := newTestRedis(t)
	ctx := context.Background()
	tracker := NewJobTracker(rc, time.Hour)

	if _, err := tracker.Create(ctx, "j1", model.JobKindSync, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ttl := mr.TTL("cbl:job:j1"); ttl != time.Hour {
		t.Fatalf("ttl: want=1h got=%v", ttl)
	}

	reporter := tracker.Reporter(ctx, "j1")
	reporter.Started()
	reporter.Progress(40, "Ingesting")

	job, err := tracker.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != model.JobStatusRunning || job.Progress != 40 || job.Message != "Ingesting" {
		t.Fatalf("running job: got=%+v", job)
	}

	reporter.Completed(&pipeline.RunReport{
		Status: pipeline.StatusCompletedWithErrors,
		Terms: []pipeline.TermReport{{
			TermID:         1,
			SkippedCourses: []model.CourseFailure{{CourseID: 5, Stage: "ingest"}},
		}},
	})
	job, _ = tracker.Get(ctx, "j1")
	if job.Status != model.JobStatusCompletedWithErrors || job.Progress != 100 || len(job.SkippedCourses) != 1 {
		t.Fatalf("completed job: got=%+v", job)
	}
	if !job.Status.Terminal() {
		t.Fatalf("status %s should be terminal", job.Status)
	}

	tracker.Reporter(ctx, "j2").Failed(apperrors.ErrRunInProgress)
	job, _ = tracker.Get(ctx, "j2")
	if job.Status != model.JobStatusFailed || job.Message != apperrors.ErrRunInProgress.Error() {
		t.Fatalf("failed job: got=%+v", job)
	}

	if _, err := tracker.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound got=%v", err)
	}
}

func TestDispatcherTracksAndEnqueues(t *testing.T) {
	rc, mr, cfg := newTestRedis(t)
	ctx := context.Background()
	dispatcher := NewDispatcher(NewProducer(rc, cfg), NewJobTracker(rc, time.Hour))

	termID := int64(3)
	job, err := dispatcher.DispatchRun(ctx, &termID)
	if err != nil {
		t.Fatalf("DispatchRun: %v", err)
	}
	if job.Status != model.JobStatusQueued || job.Kind != model.JobKindSync {
		t.Fatalf("job: got=%+v", job)
	}

	items, _ := mr.List(cfg.Redis.RunQueue)
	if len(items) != 1 {
		t.Fatalf("run queue: want=1 got=%d", len(items))
	}
	var run model.RunJob
	if err := json.Unmarshal([]byte(items[0]), &run); err != nil || run.JobID != job.ID || *run.TermID != 3 {
		t.Fatalf("queued run: got=%+v err=%v", run, err)
	}

	imp, err := dispatcher.DispatchRuleImport(ctx, "rules/2019.xlsx")
	if err != nil {
		t.Fatalf("DispatchRuleImport: %v", err)
	}
	stored, err := dispatcher.Get(ctx, imp.ID)
	if err != nil || stored.Kind != model.JobKindRuleImport {
		t.Fatalf("Get: got=%+v err=%v", stored, err)
	}
	if items, _ := mr.List(cfg.Redis.RuleImportQueue); len(items) != 1 {
		t.Fatalf("rule import queue: got=%v", items)
	}
}

func TestConsumerRequeuesOnShutdown(t *testing.T) {
	rc, mr, cfg := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer := NewProducer(rc, cfg)
	for _, id := range []string{"j1", "j2"} {
		if err := producer.EnqueueRunJob(ctx, model.RunJob{JobID: id}); err != nil {
			t.Fatalf("EnqueueRunJob: %v", err)
		}
	}

	consumer := NewConsumer(rc, cfg)
	consumer.pollTimeout = 100 * time.Millisecond

	started := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.ConsumeRunQueue(ctx, func(ctx context.Context, data []byte) error {
			var job model.RunJob
			_ = json.Unmarshal(data, &job)
			started <- job.JobID
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	var first string
	select {
	case first = <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for handler")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("consume: want context.Canceled got=%v", err)
	}

	if items, _ := mr.List(cfg.Redis.RunQueue + cfg.Redis.DLQSuffix); len(items) != 0 {
		t.Fatalf("dlq: want empty got=%v", items)
	}
	items, _ := mr.List(cfg.Redis.RunQueue)
	if len(items) != 2 {
		t.Fatalf("run queue: want=2 messages got=%v", items)
	}
	// The interrupted message is consumed next.
	var next model.RunJob
	if err := json.Unmarshal([]byte(items[len(items)-1]), &next); err != nil || next.JobID != first {
		t.Fatalf("next message: want=%s got=%+v err=%v", first, next, err)
	}
}
