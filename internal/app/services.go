package app

import (
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/canvas"
	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/excel"
	"github.com/mwcooley99/cbl-lti-app/internal/grading"
	"github.com/mwcooley99/cbl-lti-app/internal/ingest"
	"github.com/mwcooley99/cbl-lti-app/internal/pipeline"
	"github.com/mwcooley99/cbl-lti-app/internal/pull"
	"github.com/mwcooley99/cbl-lti-app/internal/queue"
	"github.com/mwcooley99/cbl-lti-app/internal/roster"
	"github.com/mwcooley99/cbl-lti-app/internal/storage"
	"github.com/mwcooley99/cbl-lti-app/internal/term"
)

type Services struct {
	Registry *term.Registry
	Engine   *grading.Engine
	// Runner is nil unless the Canvas pipeline was requested.
	Runner *pipeline.Runner
	// The fields below are nil without Redis.
	Tracker    *queue.JobTracker
	Dispatcher *queue.Dispatcher
	Consumer   *queue.Consumer
}

func wireServices(cfg *config.Config, repo db.Repository, rc *queue.RedisClient, store storage.Storage, withCanvas bool) (Services, error) {
	s := Services{
		Registry: term.NewRegistry(repo, cfg.Canvas.DefaultTermID),
		Engine:   grading.NewEngine(repo),
	}

	if rc != nil {
		s.Tracker = queue.NewJobTracker(rc, cfg.Redis.JobTTL)
		s.Dispatcher = queue.NewDispatcher(queue.NewProducer(rc, cfg), s.Tracker)
		s.Consumer = queue.NewConsumer(rc, cfg)
	}

	if !withCanvas {
		return s, nil
	}

	client, err := canvas.NewClient(cfg)
	if err != nil {
		return Services{}, fmt.Errorf("init canvas client: %w", err)
	}
	filter, err := pull.NewCourseFilter(cfg.Courses.ExcludePatterns)
	if err != nil {
		return Services{}, fmt.Errorf("invalid course exclude pattern: %w", err)
	}

	stages := pipeline.Stages{
		Catalog: pull.NewService(repo, client, s.Registry, filter),
		Roster:  roster.NewSynchronizer(repo, client, cfg.Workers.CourseConcurrency),
		Ingest: ingest.NewIngestor(repo, client, ingest.Options{
			Concurrency:    cfg.Workers.CourseConcurrency,
			FilterByRoster: cfg.Canvas.FilterByRoster,
		}),
		Grade: s.Engine,
	}
	if cfg.Storage.ExportRecords && store != nil {
		stages.Exporter = excel.NewExporter(repo, store, cfg.Storage.ExportPrefix)
	}
	if rc != nil {
		stages.Locker = queue.NewRunLock(rc, cfg.Redis.LockTTL)
	}

	s.Runner = pipeline.NewRunner(repo, s.Registry, stages)
	return s, nil
}
