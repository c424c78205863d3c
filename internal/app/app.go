package app

import (
	"context"
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/grading"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/queue"
	"github.com/mwcooley99/cbl-lti-app/internal/storage"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options selects the optional backends a binary needs.
type Options struct {
	// Redis enables the run lock, job tracking and queues.
	Redis bool
	// Storage enables S3 for rule sheets and record exports.
	Storage bool
	// Canvas wires the sync pipeline. The API server does not need it.
	Canvas bool
}

type App struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Repo     db.Repository
	Redis    *queue.RedisClient
	Storage  storage.Storage
	Services Services
	log      zerolog.Logger
}

func New(cfg *config.Config, opts Options) (*App, error) {
	log := logger.Component("app")

	database, err := db.NewConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a := &App{
		Cfg:  cfg,
		DB:   database,
		Repo: db.NewRepository(database),
		log:  log,
	}

	if opts.Redis {
		a.Redis, err = queue.NewRedisClient(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}

	if opts.Storage || cfg.Storage.ExportRecords {
		s3, err := storage.NewS3Storage(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init storage: %w", err)
		}
		a.Storage = s3
	}

	a.Services, err = wireServices(cfg, a.Repo, a.Redis, a.Storage, opts.Canvas)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Migrate applies the schema and seeds the configured grade rules into an
// empty rule table.
func (a *App) Migrate(ctx context.Context) error {
	if err := db.Migrate(a.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	seeded, err := grading.SeedRules(ctx, a.Repo, DefaultRules(a.Cfg))
	if err != nil {
		return err
	}
	if seeded {
		a.log.Info().Int("rule_count", len(a.Cfg.Grading.DefaultRules)).Msg("Seeded default grade rules")
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close redis")
		}
	}
	if a.DB != nil {
		if err := db.Close(a.DB); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// DefaultRules converts the configured rule table to its stored form.
func DefaultRules(cfg *config.Config) []model.GradeRule {
	rules := make([]model.GradeRule, len(cfg.Grading.DefaultRules))
	for i, r := range cfg.Grading.DefaultRules {
		rules[i] = model.GradeRule{Rank: r.Rank, Grade: r.Grade, Threshold: r.Threshold, MinScore: r.MinScore}
	}
	return rules
}
