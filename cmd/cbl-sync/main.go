// Command cbl-sync runs the grade pipeline once in the foreground. Cron hosts
// and operators use it instead of the queue-driven workers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwcooley99/cbl-lti-app/internal/app"
	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/excel"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/pipeline"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	rootFlags := flag.NewFlagSet("cbl-sync", flag.ExitOnError)
	configPath := rootFlags.String("config", "", "path to the YAML config file (overrides CONFIG_PATH)")

	runFlags := flag.NewFlagSet("cbl-sync run", flag.ExitOnError)
	runTerm := runFlags.Int64("term", 0, "only sync this term id (default: every sync-enabled term)")
	runLock := runFlags.Bool("lock", true, "take the Redis run lock so queued runs cannot overlap")

	exportFlags := flag.NewFlagSet("cbl-sync export", flag.ExitOnError)
	exportTerm := exportFlags.Int64("term", 0, "term id whose latest record is exported")

	load := func() (*config.Config, error) {
		if *configPath != "" {
			if err := os.Setenv("CONFIG_PATH", *configPath); err != nil {
				return nil, err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		return cfg, nil
	}

	run := &ffcli.Command{
		Name:       "run",
		ShortUsage: "cbl-sync run [-term N] [-lock=false]",
		ShortHelp:  "Refresh rosters and results from Canvas and recompute grades",
		FlagSet:    runFlags,
		Options:    []ff.Option{ff.WithEnvVarPrefix("CBL_RUN")},
		Exec: func(ctx context.Context, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			var termID *int64
			if *runTerm > 0 {
				termID = runTerm
			}
			return runOnce(ctx, cfg, termID, *runLock)
		},
	}

	migrate := &ffcli.Command{
		Name:       "migrate",
		ShortUsage: "cbl-sync migrate",
		ShortHelp:  "Apply the schema and seed default grade rules",
		Exec: func(ctx context.Context, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Migrate(ctx)
		},
	}

	export := &ffcli.Command{
		Name:       "export",
		ShortUsage: "cbl-sync export -term N",
		ShortHelp:  "Upload the latest record of a term as a workbook",
		FlagSet:    exportFlags,
		Exec: func(ctx context.Context, _ []string) error {
			if *exportTerm <= 0 {
				return errors.New("-term is required")
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			return exportLatest(ctx, cfg, *exportTerm)
		},
	}

	root := &ffcli.Command{
		ShortUsage:  "cbl-sync [-config path] <subcommand> [flags]",
		FlagSet:     rootFlags,
		Options:     []ff.Option{ff.WithEnvVarPrefix("CBL")},
		Subcommands: []*ffcli.Command{run, migrate, export},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "cbl-sync: %v\n", err)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, termID *int64, lock bool) error {
	a, err := app.New(cfg, app.Options{Redis: lock, Canvas: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		return err
	}

	report, err := a.Services.Runner.Run(ctx, model.RunRequest{TermID: termID}, pipeline.NewLogReporter())
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}

func exportLatest(ctx context.Context, cfg *config.Config, termID int64) error {
	a, err := app.New(cfg, app.Options{Storage: true})
	if err != nil {
		return err
	}
	defer a.Close()

	term, err := a.Repo.GetTerm(ctx, termID)
	if err != nil {
		return err
	}
	record, err := a.Repo.LatestRecord(ctx, termID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("term %d has no grades yet", termID)
	}

	key, err := excel.NewExporter(a.Repo, a.Storage, cfg.Storage.ExportPrefix).ExportRecord(ctx, *term, record)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
