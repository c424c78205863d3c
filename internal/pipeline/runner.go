package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/grading"
	"github.com/mwcooley99/cbl-lti-app/internal/ingest"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/roster"
	"github.com/mwcooley99/cbl-lti-app/internal/term"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/rs/zerolog"
)

// Catalog refreshes terms, users and courses from the LMS.
type Catalog interface {
	PullTerms(ctx context.Context) (int, error)
	PullUsers(ctx context.Context) (int, error)
	PullCourses(ctx context.Context, termID int64) (int, error)
}

type RosterStage interface {
	SyncTerm(ctx context.Context, termID int64, courses []model.Course) (*roster.Result, error)
}

type IngestStage interface {
	IngestTerm(ctx context.Context, termID int64, courses []model.Course) (*ingest.Result, error)
}

type GradeStage interface {
	Rules(ctx context.Context) ([]model.GradeRule, error)
	GradeTerm(ctx context.Context, term model.Term) (*grading.Summary, error)
}

// Exporter publishes a graded record somewhere outside the database.
type Exporter interface {
	ExportRecord(ctx context.Context, term model.Term, record *model.Record) (string, error)
}

// Locker serializes runs. Acquire fails with ErrRunInProgress when another
// run holds the lock.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type Stages struct {
	Catalog  Catalog
	Roster   RosterStage
	Ingest   IngestStage
	Grade    GradeStage
	Exporter Exporter
	Locker   Locker
}

type Runner struct {
	repo     db.Repository
	registry *term.Registry
	stages   Stages
	now      func() time.Time
	log      zerolog.Logger
}

func NewRunner(repo db.Repository, registry *term.Registry, stages Stages) *Runner {
	return &Runner{
		repo:     repo,
		registry: registry,
		stages:   stages,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Component("pipeline"),
	}
}

// Run refreshes and grades every sync-enabled term, or only req.TermID when
// set. Term failures are isolated in the report; the returned error is
// non-nil only when the run aborted.
func (r *Runner) Run(ctx context.Context, req model.RunRequest, reporter Reporter) (*RunReport, error) {
	if reporter == nil {
		reporter = NewLogReporter()
	}

	report := &RunReport{StartedAt: r.now()}
	abort := func(err error) (*RunReport, error) {
		report.Error = err.Error()
		report.FinishedAt = r.now()
		report.settle()
		reporter.Failed(err)
		return report, err
	}

	if r.stages.Locker != nil {
		release, err := r.stages.Locker.Acquire(ctx)
		if err != nil {
			return abort(err)
		}
		defer release()
	}

	reporter.Started()

	if _, err := r.stages.Grade.Rules(ctx); err != nil {
		return abort(err)
	}

	reporter.Progress(2, "Refreshing terms and users")
	if _, err := r.stages.Catalog.PullTerms(ctx); err != nil {
		if apperrors.IsFatal(err) || ctx.Err() != nil {
			return abort(err)
		}
		r.log.Warn().Err(err).Msg("Term refresh failed, using stored terms")
		report.Warnings = append(report.Warnings, fmt.Sprintf("term refresh: %v", err))
	}
	if _, err := r.stages.Catalog.PullUsers(ctx); err != nil {
		if apperrors.IsFatal(err) || ctx.Err() != nil {
			return abort(err)
		}
		r.log.Warn().Err(err).Msg("User refresh failed, using stored users")
		report.Warnings = append(report.Warnings, fmt.Sprintf("user refresh: %v", err))
	}

	terms, err := r.selectTerms(ctx, req.TermID)
	if err != nil {
		return abort(err)
	}
	if len(terms) == 0 {
		r.log.Warn().Msg("No sync-enabled terms")
	}

	const start, span = 5, 95
	for i, t := range terms {
		lo := start + span*i/len(terms)
		hi := start + span*(i+1)/len(terms)

		tr, err := r.runTerm(ctx, t, func(frac int, msg string) {
			reporter.Progress(lo+(hi-lo)*frac/100, msg)
		})
		report.Terms = append(report.Terms, tr)
		if err != nil {
			return abort(err)
		}
	}

	report.FinishedAt = r.now()
	report.settle()
	reporter.Progress(100, "Run finished")
	reporter.Completed(report)
	return report, nil
}

func (r *Runner) selectTerms(ctx context.Context, termID *int64) ([]model.Term, error) {
	if termID == nil {
		terms, err := r.registry.SyncTerms(ctx)
		if err != nil {
			return nil, apperrors.NewFatalError(fmt.Errorf("failed to list sync terms: %w", err))
		}
		return terms, nil
	}

	t, err := r.repo.GetTerm(ctx, *termID)
	if err != nil {
		return nil, apperrors.NewFatalError(fmt.Errorf("term %d: %w", *termID, err))
	}
	return []model.Term{*t}, nil
}

// runTerm takes one term through courses, roster, ingest and grading. A
// non-nil error aborts the whole run; anything else is recorded on the report.
func (r *Runner) runTerm(ctx context.Context, t model.Term, progress func(frac int, msg string)) (TermReport, error) {
	log := r.log.With().Int64("term_id", t.ID).Str("term", t.Name).Logger()
	tr := TermReport{TermID: t.ID, TermName: t.Name}

	fail := func(stage string, err error) (TermReport, error) {
		if apperrors.IsFatal(err) || ctx.Err() != nil {
			tr.Error = fmt.Sprintf("%s: %v", stage, err)
			tr.Status = StatusFailed
			return tr, err
		}
		log.Error().Err(err).Str("stage", stage).Msg("Term failed")
		tr.Error = fmt.Sprintf("%s: %v", stage, err)
		tr.settle()
		return tr, nil
	}

	progress(0, fmt.Sprintf("Refreshing courses for %s", t.Name))
	if _, err := r.stages.Catalog.PullCourses(ctx, t.ID); err != nil {
		if apperrors.IsFatal(err) || ctx.Err() != nil {
			return fail("courses", err)
		}
		log.Warn().Err(err).Msg("Course refresh failed, using stored courses")
		tr.Warnings = append(tr.Warnings, fmt.Sprintf("course refresh: %v", err))
	}

	courses, err := r.repo.ListGradableCourses(ctx, t.ID)
	if err != nil {
		return fail("courses", err)
	}
	tr.Courses = len(courses)

	progress(10, fmt.Sprintf("Syncing rosters for %s", t.Name))
	rosterResult, err := r.stages.Roster.SyncTerm(ctx, t.ID, courses)
	if err != nil {
		return fail("roster", err)
	}
	tr.Enrollments = rosterResult.Enrollments
	tr.SkippedCourses = append(tr.SkippedCourses, rosterResult.Failures...)

	progress(35, fmt.Sprintf("Ingesting outcome results for %s", t.Name))
	ingestResult, err := r.stages.Ingest.IngestTerm(ctx, t.ID, courses)
	if err != nil {
		return fail("ingest", err)
	}
	tr.Results = ingestResult.Results
	tr.SkippedCourses = append(tr.SkippedCourses, ingestResult.Failures...)

	progress(80, fmt.Sprintf("Calculating grades for %s", t.Name))
	summary, err := r.stages.Grade.GradeTerm(ctx, t)
	if err != nil {
		return fail("grade", err)
	}
	tr.Grades = summary.Grades
	tr.Dropped = summary.Dropped

	if summary.Record != nil {
		id := summary.Record.ID
		tr.RecordID = &id

		if r.stages.Exporter != nil {
			progress(95, fmt.Sprintf("Exporting record %d", id))
			path, err := r.stages.Exporter.ExportRecord(ctx, t, summary.Record)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fail("export", err)
				}
				log.Warn().Err(err).Int64("record_id", id).Msg("Record export failed")
				tr.Warnings = append(tr.Warnings, fmt.Sprintf("export: %v", err))
			}
			tr.ExportPath = path
		}
	}

	tr.settle()
	log.Info().
		Str("status", string(tr.Status)).
		Int("courses", tr.Courses).
		Int("results", tr.Results).
		Int("grades", tr.Grades).
		Int("skipped_courses", len(tr.SkippedCourses)).
		Msg("Term finished")
	return tr, nil
}
