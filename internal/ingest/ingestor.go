package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const Stage = "ingest"

// Source fetches a course's outcome results with linked outcomes and alignments.
type Source interface {
	ListOutcomeResults(ctx context.Context, courseID int64, userIDs []int64) (*model.OutcomeResultSet, error)
}

type Options struct {
	Concurrency int
	// FilterByRoster limits each fetch to the course's enrolled students.
	FilterByRoster bool
}

type Ingestor struct {
	repo   db.Repository
	source Source
	opts   Options
	now    func() time.Time
	log    zerolog.Logger
}

// Result summarizes one ingest pass over a term.
type Result struct {
	Courses  int
	Results  int
	Empty    int
	Failures []model.CourseFailure
}

func NewIngestor(repo db.Repository, source Source, opts Options) *Ingestor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Ingestor{
		repo:   repo,
		source: source,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.Component("ingest"),
	}
}

// IngestTerm refreshes the outcome results of every given course.
func (i *Ingestor) IngestTerm(ctx context.Context, termID int64, courses []model.Course) (*Result, error) {
	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.Concurrency)

	for _, course := range courses {
		course := course
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			n, err := i.IngestCourse(gctx, termID, course.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				i.log.Error().Err(err).
					Int64("term_id", termID).
					Int64("course_id", course.ID).
					Str("course", course.Name).
					Msg("Outcome result ingest failed, skipping course")
				result.Failures = append(result.Failures, model.CourseFailure{
					TermID:   termID,
					CourseID: course.ID,
					Course:   course.Name,
					Stage:    Stage,
					Error:    err.Error(),
				})
				return nil
			}
			result.Courses++
			result.Results += n
			if n == 0 {
				result.Empty++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	i.log.Info().
		Int64("term_id", termID).
		Int("courses", result.Courses).
		Int("results", result.Results).
		Int("empty", result.Empty).
		Int("failed", len(result.Failures)).
		Msg("Outcome result ingest completed")
	return result, nil
}

// IngestCourse fetches every page for the course before writing anything, so
// a failed page leaves the stored snapshot untouched.
func (i *Ingestor) IngestCourse(ctx context.Context, termID, courseID int64) (int, error) {
	var userIDs []int64
	if i.opts.FilterByRoster {
		ids, err := i.repo.ListCourseUserIDs(ctx, courseID)
		if err != nil {
			return 0, fmt.Errorf("failed to load roster: %w", err)
		}
		if len(ids) == 0 {
			// Nobody is enrolled, so nothing the course held is still current.
			if err := i.repo.ReplaceCourseOutcomeResults(ctx, courseID, nil, nil, nil); err != nil {
				return 0, fmt.Errorf("failed to purge outcome results: %w", err)
			}
			i.log.Debug().Int64("course_id", courseID).Msg("Empty roster, outcome results purged")
			return 0, nil
		}
		userIDs = ids
	}

	set, err := i.source.ListOutcomeResults(ctx, courseID, userIDs)
	if err != nil {
		return 0, err
	}

	results := Normalize(set.Results, termID, courseID, i.now())
	if len(results) == 0 {
		i.log.Debug().Int64("course_id", courseID).Msg("No outcome results")
		return 0, nil
	}

	outcomes := UniqueOutcomes(set.Outcomes)
	alignments := UniqueAlignments(set.Alignments)

	if err := i.repo.ReplaceCourseOutcomeResults(ctx, courseID, outcomes, alignments, results); err != nil {
		return 0, fmt.Errorf("failed to store outcome results: %w", err)
	}

	i.log.Debug().
		Int64("course_id", courseID).
		Int("results", len(results)).
		Int("outcomes", len(outcomes)).
		Int("alignments", len(alignments)).
		Msg("Outcome results replaced")
	return len(results), nil
}

// Normalize tags raw results with their course and term and drops repeated
// ids, keeping the first occurrence.
func Normalize(raw []model.CanvasOutcomeResult, termID, courseID int64, at time.Time) []model.OutcomeResult {
	seen := make(map[int64]struct{}, len(raw))
	results := make([]model.OutcomeResult, 0, len(raw))
	for _, r := range raw {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}

		results = append(results, model.OutcomeResult{
			ID:                    r.ID,
			Score:                 r.Score,
			CourseID:              courseID,
			UserID:                r.UserID,
			OutcomeID:             r.OutcomeID,
			AlignmentID:           r.AlignmentID,
			SubmittedOrAssessedAt: r.SubmittedOrAssessedAt,
			LastUpdated:           at,
			TermID:                termID,
		})
	}
	return results
}

func UniqueOutcomes(raw []model.CanvasOutcome) []model.Outcome {
	seen := make(map[int64]struct{}, len(raw))
	var outcomes []model.Outcome
	for _, o := range raw {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		outcomes = append(outcomes, model.Outcome{
			ID:             o.ID,
			Title:          o.Title,
			DisplayName:    o.DisplayName,
			CalculationInt: o.CalculationInt,
		})
	}
	return outcomes
}

func UniqueAlignments(raw []model.CanvasAlignment) []model.Alignment {
	seen := make(map[string]struct{}, len(raw))
	var alignments []model.Alignment
	for _, a := range raw {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		alignments = append(alignments, model.Alignment{ID: a.ID, Name: a.Name})
	}
	return alignments
}
