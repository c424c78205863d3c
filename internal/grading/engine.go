package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/rs/zerolog"
)

type Engine struct {
	repo db.Repository
	now  func() time.Time
	log  zerolog.Logger
}

func NewEngine(repo db.Repository) *Engine {
	return &Engine{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.Component("grading"),
	}
}

// Summary describes one grading pass over a term.
type Summary struct {
	TermID  int64
	Record  *model.Record
	Grades  int
	Dropped int
	Results int
	// Skipped is true when the term had no scored results and no record was minted.
	Skipped bool
}

// Rules loads the classification table fresh and validates it. An unusable
// table is fatal: no grade can be trusted without a fallback rule.
func (e *Engine) Rules(ctx context.Context) ([]model.GradeRule, error) {
	rules, err := e.repo.ListGradeRules(ctx)
	if err != nil {
		return nil, apperrors.NewFatalError(fmt.Errorf("failed to load grade rules: %w", err))
	}
	if err := ValidateRules(rules); err != nil {
		return nil, apperrors.NewFatalError(err)
	}
	return rules, nil
}

// GradeTerm recomputes every grade of the term and replaces the term's
// visible grades with a new record.
func (e *Engine) GradeTerm(ctx context.Context, term model.Term) (*Summary, error) {
	log := e.log.With().Int64("term_id", term.ID).Logger()
	summary := &Summary{TermID: term.ID}

	rules, err := e.Rules(ctx)
	if err != nil {
		return nil, err
	}

	results, err := e.repo.ListScoredResults(ctx, term.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome results: %w", err)
	}
	summary.Results = len(results)
	if len(results) == 0 {
		log.Info().Msg("No scored outcome results, nothing to grade")
		summary.Skipped = true
		return summary, nil
	}

	cutoff := term.CutOff()
	averages := OutcomeAverages(results, cutoff)
	studentGrades := GradeStudents(averages, rules)

	var droppedIDs []int64
	for _, avg := range averages {
		if avg.DroppedID != 0 {
			droppedIDs = append(droppedIDs, avg.DroppedID)
		}
	}

	grades := make([]model.Grade, 0, len(studentGrades))
	for _, sg := range studentGrades {
		grade, err := toGradeRow(sg)
		if err != nil {
			return nil, err
		}
		grades = append(grades, grade)
	}

	record, err := e.repo.ReplaceTermGrades(ctx, term.ID, e.now(), grades, droppedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to replace grades: %w", err)
	}

	summary.Record = record
	summary.Grades = len(grades)
	summary.Dropped = len(droppedIDs)

	event := log.Info().
		Int64("record_id", record.ID).
		Int("results", len(results)).
		Int("outcome_averages", len(averages)).
		Int("grades", len(grades)).
		Int("dropped", len(droppedIDs))
	if cutoff != nil {
		event = event.Time("cut_off_date", *cutoff)
	}
	event.Msg("Term graded")

	return summary, nil
}

func toGradeRow(sg StudentGrade) (model.Grade, error) {
	outcomes := make([]model.OutcomeAverage, len(sg.Outcomes))
	for i, o := range sg.Outcomes {
		outcomes[i] = model.OutcomeAverage{
			OutcomeID: o.OutcomeID,
			Title:     o.Title,
			Average:   round2(o.Average),
			FullAvg:   round2(o.FullAvg),
			Count:     o.Count,
			Dropped:   o.DroppedID != 0,
		}
	}
	payload, err := json.Marshal(outcomes)
	if err != nil {
		return model.Grade{}, fmt.Errorf("failed to encode outcome averages: %w", err)
	}

	return model.Grade{
		UserID:    sg.UserID,
		CourseID:  sg.CourseID,
		Grade:     sg.Grade,
		Threshold: sg.Threshold,
		MinScore:  sg.MinScore,
		Outcomes:  payload,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
