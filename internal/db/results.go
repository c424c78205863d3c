package db

import (
	"context"

	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"gorm.io/gorm"
)

var outcomeResultColumns = []string{
	"score", "course_id", "user_id", "outcome_id", "alignment_id",
	"submitted_or_assessed_at", "last_updated", "term_id", "dropped",
}

// ReplaceCourseOutcomeResults upserts the course's outcome and alignment
// definitions, purges its existing results and upserts the fresh set, all in
// one transaction so a failure leaves the previous snapshot intact.
func (r *repository) ReplaceCourseOutcomeResults(
	ctx context.Context,
	courseID int64,
	outcomes []model.Outcome,
	alignments []model.Alignment,
	results []model.OutcomeResult,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(outcomes) > 0 {
			err := tx.Clauses(upsertOn([]string{"title", "display_name", "calculation_int"}, "id")).
				CreateInBatches(outcomes, batchSize).Error
			if err != nil {
				return err
			}
		}

		if len(alignments) > 0 {
			err := tx.Clauses(upsertOn([]string{"name"}, "id")).
				CreateInBatches(alignments, batchSize).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Where("course_id = ?", courseID).Delete(&model.OutcomeResult{}).Error; err != nil {
			return err
		}

		if len(results) == 0 {
			return nil
		}
		return tx.Clauses(upsertOn(outcomeResultColumns, "id")).
			CreateInBatches(results, batchSize).Error
	})
}

// ListScoredResults loads every scored result of the term's gradable courses.
func (r *repository) ListScoredResults(ctx context.Context, termID int64) ([]model.ScoredResult, error) {
	var results []model.ScoredResult
	err := r.db.WithContext(ctx).
		Table("outcome_results AS r").
		Select(`r.id, r.user_id, r.course_id, c.name AS course_name, r.outcome_id,
			COALESCE(o.title, '') AS outcome_title, r.alignment_id,
			COALESCE(a.name, '') AS alignment_name, r.score, r.submitted_or_assessed_at`).
		Joins("JOIN courses c ON c.id = r.course_id").
		Joins("LEFT JOIN outcomes o ON o.id = r.outcome_id").
		Joins("LEFT JOIN alignments a ON a.id = r.alignment_id").
		Where("r.term_id = ? AND r.score IS NOT NULL AND c.is_gradable = ?", termID, true).
		Order("r.user_id, r.course_id, r.outcome_id, r.submitted_or_assessed_at, r.id").
		Scan(&results).Error
	return results, err
}
