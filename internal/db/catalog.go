package db

import (
	"context"
	"errors"

	"github.com/mwcooley99/cbl-lti-app/internal/model"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"gorm.io/gorm"
)

// UpsertTerms overwrites source-owned columns only; cut_off_date,
// is_current and sync_enabled survive a refresh.
func (r *repository) UpsertTerms(ctx context.Context, terms []model.Term) error {
	if len(terms) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(upsertOn([]string{"name", "start_at", "end_at", "workflow_state", "sis_term_id"}, "id")).
		CreateInBatches(terms, batchSize).Error
}

func (r *repository) GetTerm(ctx context.Context, termID int64) (*model.Term, error) {
	var term model.Term
	err := r.db.WithContext(ctx).First(&term, "id = ?", termID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTermNotFound
	}
	if err != nil {
		return nil, err
	}
	return &term, nil
}

func (r *repository) ListSyncTerms(ctx context.Context) ([]model.Term, error) {
	var terms []model.Term
	err := r.db.WithContext(ctx).
		Where("sync_enabled = ?", true).
		Order("id").
		Find(&terms).Error
	return terms, err
}

// FindCurrentTerm returns the first flagged term; storage does not enforce uniqueness.
func (r *repository) FindCurrentTerm(ctx context.Context) (*model.Term, error) {
	var term model.Term
	err := r.db.WithContext(ctx).
		Where("is_current = ?", true).
		Order("id").
		First(&term).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTermNotFound
	}
	if err != nil {
		return nil, err
	}
	return &term, nil
}

func (r *repository) UpsertUsers(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(upsertOn([]string{"name", "sis_user_id", "login_id"}, "id")).
		CreateInBatches(users, batchSize).Error
}

func (r *repository) UpsertCourses(ctx context.Context, courses []model.Course) error {
	if len(courses) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(upsertOn([]string{"name", "course_code", "term_id", "is_gradable"}, "id")).
		CreateInBatches(courses, batchSize).Error
}

func (r *repository) ListGradableCourses(ctx context.Context, termID int64) ([]model.Course, error) {
	var courses []model.Course
	err := r.db.WithContext(ctx).
		Where("term_id = ? AND is_gradable = ?", termID, true).
		Order("id").
		Find(&courses).Error
	return courses, err
}

// ReplaceCourseEnrollments swaps a course roster in one transaction.
func (r *repository) ReplaceCourseEnrollments(ctx context.Context, courseID int64, enrollments []model.Enrollment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("course_id = ?", courseID).Delete(&model.Enrollment{}).Error; err != nil {
			return err
		}
		if len(enrollments) == 0 {
			return nil
		}
		return tx.CreateInBatches(enrollments, batchSize).Error
	})
}

// PurgeUngradableCourses drops roster and outcome result rows of the term's
// courses that are excluded from grading. It returns the results removed.
func (r *repository) PurgeUngradableCourses(ctx context.Context, termID int64) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		excluded := tx.Model(&model.Course{}).Select("id").
			Where("term_id = ? AND is_gradable = ?", termID, false)

		if err := tx.Where("course_id IN (?)", excluded).Delete(&model.Enrollment{}).Error; err != nil {
			return err
		}
		res := tx.Where("course_id IN (?)", excluded).Delete(&model.OutcomeResult{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}

func (r *repository) ListCourseUserIDs(ctx context.Context, courseID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Enrollment{}).
		Where("course_id = ?", courseID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}
