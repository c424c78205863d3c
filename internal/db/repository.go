package db

import (
	"context"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

type Repository interface {
	UpsertTerms(ctx context.Context, terms []model.Term) error
	GetTerm(ctx context.Context, termID int64) (*model.Term, error)
	ListSyncTerms(ctx context.Context) ([]model.Term, error)
	FindCurrentTerm(ctx context.Context) (*model.Term, error)

	UpsertUsers(ctx context.Context, users []model.User) error
	UpsertCourses(ctx context.Context, courses []model.Course) error
	ListGradableCourses(ctx context.Context, termID int64) ([]model.Course, error)
	PurgeUngradableCourses(ctx context.Context, termID int64) (int64, error)

	ReplaceCourseEnrollments(ctx context.Context, courseID int64, enrollments []model.Enrollment) error
	ListCourseUserIDs(ctx context.Context, courseID int64) ([]int64, error)

	ReplaceCourseOutcomeResults(ctx context.Context, courseID int64, outcomes []model.Outcome, alignments []model.Alignment, results []model.OutcomeResult) error
	ListScoredResults(ctx context.Context, termID int64) ([]model.ScoredResult, error)

	ListGradeRules(ctx context.Context) ([]model.GradeRule, error)
	CountGradeRules(ctx context.Context) (int64, error)
	ReplaceGradeRules(ctx context.Context, rules []model.GradeRule) error

	ReplaceTermGrades(ctx context.Context, termID int64, createdAt time.Time, grades []model.Grade, droppedIDs []int64) (*model.Record, error)
	LatestRecord(ctx context.Context, termID int64) (*model.Record, error)
	ListRecordGrades(ctx context.Context, recordID int64) ([]model.GradeView, error)
	ListTermGrades(ctx context.Context, termID int64) (*model.Record, []model.GradeView, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// upsertOn builds an insert-or-update clause keyed on the given columns.
func upsertOn(update []string, keys ...string) clause.OnConflict {
	columns := make([]clause.Column, len(keys))
	for i, key := range keys {
		columns[i] = clause.Column{Name: key}
	}
	return clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(update),
	}
}
