package db

import (
	"context"
	"errors"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *repository) ListGradeRules(ctx context.Context) ([]model.GradeRule, error) {
	var rules []model.GradeRule
	err := r.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "rank"}}).
		Find(&rules).Error
	return rules, err
}

func (r *repository) CountGradeRules(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.GradeRule{}).Count(&count).Error
	return count, err
}

func (r *repository) ReplaceGradeRules(ctx context.Context, rules []model.GradeRule) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&model.GradeRule{}).Error
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return nil
		}
		return tx.Create(&rules).Error
	})
}

// ReplaceTermGrades mints a record and swaps the term's grades for the new
// set in a single transaction: readers see either the old record's rows or
// the new one's, never an empty term. Dropped flags on the term's results are
// rewritten in the same transaction.
func (r *repository) ReplaceTermGrades(
	ctx context.Context,
	termID int64,
	createdAt time.Time,
	grades []model.Grade,
	droppedIDs []int64,
) (*model.Record, error) {
	record := model.Record{CreatedAt: createdAt, TermID: termID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		termCourses := tx.Model(&model.Course{}).Select("id").Where("term_id = ?", termID)
		termRecords := tx.Model(&model.Record{}).Select("id").Where("term_id = ? AND id <> ?", termID, record.ID)
		err := tx.Where("course_id IN (?)", termCourses).
			Or("record_id IN (?)", termRecords).
			Delete(&model.Grade{}).Error
		if err != nil {
			return err
		}

		if len(grades) > 0 {
			for i := range grades {
				grades[i].ID = 0
				grades[i].RecordID = record.ID
			}
			if err := tx.CreateInBatches(grades, batchSize).Error; err != nil {
				return err
			}
		}

		err = tx.Model(&model.OutcomeResult{}).
			Where("term_id = ? AND dropped = ?", termID, true).
			Update("dropped", false).Error
		if err != nil {
			return err
		}
		for start := 0; start < len(droppedIDs); start += batchSize {
			end := start + batchSize
			if end > len(droppedIDs) {
				end = len(droppedIDs)
			}
			err := tx.Model(&model.OutcomeResult{}).
				Where("id IN ?", droppedIDs[start:end]).
				Update("dropped", true).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) LatestRecord(ctx context.Context, termID int64) (*model.Record, error) {
	var record model.Record
	err := r.db.WithContext(ctx).
		Where("term_id = ?", termID).
		Order("id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListRecordGrades(ctx context.Context, recordID int64) ([]model.GradeView, error) {
	var grades []model.GradeView
	err := r.db.WithContext(ctx).
		Table("grades AS g").
		Select(`g.id, g.record_id, g.user_id, COALESCE(u.name, '') AS user_name,
			COALESCE(u.sis_user_id, '') AS sis_user_id, g.course_id,
			COALESCE(c.name, '') AS course_name, g.grade, g.threshold, g.min_score, g.outcomes`).
		Joins("LEFT JOIN users u ON u.id = g.user_id").
		Joins("LEFT JOIN courses c ON c.id = g.course_id").
		Where("g.record_id = ?", recordID).
		Order("g.course_id, g.user_id").
		Scan(&grades).Error
	return grades, err
}

type termGradeRow struct {
	RecordID   int64
	GradeID    *int64
	UserID     *int64
	UserName   string
	SISUserID  string
	CourseID   *int64
	CourseName string
	Grade      string
	Threshold  *float64
	MinScore   *float64
	Outcomes   *datatypes.JSON
}

// ListTermGrades returns the term's newest record and its grades. The record
// and its rows are resolved in one statement, so a concurrent
// ReplaceTermGrades is seen either entirely or not at all. A term that has
// never been graded yields a nil record.
func (r *repository) ListTermGrades(ctx context.Context, termID int64) (*model.Record, []model.GradeView, error) {
	var rows []termGradeRow
	err := r.db.WithContext(ctx).
		Table("records AS rec").
		Select(`rec.id AS record_id, g.id AS grade_id, g.user_id, COALESCE(u.name, '') AS user_name,
			COALESCE(u.sis_user_id, '') AS sis_user_id, g.course_id, COALESCE(c.name, '') AS course_name,
			COALESCE(g.grade, '') AS grade, g.threshold, g.min_score, g.outcomes`).
		Joins("LEFT JOIN grades g ON g.record_id = rec.id").
		Joins("LEFT JOIN users u ON u.id = g.user_id").
		Joins("LEFT JOIN courses c ON c.id = g.course_id").
		Where("rec.id = (SELECT MAX(id) FROM records WHERE term_id = ?)", termID).
		Order("g.course_id, g.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	// Records are never deleted, so loading the resolved id separately is safe.
	var record model.Record
	if err := r.db.WithContext(ctx).First(&record, "id = ?", rows[0].RecordID).Error; err != nil {
		return nil, nil, err
	}

	grades := make([]model.GradeView, 0, len(rows))
	for _, row := range rows {
		if row.GradeID == nil {
			continue
		}
		var outcomes datatypes.JSON
		if row.Outcomes != nil {
			outcomes = *row.Outcomes
		}
		grades = append(grades, model.GradeView{
			ID:         *row.GradeID,
			RecordID:   row.RecordID,
			UserID:     derefInt(row.UserID),
			UserName:   row.UserName,
			SISUserID:  row.SISUserID,
			CourseID:   derefInt(row.CourseID),
			CourseName: row.CourseName,
			Grade:      row.Grade,
			Threshold:  row.Threshold,
			MinScore:   row.MinScore,
			Outcomes:   outcomes,
		})
	}
	return &record, grades, nil
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
