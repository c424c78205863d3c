package excel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/storage"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	gradesSheet   = "Grades"
	outcomesSheet = "Outcomes"
)

var (
	gradesHeader   = []interface{}{"User ID", "Student", "SIS ID", "Course ID", "Course", "Grade", "Threshold", "Min Score"}
	outcomesHeader = []interface{}{"User ID", "Course ID", "Outcome ID", "Outcome", "Average", "Full Average", "Results", "Dropped"}
)

// Exporter writes a record's grades to a workbook in object storage.
type Exporter struct {
	repo    db.Repository
	storage storage.Storage
	prefix  string
	log     zerolog.Logger
}

func NewExporter(repo db.Repository, store storage.Storage, prefix string) *Exporter {
	return &Exporter{
		repo:    repo,
		storage: store,
		prefix:  prefix,
		log:     logger.Component("export"),
	}
}

// RecordKey is the object key of a record's workbook.
func (e *Exporter) RecordKey(termID, recordID int64) string {
	return path.Join(e.prefix, fmt.Sprintf("term-%d", termID), fmt.Sprintf("record-%d.xlsx", recordID))
}

func (e *Exporter) ExportRecord(ctx context.Context, term model.Term, record *model.Record) (string, error) {
	grades, err := e.repo.ListRecordGrades(ctx, record.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load record grades: %w", err)
	}

	data, err := BuildWorkbook(grades)
	if err != nil {
		return "", err
	}

	key := e.RecordKey(term.ID, record.ID)
	if err := e.storage.Upload(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	e.log.Info().
		Int64("term_id", term.ID).
		Int64("record_id", record.ID).
		Int("grades", len(grades)).
		Str("key", key).
		Msg("Record exported")
	return key, nil
}

// BuildWorkbook renders grades on one sheet and their outcome averages on another.
func BuildWorkbook(grades []model.GradeView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", gradesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(outcomesSheet); err != nil {
		return nil, err
	}

	if err := setRow(f, gradesSheet, 1, gradesHeader); err != nil {
		return nil, err
	}
	if err := setRow(f, outcomesSheet, 1, outcomesHeader); err != nil {
		return nil, err
	}

	outcomeRow := 2
	for i, g := range grades {
		row := []interface{}{g.UserID, g.UserName, g.SISUserID, g.CourseID, g.CourseName, g.Grade, nullable(g.Threshold), nullable(g.MinScore)}
		if err := setRow(f, gradesSheet, i+2, row); err != nil {
			return nil, err
		}

		if len(g.Outcomes) == 0 {
			continue
		}
		var outcomes []model.OutcomeAverage
		if err := json.Unmarshal(g.Outcomes, &outcomes); err != nil {
			return nil, fmt.Errorf("grade %d: invalid outcomes: %w", g.ID, err)
		}
		for _, o := range outcomes {
			row := []interface{}{g.UserID, g.CourseID, o.OutcomeID, o.Title, o.Average, o.FullAvg, o.Count, o.Dropped}
			if err := setRow(f, outcomesSheet, outcomeRow, row); err != nil {
				return nil, err
			}
			outcomeRow++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func nullable(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
