package pipeline

import (
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"
)

type Status string

const (
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
)

// TermReport is the outcome of one term's pass through the pipeline.
type TermReport struct {
	TermID         int64                 `json:"term_id"`
	TermName       string                `json:"term_name"`
	Status         Status                `json:"status"`
	Courses        int                   `json:"courses"`
	Enrollments    int                   `json:"enrollments"`
	Results        int                   `json:"results"`
	Grades         int                   `json:"grades"`
	Dropped        int                   `json:"dropped"`
	RecordID       *int64                `json:"record_id,omitempty"`
	ExportPath     string                `json:"export_path,omitempty"`
	SkippedCourses []model.CourseFailure `json:"skipped_courses,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func (t *TermReport) settle() {
	switch {
	case t.Error != "":
		t.Status = StatusFailed
	case len(t.SkippedCourses) > 0:
		t.Status = StatusCompletedWithErrors
	default:
		t.Status = StatusCompleted
	}
}

// RunReport is the terminal outcome handed to the trigger. Error is set only
// when the run aborted.
type RunReport struct {
	Status     Status       `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Terms      []TermReport `json:"terms"`
	Warnings   []string     `json:"warnings,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// SkippedCourses lists every course skipped across all terms.
func (r *RunReport) SkippedCourses() []model.CourseFailure {
	var skipped []model.CourseFailure
	for _, t := range r.Terms {
		skipped = append(skipped, t.SkippedCourses...)
	}
	return skipped
}

func (r *RunReport) settle() {
	if r.Error != "" {
		r.Status = StatusFailed
		return
	}
	r.Status = StatusCompleted
	for _, t := range r.Terms {
		if t.Status != StatusCompleted {
			r.Status = StatusCompletedWithErrors
			return
		}
	}
}
