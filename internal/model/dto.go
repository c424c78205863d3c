package model

import "time"

type JobStatus string

const (
	JobStatusQueued              JobStatus = "QUEUED"
	JobStatusStarted             JobStatus = "STARTED"
	JobStatusRunning             JobStatus = "RUNNING"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobStatusFailed              JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

type JobKind string

const (
	JobKindSync       JobKind = "sync"
	JobKindRuleImport JobKind = "rule_import"
)

// Job is the progress record read by the dashboard.
type Job struct {
	ID             string          `json:"id"`
	Kind           JobKind         `json:"kind"`
	Status         JobStatus       `json:"status"`
	Progress       int             `json:"progress"`
	Message        string          `json:"message,omitempty"`
	TermID         *int64          `json:"term_id,omitempty"`
	SkippedCourses []CourseFailure `json:"skipped_courses,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type RunJob struct {
	JobID       string    `json:"job_id"`
	TermID      *int64    `json:"term_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type RuleImportJob struct {
	JobID  string `json:"job_id"`
	S3Path string `json:"s3_path"`
}

type RunRequest struct {
	TermID *int64 `json:"term_id"`
}

type RuleImportRequest struct {
	S3Path string `json:"s3_path" binding:"required"`
}

// CourseFailure names a course skipped during a run and the stage it failed in.
type CourseFailure struct {
	TermID   int64  `json:"term_id"`
	CourseID int64  `json:"course_id"`
	Course   string `json:"course"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}
