package model

import "time"

// Outcome is a tracked competency. CalculationInt is carried as metadata only.
type Outcome struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Title          string `json:"title" gorm:"not null"`
	DisplayName    string `json:"display_name"`
	CalculationInt int    `json:"calculation_int"`
}

func (Outcome) TableName() string { return "outcomes" }

// Alignment is the graded artifact that produced a result.
type Alignment struct {
	ID   string `json:"id" gorm:"primaryKey;size:191"`
	Name string `json:"name"`
}

func (Alignment) TableName() string { return "alignments" }

// OutcomeResult is one scored event. ID is assigned by the LMS and is the upsert key.
type OutcomeResult struct {
	ID                    int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Score                 *float64  `json:"score"`
	CourseID              int64     `json:"course_id" gorm:"not null;index"`
	UserID                int64     `json:"user_id" gorm:"not null;index"`
	OutcomeID             int64     `json:"outcome_id" gorm:"not null"`
	AlignmentID           string    `json:"alignment_id" gorm:"not null;size:191"`
	SubmittedOrAssessedAt time.Time `json:"submitted_or_assessed_at" gorm:"not null"`
	LastUpdated           time.Time `json:"last_updated" gorm:"not null"`
	TermID                int64     `json:"term_id" gorm:"index"`
	Dropped               bool      `json:"dropped" gorm:"not null;default:false"`
}

func (OutcomeResult) TableName() string { return "outcome_results" }

// ScoredResult is an outcome result with a non-null score joined to its
// course, outcome and alignment metadata.
type ScoredResult struct {
	ID                    int64     `json:"id"`
	UserID                int64     `json:"user_id"`
	CourseID              int64     `json:"course_id"`
	CourseName            string    `json:"course_name"`
	OutcomeID             int64     `json:"outcome_id"`
	OutcomeTitle          string    `json:"outcome_title"`
	AlignmentID           string    `json:"alignment_id"`
	AlignmentName         string    `json:"alignment_name"`
	Score                 float64   `json:"score"`
	SubmittedOrAssessedAt time.Time `json:"submitted_or_assessed_at"`
}

// OutcomeResultSet is everything fetched for one course in a single ingest pass.
type OutcomeResultSet struct {
	Results    []CanvasOutcomeResult
	Alignments []CanvasAlignment
	Outcomes   []CanvasOutcome
}
