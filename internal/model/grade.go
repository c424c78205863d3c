package model

import (
	"time"

	"gorm.io/datatypes"
)

// NotApplicableGrade is reported for students with no assessed outcomes.
const NotApplicableGrade = "n/a"

// GradeRule is one row of the ordered classification table. Rank 1 is the
// most demanding; the highest rank is the unconditional fallback.
type GradeRule struct {
	Rank      int     `json:"rank" gorm:"primaryKey;autoIncrement:false"`
	Grade     string  `json:"grade" gorm:"not null"`
	Threshold float64 `json:"threshold"`
	MinScore  float64 `json:"min_score"`
}

func (GradeRule) TableName() string { return "grade_rules" }

// Record is the immutable version token minted by each grading run.
type Record struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	TermID    int64     `json:"term_id" gorm:"index"`
}

func (Record) TableName() string { return "records" }

type Grade struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	UserID    int64          `json:"user_id" gorm:"index"`
	CourseID  int64          `json:"course_id" gorm:"index"`
	RecordID  int64          `json:"record_id" gorm:"index"`
	Grade     string         `json:"grade"`
	Threshold *float64       `json:"threshold"`
	MinScore  *float64       `json:"min_score"`
	Outcomes  datatypes.JSON `json:"outcomes"`
}

func (Grade) TableName() string { return "grades" }

// OutcomeAverage is the per-outcome evidence stored alongside a grade.
type OutcomeAverage struct {
	OutcomeID int64   `json:"outcome_id"`
	Title     string  `json:"title"`
	Average   float64 `json:"avg"`
	FullAvg   float64 `json:"full_avg"`
	Count     int     `json:"count"`
	Dropped   bool    `json:"dropped"`
}

// GradeView is a grade joined with its student and course for readers.
type GradeView struct {
	ID         int64          `json:"id"`
	RecordID   int64          `json:"record_id"`
	UserID     int64          `json:"user_id"`
	UserName   string         `json:"user_name"`
	SISUserID  string         `json:"sis_user_id"`
	CourseID   int64          `json:"course_id"`
	CourseName string         `json:"course_name"`
	Grade      string         `json:"grade"`
	Threshold  *float64       `json:"threshold"`
	MinScore   *float64       `json:"min_score"`
	Outcomes   datatypes.JSON `json:"outcomes"`
}
