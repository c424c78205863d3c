package model

import "time"

// Term is an LMS enrollment term. Name, StartAt, EndAt, WorkflowState and
// SISTermID mirror the source; CutOffDate, IsCurrent and SyncEnabled are
// owned locally by administrators.
type Term struct {
	ID            int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name          string     `json:"name"`
	StartAt       *time.Time `json:"start_at"`
	EndAt         *time.Time `json:"end_at"`
	CutOffDate    *time.Time `json:"cut_off_date"`
	IsCurrent     bool       `json:"is_current" gorm:"not null;default:false;index"`
	SyncEnabled   bool       `json:"sync_enabled" gorm:"not null;default:false;index"`
	WorkflowState string     `json:"workflow_state"`
	SISTermID     string     `json:"sis_term_id"`
}

func (Term) TableName() string { return "terms" }

// CutOff is the instant before which results are drop-eligible: the explicit
// cutoff when set, else the end of the term. Nil when neither is known.
func (t Term) CutOff() *time.Time {
	if t.CutOffDate != nil {
		return t.CutOffDate
	}
	return t.EndAt
}

type Course struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
	TermID     int64  `json:"term_id" gorm:"index"`
	IsGradable bool   `json:"is_gradable" gorm:"not null;index"`
}

func (Course) TableName() string { return "courses" }

type User struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name      string `json:"name"`
	SISUserID string `json:"sis_user_id"`
	LoginID   string `json:"login_id"`
}

func (User) TableName() string { return "users" }

// Enrollment is one row of a course roster.
type Enrollment struct {
	CourseID    int64  `json:"course_id" gorm:"primaryKey;autoIncrement:false"`
	UserID      int64  `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	SectionID   int64  `json:"section_id"`
	SectionName string `json:"section_name"`
}

func (Enrollment) TableName() string { return "enrollments" }
