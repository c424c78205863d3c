package model

import "time"

// CanvasTerm represents an enrollment term from the Canvas API
type CanvasTerm struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	StartAt       *time.Time `json:"start_at"`
	EndAt         *time.Time `json:"end_at"`
	WorkflowState string     `json:"workflow_state"`
	SISTermID     string     `json:"sis_term_id"`
}

// CanvasUser represents an account user from the Canvas API
type CanvasUser struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SISUserID string `json:"sis_user_id"`
	LoginID   string `json:"login_id"`
}

// CanvasCourse represents a course from the Canvas API
type CanvasCourse struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	CourseCode       string `json:"course_code"`
	EnrollmentTermID int64  `json:"enrollment_term_id"`
}

// CanvasSection represents a course section with its students and their enrollments
type CanvasSection struct {
	ID       int64                  `json:"id"`
	Name     string                 `json:"name"`
	Students []CanvasSectionStudent `json:"students"`
}

type CanvasSectionStudent struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	SISUserID   string             `json:"sis_user_id"`
	SISImportID *int64             `json:"sis_import_id"`
	Enrollments []CanvasEnrollment `json:"enrollments"`
}

type CanvasEnrollment struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	EnrollmentState string `json:"enrollment_state"`
	CourseSectionID int64  `json:"course_section_id"`
}

const EnrollmentStateActive = "active"

// CanvasOutcomeResult is a flattened outcome result; the API nests the
// user, outcome and alignment ids under "links" as strings.
type CanvasOutcomeResult struct {
	ID                    int64
	Score                 *float64
	SubmittedOrAssessedAt time.Time
	UserID                int64
	OutcomeID             int64
	AlignmentID           string
}

type CanvasOutcome struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	DisplayName    string `json:"display_name"`
	CalculationInt int    `json:"calculation_int"`
}

type CanvasAlignment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
