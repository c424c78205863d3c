package roster

import (
	"context"
	"sync"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const Stage = "roster"

// Source fetches a course's sections with students and enrollments.
type Source interface {
	ListCourseSections(ctx context.Context, courseID int64) ([]model.CanvasSection, error)
}

type Synchronizer struct {
	repo        db.Repository
	source      Source
	concurrency int
	log         zerolog.Logger
}

// Result summarizes one roster pass over a term.
type Result struct {
	Courses     int
	Enrollments int
	Failures    []model.CourseFailure
}

func NewSynchronizer(repo db.Repository, source Source, concurrency int) *Synchronizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Synchronizer{
		repo:        repo,
		source:      source,
		concurrency: concurrency,
		log:         logger.Component("roster"),
	}
}

// SyncTerm rebuilds the roster of every given course. A failing course is
// recorded and skipped; only context cancellation aborts the pass.
func (s *Synchronizer) SyncTerm(ctx context.Context, termID int64, courses []model.Course) (*Result, error) {
	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, course := range courses {
		course := course
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			n, err := s.SyncCourse(gctx, course.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.log.Error().Err(err).
					Int64("term_id", termID).
					Int64("course_id", course.ID).
					Str("course", course.Name).
					Msg("Roster sync failed, skipping course")
				result.Failures = append(result.Failures, model.CourseFailure{
					TermID:   termID,
					CourseID: course.ID,
					Course:   course.Name,
					Stage:    Stage,
					Error:    err.Error(),
				})
				return nil
			}
			result.Courses++
			result.Enrollments += n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	s.log.Info().
		Int64("term_id", termID).
		Int("courses", result.Courses).
		Int("enrollments", result.Enrollments).
		Int("failed", len(result.Failures)).
		Msg("Roster sync completed")
	return result, nil
}

// SyncCourse replaces the course's enrollment rows with its active roster.
func (s *Synchronizer) SyncCourse(ctx context.Context, courseID int64) (int, error) {
	sections, err := s.source.ListCourseSections(ctx, courseID)
	if err != nil {
		return 0, err
	}

	enrollments := ActiveEnrollments(courseID, sections)
	if err := s.repo.ReplaceCourseEnrollments(ctx, courseID, enrollments); err != nil {
		return 0, err
	}

	s.log.Debug().Int64("course_id", courseID).Int("enrollments", len(enrollments)).Msg("Roster replaced")
	return len(enrollments), nil
}

// ActiveEnrollments flattens sections into roster rows. A student counts only
// with an active enrollment and an SIS import id; test and half-provisioned
// accounts carry neither. The first section seen wins for a student.
func ActiveEnrollments(courseID int64, sections []model.CanvasSection) []model.Enrollment {
	seen := make(map[int64]struct{})
	var enrollments []model.Enrollment

	for _, section := range sections {
		for _, student := range section.Students {
			if student.SISImportID == nil || *student.SISImportID <= 0 {
				continue
			}
			if !hasActiveEnrollment(student.Enrollments) {
				continue
			}
			if _, ok := seen[student.ID]; ok {
				continue
			}
			seen[student.ID] = struct{}{}

			enrollments = append(enrollments, model.Enrollment{
				CourseID:    courseID,
				UserID:      student.ID,
				SectionID:   section.ID,
				SectionName: section.Name,
			})
		}
	}
	return enrollments
}

func hasActiveEnrollment(enrollments []model.CanvasEnrollment) bool {
	for _, e := range enrollments {
		if e.EnrollmentState == model.EnrollmentStateActive {
			return true
		}
	}
	return false
}
