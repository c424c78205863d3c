package pull

import (
	"context"
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/term"

	"github.com/rs/zerolog"
)

// Source is the slice of the LMS client needed to refresh the catalog.
type Source interface {
	ListTerms(ctx context.Context) ([]model.CanvasTerm, error)
	ListUsers(ctx context.Context) ([]model.CanvasUser, error)
	ListCourses(ctx context.Context, termID int64) ([]model.CanvasCourse, error)
}

type Service struct {
	repo     db.Repository
	source   Source
	registry *term.Registry
	filter   *CourseFilter
	log      zerolog.Logger
}

func NewService(repo db.Repository, source Source, registry *term.Registry, filter *CourseFilter) *Service {
	return &Service{
		repo:     repo,
		source:   source,
		registry: registry,
		filter:   filter,
		log:      logger.Component("pull"),
	}
}

// PullTerms pulls enrollment terms from the LMS and upserts them locally
func (s *Service) PullTerms(ctx context.Context) (int, error) {
	s.log.Info().Msg("Pulling terms from LMS")

	terms, err := s.source.ListTerms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch terms: %w", err)
	}

	return s.registry.RefreshTerms(ctx, terms)
}

// PullUsers pulls student users from the LMS and upserts them locally
func (s *Service) PullUsers(ctx context.Context) (int, error) {
	s.log.Info().Msg("Pulling users from LMS")

	remote, err := s.source.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch users: %w", err)
	}

	users := make([]model.User, 0, len(remote))
	for _, u := range remote {
		users = append(users, model.User{
			ID:        u.ID,
			Name:      u.Name,
			SISUserID: u.SISUserID,
			LoginID:   u.LoginID,
		})
	}

	if err := s.repo.UpsertUsers(ctx, users); err != nil {
		return 0, fmt.Errorf("failed to upsert users: %w", err)
	}

	s.log.Info().Int("total", len(users)).Msg("Users sync completed")
	return len(users), nil
}

// PullCourses pulls the term's courses and flags the non-academic ones
func (s *Service) PullCourses(ctx context.Context, termID int64) (int, error) {
	log := s.log.With().Int64("term_id", termID).Logger()
	log.Info().Msg("Pulling courses from LMS")

	remote, err := s.source.ListCourses(ctx, termID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch courses: %w", err)
	}

	courses := make([]model.Course, 0, len(remote))
	excluded := 0
	for _, c := range remote {
		gradable := s.filter.IsGradable(c.Name)
		if !gradable {
			excluded++
			log.Debug().Int64("course_id", c.ID).Str("name", c.Name).Msg("Course excluded from grading")
		}
		courses = append(courses, model.Course{
			ID:         c.ID,
			Name:       c.Name,
			CourseCode: c.CourseCode,
			TermID:     termID,
			IsGradable: gradable,
		})
	}

	if err := s.repo.UpsertCourses(ctx, courses); err != nil {
		return 0, fmt.Errorf("failed to upsert courses: %w", err)
	}

	// A course renamed into the exclusion list keeps no roster or results.
	purged, err := s.repo.PurgeUngradableCourses(ctx, termID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge excluded courses: %w", err)
	}

	log.Info().Int("total", len(courses)).Int("excluded", excluded).Int64("purged_results", purged).Msg("Courses sync completed")
	return len(courses), nil
}
