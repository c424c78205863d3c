package term

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/rs/zerolog"
)

// Registry owns term metadata and the sync/current flags.
type Registry struct {
	repo          db.Repository
	defaultTermID int64
	log           zerolog.Logger
}

func NewRegistry(repo db.Repository, defaultTermID int64) *Registry {
	return &Registry{
		repo:          repo,
		defaultTermID: defaultTermID,
		log:           logger.Component("terms"),
	}
}

// SyncTerms returns every term flagged for synchronization.
func (r *Registry) SyncTerms(ctx context.Context) ([]model.Term, error) {
	return r.repo.ListSyncTerms(ctx)
}

// CurrentTerm returns the first term flagged current, falling back to the
// configured default term when none is.
func (r *Registry) CurrentTerm(ctx context.Context) (model.Term, error) {
	term, err := r.repo.FindCurrentTerm(ctx)
	if err == nil {
		return *term, nil
	}
	if !errors.Is(err, apperrors.ErrTermNotFound) {
		return model.Term{}, err
	}

	if r.defaultTermID == 0 {
		return model.Term{}, fmt.Errorf("%w: no current term flagged and no default configured", apperrors.ErrTermNotFound)
	}

	r.log.Warn().Int64("default_term_id", r.defaultTermID).Msg("No current term flagged, using default")
	fallback, err := r.repo.GetTerm(ctx, r.defaultTermID)
	if errors.Is(err, apperrors.ErrTermNotFound) {
		return model.Term{ID: r.defaultTermID}, nil
	}
	if err != nil {
		return model.Term{}, err
	}
	return *fallback, nil
}

// RefreshTerms upserts the source's terms. Terms are never deleted.
func (r *Registry) RefreshTerms(ctx context.Context, remote []model.CanvasTerm) (int, error) {
	terms := make([]model.Term, 0, len(remote))
	for _, t := range remote {
		terms = append(terms, model.Term{
			ID:            t.ID,
			Name:          t.Name,
			StartAt:       t.StartAt,
			EndAt:         t.EndAt,
			WorkflowState: t.WorkflowState,
			SISTermID:     t.SISTermID,
		})
	}

	if err := r.repo.UpsertTerms(ctx, terms); err != nil {
		return 0, fmt.Errorf("failed to upsert terms: %w", err)
	}

	r.log.Info().Int("count", len(terms)).Msg("Terms refreshed")
	return len(terms), nil
}
