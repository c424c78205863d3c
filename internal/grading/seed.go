package grading

import (
	"context"
	"fmt"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
)

// SeedRules installs defaults when the rule table is empty. An existing
// table, even one an administrator imported, is left alone.
func SeedRules(ctx context.Context, repo db.Repository, defaults []model.GradeRule) (bool, error) {
	n, err := repo.CountGradeRules(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count grade rules: %w", err)
	}
	if n > 0 || len(defaults) == 0 {
		return false, nil
	}

	if err := ValidateRules(defaults); err != nil {
		return false, err
	}
	if err := repo.ReplaceGradeRules(ctx, defaults); err != nil {
		return false, fmt.Errorf("failed to seed grade rules: %w", err)
	}
	return true, nil
}
