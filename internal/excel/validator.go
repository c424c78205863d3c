package excel

import (
	"context"
	"fmt"
	"sort"

	"github.com/mwcooley99/cbl-lti-app/internal/grading"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/pkg/errors"
)

const maxGradeLabel = 16

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks each row, then sorts the rules by rank and checks the
// table as a whole.
func (v *Validator) Validate(ctx context.Context, rules []model.GradeRule) error {
	if len(rules) == 0 {
		return errors.ErrSchemaValidation
	}

	seen := make(map[int]bool, len(rules))
	for _, rule := range rules {
		if err := v.validateRule(rule); err != nil {
			return err
		}
		if seen[rule.Rank] {
			return errors.ValidationError{
				Field:   "rank",
				Value:   rule.Rank,
				Message: "must be unique",
			}
		}
		seen[rule.Rank] = true
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Rank < rules[j].Rank })
	if err := grading.ValidateRules(rules); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrSchemaValidation, err)
	}
	return nil
}

func (v *Validator) validateRule(rule model.GradeRule) error {
	if rule.Rank < 1 {
		return errors.ValidationError{
			Field:   "rank",
			Value:   rule.Rank,
			Message: "must be 1 or greater",
		}
	}

	if len(rule.Grade) == 0 || len(rule.Grade) > maxGradeLabel {
		return errors.ValidationError{
			Field:   "grade",
			Value:   rule.Grade,
			Message: fmt.Sprintf("must be 1-%d characters", maxGradeLabel),
		}
	}

	if rule.Threshold < 0 {
		return errors.ValidationError{
			Field:   "threshold",
			Value:   rule.Threshold,
			Message: "cannot be negative",
		}
	}

	if rule.MinScore < 0 {
		return errors.ValidationError{
			Field:   "min_score",
			Value:   rule.MinScore,
			Message: "cannot be negative",
		}
	}

	return nil
}
