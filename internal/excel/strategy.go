package excel

import (
	"context"

	"github.com/mwcooley99/cbl-lti-app/internal/model"
)

// ParsingStrategy turns an uploaded rule sheet into a validated rule table.
type ParsingStrategy interface {
	Parse(ctx context.Context, data []byte) ([]model.GradeRule, error)
	Validate(ctx context.Context, rules []model.GradeRule) error
}

type ExcelStrategy struct {
	parser    *Parser
	validator *Validator
}

func NewExcelStrategy() ParsingStrategy {
	return &ExcelStrategy{
		parser:    NewParser(),
		validator: NewValidator(),
	}
}

func (s *ExcelStrategy) Parse(ctx context.Context, data []byte) ([]model.GradeRule, error) {
	return s.parser.Parse(ctx, data)
}

func (s *ExcelStrategy) Validate(ctx context.Context, rules []model.GradeRule) error {
	return s.validator.Validate(ctx, rules)
}
