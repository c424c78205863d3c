package excel

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/xuri/excelize/v2"
)

var ruleColumns = []string{"rank", "grade", "threshold", "min_score"}

// Parser reads a grade rule sheet: the first worksheet, a header row naming
// rank, grade, threshold and min_score, then one rule per row.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(ctx context.Context, data []byte) ([]model.GradeRule, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFileFormat, err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	if len(rows) < 2 { // Header + at least one rule
		return nil, errors.ErrInvalidFileFormat
	}

	columnMap := make(map[string]int)
	for i, col := range rows[0] {
		name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(col)), " ", "_")
		columnMap[name] = i
	}
	for _, col := range ruleColumns {
		if _, exists := columnMap[col]; !exists {
			return nil, fmt.Errorf("%w: missing required column %s", errors.ErrInvalidFileFormat, col)
		}
	}

	var rules []model.GradeRule
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}

		rule, err := p.parseRow(row, columnMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (p *Parser) parseRow(row []string, columnMap map[string]int) (model.GradeRule, error) {
	getValue := func(colName string) string {
		if idx, exists := columnMap[colName]; exists && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	rank, err := strconv.Atoi(getValue("rank"))
	if err != nil {
		return model.GradeRule{}, errors.ValidationError{Field: "rank", Value: getValue("rank"), Message: "must be an integer"}
	}

	threshold, err := parseScore(getValue("threshold"))
	if err != nil {
		return model.GradeRule{}, errors.ValidationError{Field: "threshold", Value: getValue("threshold"), Message: "must be a number"}
	}

	minScore, err := parseScore(getValue("min_score"))
	if err != nil {
		return model.GradeRule{}, errors.ValidationError{Field: "min_score", Value: getValue("min_score"), Message: "must be a number"}
	}

	return model.GradeRule{
		Rank:      rank,
		Grade:     getValue("grade"),
		Threshold: threshold,
		MinScore:  minScore,
	}, nil
}

// parseScore treats an empty cell as 0, as the fallback row is usually left blank.
func parseScore(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
