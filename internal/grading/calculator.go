// Package grading turns raw outcome results into letter grades.
//
// Results are averaged per (student, course, outcome) with a drop-lowest
// policy, the per-outcome averages of each (student, course) pair are
// classified against an ordered rule table, and the engine persists the
// outcome as a new record.
package grading

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"
)

// UnassessedScore marks a score list whose outcomes were never assessed.
const UnassessedScore = -1.0

// thresholdQuantile selects the score that 75% of outcome averages meet or exceed.
const thresholdQuantile = 0.75

type outcomeKey struct {
	UserID    int64
	CourseID  int64
	OutcomeID int64
}

type pairKey struct {
	UserID   int64
	CourseID int64
}

// OutcomeAverage is the averaged evidence of one student against one outcome in one course.
type OutcomeAverage struct {
	UserID    int64
	CourseID  int64
	OutcomeID int64
	Title     string
	FullAvg   float64
	Average   float64
	Count     int
	// DroppedID is the result excluded from Average, zero when none was.
	DroppedID int64
}

// OutcomeAverages groups results by (student, course, outcome) and applies
// the drop policy: the lowest result submitted strictly before cutoff may be
// excluded, but only one per group, never the only one, and only when doing
// so raises the average. A nil cutoff makes nothing drop-eligible.
func OutcomeAverages(results []model.ScoredResult, cutoff *time.Time) []OutcomeAverage {
	groups := make(map[outcomeKey][]model.ScoredResult)
	for _, r := range results {
		key := outcomeKey{UserID: r.UserID, CourseID: r.CourseID, OutcomeID: r.OutcomeID}
		groups[key] = append(groups[key], r)
	}

	keys := make([]outcomeKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		return a.OutcomeID < b.OutcomeID
	})

	averages := make([]OutcomeAverage, 0, len(keys))
	for _, key := range keys {
		averages = append(averages, averageGroup(key, groups[key], cutoff))
	}
	return averages
}

func averageGroup(key outcomeKey, group []model.ScoredResult, cutoff *time.Time) OutcomeAverage {
	var sum float64
	for _, r := range group {
		sum += r.Score
	}
	n := len(group)
	fullAvg := sum / float64(n)

	avg := OutcomeAverage{
		UserID:    key.UserID,
		CourseID:  key.CourseID,
		OutcomeID: key.OutcomeID,
		Title:     group[0].OutcomeTitle,
		FullAvg:   fullAvg,
		Average:   fullAvg,
		Count:     n,
	}

	if n < 2 || cutoff == nil {
		return avg
	}

	lowest, ok := lowestDropEligible(group, *cutoff)
	if !ok {
		return avg
	}

	dropAvg := (sum - lowest.Score) / float64(n-1)
	if dropAvg > fullAvg {
		avg.Average = dropAvg
		avg.DroppedID = lowest.ID
	}
	return avg
}

// lowestDropEligible picks the minimum-score result submitted before cutoff,
// preferring the earliest submission (then lowest id) among equal scores.
// A result with no submission time is never eligible.
func lowestDropEligible(group []model.ScoredResult, cutoff time.Time) (model.ScoredResult, bool) {
	var lowest model.ScoredResult
	found := false
	for _, r := range group {
		if r.SubmittedOrAssessedAt.IsZero() || !r.SubmittedOrAssessedAt.Before(cutoff) {
			continue
		}
		if !found || r.Score < lowest.Score ||
			(r.Score == lowest.Score && earlier(r, lowest)) {
			lowest = r
			found = true
		}
	}
	return lowest, found
}

func earlier(a, b model.ScoredResult) bool {
	if !a.SubmittedOrAssessedAt.Equal(b.SubmittedOrAssessedAt) {
		return a.SubmittedOrAssessedAt.Before(b.SubmittedOrAssessedAt)
	}
	return a.ID < b.ID
}

// Classification is the grade assigned to a score list with the aggregate
// scores that justify it. Threshold and MinScore are nil for n/a.
type Classification struct {
	Grade     string
	Threshold *float64
	MinScore  *float64
}

// ThresholdIndex is floor(0.75 * count) - 1 clamped to a valid index.
func ThresholdIndex(count int) int {
	k := int(math.Floor(thresholdQuantile*float64(count))) - 1
	if k < 0 {
		k = 0
	}
	if k > count-1 {
		k = count - 1
	}
	return k
}

// Classify walks the rules in rank order and returns the first one whose
// threshold and min_score the scores satisfy, falling back to the last rule.
// rules must be sorted by rank and non-empty; see ValidateRules.
func Classify(scores []float64, rules []model.GradeRule) Classification {
	if len(scores) == 0 || scores[0] == UnassessedScore || len(rules) == 0 {
		return Classification{Grade: model.NotApplicableGrade}
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	threshold := sorted[ThresholdIndex(len(sorted))]
	minScore := sorted[len(sorted)-1]

	grade := rules[len(rules)-1].Grade
	for _, rule := range rules {
		if threshold >= rule.Threshold && minScore >= rule.MinScore {
			grade = rule.Grade
			break
		}
	}

	return Classification{Grade: grade, Threshold: &threshold, MinScore: &minScore}
}

// ValidateRules checks the table is usable: non-empty, strictly increasing
// ranks, labelled rows, and a last rule that matches unconditionally.
func ValidateRules(rules []model.GradeRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: table is empty", apperrors.ErrInvalidGradeRules)
	}
	for i, rule := range rules {
		if rule.Grade == "" {
			return fmt.Errorf("%w: rank %d has no grade label", apperrors.ErrInvalidGradeRules, rule.Rank)
		}
		if i > 0 && rule.Rank <= rules[i-1].Rank {
			return fmt.Errorf("%w: ranks are not strictly increasing at rank %d", apperrors.ErrInvalidGradeRules, rule.Rank)
		}
	}
	fallback := rules[len(rules)-1]
	if fallback.Threshold != 0 || fallback.MinScore != 0 {
		return fmt.Errorf("%w: fallback rule %q must have threshold 0 and min_score 0",
			apperrors.ErrInvalidGradeRules, fallback.Grade)
	}
	return nil
}

// StudentGrade is the classification of one (student, course) pair.
type StudentGrade struct {
	UserID   int64
	CourseID int64
	Classification
	Outcomes []OutcomeAverage
}

// GradeStudents groups outcome averages by (student, course) and classifies
// each pair. Pairs without averages do not appear in the output.
func GradeStudents(averages []OutcomeAverage, rules []model.GradeRule) []StudentGrade {
	groups := make(map[pairKey][]OutcomeAverage)
	var order []pairKey
	for _, avg := range averages {
		key := pairKey{UserID: avg.UserID, CourseID: avg.CourseID}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], avg)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].UserID != order[j].UserID {
			return order[i].UserID < order[j].UserID
		}
		return order[i].CourseID < order[j].CourseID
	})

	grades := make([]StudentGrade, 0, len(order))
	for _, key := range order {
		outcomes := groups[key]
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].OutcomeID < outcomes[j].OutcomeID })

		scores := make([]float64, len(outcomes))
		for i, o := range outcomes {
			scores[i] = o.Average
		}
		grades = append(grades, StudentGrade{
			UserID:         key.UserID,
			CourseID:       key.CourseID,
			Classification: Classify(scores, rules),
			Outcomes:       outcomes,
		})
	}
	return grades
}
