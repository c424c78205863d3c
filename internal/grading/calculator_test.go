package grading

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/db/testutil"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"
)

var cutoff = time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC)

func result(id int64, score float64, at time.Time) model.ScoredResult {
	return model.ScoredResult{ID: id, UserID: 1, CourseID: 2, OutcomeID: 3, Score: score, SubmittedOrAssessedAt: at}
}

func before(days int) time.Time { return cutoff.AddDate(0, 0, -days) }
func after(days int) time.Time  { return cutoff.AddDate(0, 0, days) }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClassifyExample(t *testing.T) {
	got := Classify([]float64{4, 4, 4, 4, 3}, testutil.DefaultRules())
	if got.Grade != "A" {
		t.Fatalf("grade: want=A got=%s", got.Grade)
	}
	if *got.Threshold != 4 || *got.MinScore != 3 {
		t.Fatalf("scores: want=4/3 got=%v/%v", *got.Threshold, *got.MinScore)
	}
}

func TestClassifyWalksRulesInRankOrder(t *testing.T) {
	rules := testutil.DefaultRules()
	cases := []struct {
		scores []float64
		want   string
	}{
		{[]float64{3.5, 3.5, 3.5, 2.5}, "A-"},
		{[]float64{3, 3, 3, 2.5}, "B+"},
		{[]float64{3.2, 3, 3.1, 2}, "B-"},
		{[]float64{2.5, 2.5, 2}, "C"},
		{[]float64{1, 1, 1}, "I"},
		{[]float64{4}, "A"},
	}
	for _, tc := range cases {
		got := Classify(tc.scores, rules)
		if got.Grade != tc.want {
			t.Fatalf("Classify(%v): want=%s got=%s", tc.scores, tc.want, got.Grade)
		}
	}
}

func TestClassifyNotApplicable(t *testing.T) {
	rules := testutil.DefaultRules()
	for _, scores := range [][]float64{nil, {UnassessedScore, 3}} {
		got := Classify(scores, rules)
		if got.Grade != model.NotApplicableGrade || got.Threshold != nil || got.MinScore != nil {
			t.Fatalf("Classify(%v): got=%+v", scores, got)
		}
	}
}

func TestClassifyFallsBackToLastRule(t *testing.T) {
	rules := []model.GradeRule{
		{Rank: 1, Grade: "A", Threshold: 3.5, MinScore: 3},
		{Rank: 2, Grade: "Z", Threshold: 1, MinScore: 1},
	}
	got := Classify([]float64{0.5}, rules)
	if got.Grade != "Z" || *got.Threshold != 0.5 {
		t.Fatalf("fallback: got=%s threshold=%v", got.Grade, *got.Threshold)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	rules := testutil.DefaultRules()
	labels := map[string]bool{}
	for _, r := range rules {
		labels[r.Grade] = true
	}
	for a := 0.0; a <= 4; a += 0.25 {
		for b := 0.0; b <= 4; b += 0.5 {
			got := Classify([]float64{a, b, 4}, rules)
			if !labels[got.Grade] {
				t.Fatalf("Classify(%v,%v,4): label %q not in table", a, b, got.Grade)
			}
		}
	}
}

func TestThresholdIndex(t *testing.T) {
	cases := map[int]int{1: 0, 2: 0, 3: 1, 4: 2, 5: 2, 8: 5}
	for count, want := range cases {
		if got := ThresholdIndex(count); got != want {
			t.Fatalf("ThresholdIndex(%d): want=%d got=%d", count, want, got)
		}
	}
}

func TestOutcomeAveragesDropsLowestEligible(t *testing.T) {
	results := []model.ScoredResult{
		result(1, 2.0, before(30)),
		result(2, 4.0, before(10)),
		result(3, 4.0, after(5)),
	}
	got := OutcomeAverages(results, &cutoff)
	if len(got) != 1 {
		t.Fatalf("averages: want=1 got=%d", len(got))
	}
	avg := got[0]
	if !approx(avg.FullAvg, 10.0/3) {
		t.Fatalf("full avg: want=%v got=%v", 10.0/3, avg.FullAvg)
	}
	if !approx(avg.Average, 4.0) || avg.DroppedID != 1 {
		t.Fatalf("drop: want avg=4 dropped=1 got avg=%v dropped=%d", avg.Average, avg.DroppedID)
	}
}

func TestOutcomeAveragesSingleResultNeverDropped(t *testing.T) {
	got := OutcomeAverages([]model.ScoredResult{result(1, 4.0, before(3))}, &cutoff)
	if got[0].Average != 4.0 || got[0].DroppedID != 0 {
		t.Fatalf("single: got=%+v", got[0])
	}
}

func TestOutcomeAveragesOnlyBeforeCutoffIsEligible(t *testing.T) {
	results := []model.ScoredResult{
		result(1, 4.0, before(3)),
		result(2, 1.0, cutoff),
		result(3, 1.0, after(3)),
	}
	got := OutcomeAverages(results, &cutoff)
	if got[0].DroppedID != 0 || !approx(got[0].Average, 2.0) {
		t.Fatalf("late lows must stay: got=%+v", got[0])
	}

	if got := OutcomeAverages(results, nil); got[0].DroppedID != 0 {
		t.Fatalf("nil cutoff: got=%+v", got[0])
	}
}

func TestOutcomeAveragesUndatedResultNotDropped(t *testing.T) {
	results := []model.ScoredResult{
		result(1, 1.0, time.Time{}),
		result(2, 4.0, before(3)),
		result(3, 3.0, before(2)),
	}
	got := OutcomeAverages(results, &cutoff)
	if got[0].DroppedID != 0 || !approx(got[0].Average, 8.0/3) {
		t.Fatalf("undated low: want no drop avg=%v got=%+v", 8.0/3, got[0])
	}

	// The dated low is still dropped even when an undated one is lower.
	results[2] = result(3, 2.0, before(2))
	got = OutcomeAverages(results, &cutoff)
	if got[0].DroppedID != 3 || !approx(got[0].Average, 2.5) {
		t.Fatalf("dated low: want dropped=3 avg=2.5 got=%+v", got[0])
	}
}

func TestOutcomeAveragesNoDropWhenItDoesNotHelp(t *testing.T) {
	results := []model.ScoredResult{
		result(1, 3.0, before(3)),
		result(2, 3.0, before(2)),
	}
	got := OutcomeAverages(results, &cutoff)
	if got[0].DroppedID != 0 || got[0].Average != 3.0 {
		t.Fatalf("equal scores: got=%+v", got[0])
	}
}

func TestOutcomeAveragesDropsEarliestOfEqualLows(t *testing.T) {
	results := []model.ScoredResult{
		result(7, 1.0, before(5)),
		result(5, 1.0, before(9)),
		result(6, 4.0, before(1)),
	}
	got := OutcomeAverages(results, &cutoff)
	if got[0].DroppedID != 5 {
		t.Fatalf("dropped: want=5 got=%d", got[0].DroppedID)
	}
}

func TestOutcomeAveragesMonotonicAndSingleDrop(t *testing.T) {
	scores := []float64{0, 1, 1.5, 2, 2.5, 3, 3.5, 4}
	var results []model.ScoredResult
	id := int64(1)
	for outcome := int64(1); outcome <= 6; outcome++ {
		for i := 0; i < int(outcome); i++ {
			r := result(id, scores[(int(id)*5)%len(scores)], before(int(id)%3-1))
			r.OutcomeID = outcome
			results = append(results, r)
			id++
		}
	}

	for _, avg := range OutcomeAverages(results, &cutoff) {
		if avg.Average < avg.FullAvg {
			t.Fatalf("outcome %d: average %v below full %v", avg.OutcomeID, avg.Average, avg.FullAvg)
		}
		if avg.Count == 1 && avg.DroppedID != 0 {
			t.Fatalf("outcome %d: sole result dropped", avg.OutcomeID)
		}
	}
}

func TestGradeStudentsGroupsPairs(t *testing.T) {
	averages := []OutcomeAverage{
		{UserID: 2, CourseID: 1, OutcomeID: 9, Average: 4},
		{UserID: 1, CourseID: 1, OutcomeID: 2, Average: 1},
		{UserID: 1, CourseID: 1, OutcomeID: 1, Average: 1},
	}
	got := GradeStudents(averages, testutil.DefaultRules())
	if len(got) != 2 {
		t.Fatalf("grades: want=2 got=%d", len(got))
	}
	if got[0].UserID != 1 || got[0].Grade != "I" || got[0].Outcomes[0].OutcomeID != 1 {
		t.Fatalf("first: got=%+v", got[0])
	}
	if got[1].UserID != 2 || got[1].Grade != "A" {
		t.Fatalf("second: got=%+v", got[1])
	}
}

func TestValidateRules(t *testing.T) {
	if err := ValidateRules(testutil.DefaultRules()); err != nil {
		t.Fatalf("default rules: %v", err)
	}

	bad := map[string][]model.GradeRule{
		"empty":       nil,
		"no fallback": testutil.DefaultRules()[:6],
		"unordered": {
			{Rank: 2, Grade: "A", Threshold: 3, MinScore: 3},
			{Rank: 1, Grade: "I"},
		},
		"unlabelled": {{Rank: 1}},
	}
	for name, rules := range bad {
		err := ValidateRules(rules)
		if !errors.Is(err, apperrors.ErrInvalidGradeRules) {
			t.Fatalf("%s: want ErrInvalidGradeRules got=%v", name, err)
		}
	}
}
