package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/db/testutil"
	"github.com/mwcooley99/cbl-lti-app/internal/grading"
	"github.com/mwcooley99/cbl-lti-app/internal/ingest"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/pull"
	"github.com/mwcooley99/cbl-lti-app/internal/roster"
	"github.com/mwcooley99/cbl-lti-app/internal/term"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"
)

type recordingReporter struct {
	mu        sync.Mutex
	started   bool
	progress  []int
	completed *RunReport
	failed    error
}

func (r *recordingReporter) Started() { r.started = true }
func (r *recordingReporter) Progress(pct int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, pct)
}
func (r *recordingReporter) Completed(report *RunReport) { r.completed = report }
func (r *recordingReporter) Failed(err error)            { r.failed = err }

type fakeCatalog struct {
	termsErr error
	courses  []int64
}

func (f *fakeCatalog) PullTerms(context.Context) (int, error) { return 0, f.termsErr }
func (f *fakeCatalog) PullUsers(context.Context) (int, error) { return 0, nil }
func (f *fakeCatalog) PullCourses(_ context.Context, termID int64) (int, error) {
	f.courses = append(f.courses, termID)
	return 0, nil
}

type fakeRoster struct {
	failCourse int64
}

func (f *fakeRoster) SyncTerm(_ context.Context, termID int64, courses []model.Course) (*roster.Result, error) {
	res := &roster.Result{}
	for _, c := range courses {
		if c.ID == f.failCourse {
			res.Failures = append(res.Failures, model.CourseFailure{TermID: termID, CourseID: c.ID, Stage: roster.Stage, Error: "boom"})
			continue
		}
		res.Courses++
		res.Enrollments += 2
	}
	return res, nil
}

type fakeIngest struct{}

func (fakeIngest) IngestTerm(_ context.Context, _ int64, courses []model.Course) (*ingest.Result, error) {
	return &ingest.Result{Courses: len(courses), Results: 3 * len(courses)}, nil
}

type fakeGrader struct {
	rulesErr error
	termErr  map[int64]error
	graded   []int64
}

func (f *fakeGrader) Rules(context.Context) ([]model.GradeRule, error) {
	return testutil.DefaultRules(), f.rulesErr
}

func (f *fakeGrader) GradeTerm(_ context.Context, t model.Term) (*grading.Summary, error) {
	if err := f.termErr[t.ID]; err != nil {
		return nil, err
	}
	f.graded = append(f.graded, t.ID)
	return &grading.Summary{TermID: t.ID, Grades: 4, Record: &model.Record{ID: t.ID * 10, TermID: t.ID}}, nil
}

type fakeExporter struct {
	records []int64
	err     error
}

func (f *fakeExporter) ExportRecord(_ context.Context, _ model.Term, record *model.Record) (string, error) {
	f.records = append(f.records, record.ID)
	return "exports/record.xlsx", f.err
}

type fakeLocker struct {
	err      error
	released bool
}

func (f *fakeLocker) Acquire(context.Context) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() { f.released = true }, nil
}

func seedTerms(t *testing.T) (db.Repository, *term.Registry) {
	t.Helper()
	repo, gdb := testutil.Repo(t)
	testutil.MustCreate(t, gdb,
		&model.Term{ID: 1, Name: "Fall", SyncEnabled: true},
		&model.Term{ID: 2, Name: "Spring", SyncEnabled: true},
		&model.Term{ID: 3, Name: "Archive"},
		&model.Course{ID: 11, Name: "Biology", TermID: 1, IsGradable: true},
		&model.Course{ID: 12, Name: "Chemistry", TermID: 1, IsGradable: true},
		&model.Course{ID: 21, Name: "Physics", TermID: 2, IsGradable: true},
	)
	return repo, term.NewRegistry(repo, 0)
}

func TestRunIsolatesCourseAndTermFailures(t *testing.T) {
	repo, registry := seedTerms(t)
	grader := &fakeGrader{termErr: map[int64]error{2: errors.New("deadlock")}}
	exporter := &fakeExporter{}
	locker := &fakeLocker{}
	runner := NewRunner(repo, registry, Stages{
		Catalog:  &fakeCatalog{},
		Roster:   &fakeRoster{failCourse: 12},
		Ingest:   fakeIngest{},
		Grade:    grader,
		Exporter: exporter,
		Locker:   locker,
	})

	reporter := &recordingReporter{}
	report, err := runner.Run(context.Background(), model.RunRequest{}, reporter)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusCompletedWithErrors {
		t.Fatalf("run status: want=%s got=%s", StatusCompletedWithErrors, report.Status)
	}
	if len(report.Terms) != 2 {
		t.Fatalf("terms: want=2 got=%d", len(report.Terms))
	}

	fall, spring := report.Terms[0], report.Terms[1]
	if fall.Status != StatusCompletedWithErrors || len(fall.SkippedCourses) != 1 || fall.SkippedCourses[0].CourseID != 12 {
		t.Fatalf("fall: got=%+v", fall)
	}
	if fall.RecordID == nil || *fall.RecordID != 10 || fall.Enrollments != 2 || fall.Results != 6 {
		t.Fatalf("fall counts: got=%+v", fall)
	}
	if spring.Status != StatusFailed || spring.Error == "" {
		t.Fatalf("spring: got=%+v", spring)
	}
	if len(report.SkippedCourses()) != 1 {
		t.Fatalf("skipped courses: got=%+v", report.SkippedCourses())
	}

	if len(exporter.records) != 1 || exporter.records[0] != 10 {
		t.Fatalf("exports: got=%v", exporter.records)
	}
	if !locker.released {
		t.Fatalf("lock not released")
	}
	if !reporter.started || reporter.completed != report || reporter.failed != nil {
		t.Fatalf("reporter: started=%v completed=%v failed=%v", reporter.started, reporter.completed, reporter.failed)
	}
	for i := 1; i < len(reporter.progress); i++ {
		if reporter.progress[i] < reporter.progress[i-1] {
			t.Fatalf("progress went backwards: %v", reporter.progress)
		}
	}
	if last := reporter.progress[len(reporter.progress)-1]; last != 100 {
		t.Fatalf("final progress: want=100 got=%d", last)
	}
}

func TestRunSingleTermAndRefreshWarnings(t *testing.T) {
	repo, registry := seedTerms(t)
	catalog := &fakeCatalog{termsErr: errors.New("canvas down")}
	grader := &fakeGrader{}
	runner := NewRunner(repo, registry, Stages{
		Catalog: catalog,
		Roster:  &fakeRoster{},
		Ingest:  fakeIngest{},
		Grade:   grader,
	})

	termID := int64(3)
	report, err := runner.Run(context.Background(), model.RunRequest{TermID: &termID}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusCompleted {
		t.Fatalf("status: want=%s got=%s", StatusCompleted, report.Status)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings: got=%v", report.Warnings)
	}
	if len(grader.graded) != 1 || grader.graded[0] != 3 {
		t.Fatalf("graded terms: got=%v", grader.graded)
	}
	if len(catalog.courses) != 1 || catalog.courses[0] != 3 {
		t.Fatalf("course refresh: got=%v", catalog.courses)
	}
}

func TestRunAbortsOnFatalErrors(t *testing.T) {
	repo, registry := seedTerms(t)
	missing := int64(99)

	cases := map[string]struct {
		stages Stages
		req    model.RunRequest
		want   error
	}{
		"invalid rules": {
			stages: Stages{Grade: &fakeGrader{rulesErr: apperrors.NewFatalError(apperrors.ErrInvalidGradeRules)}},
			want:   apperrors.ErrInvalidGradeRules,
		},
		"run in progress": {
			stages: Stages{Grade: &fakeGrader{}, Locker: &fakeLocker{err: apperrors.ErrRunInProgress}},
			want:   apperrors.ErrRunInProgress,
		},
		"unknown term": {
			stages: Stages{Grade: &fakeGrader{}},
			req:    model.RunRequest{TermID: &missing},
			want:   apperrors.ErrTermNotFound,
		},
		"missing credentials": {
			stages: Stages{Grade: &fakeGrader{termErr: map[int64]error{1: apperrors.NewFatalError(apperrors.ErrMissingCredentials)}}},
			want:   apperrors.ErrMissingCredentials,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			stages := tc.stages
			stages.Catalog = &fakeCatalog{}
			stages.Roster = &fakeRoster{}
			stages.Ingest = fakeIngest{}

			reporter := &recordingReporter{}
			report, err := NewRunner(repo, registry, stages).Run(context.Background(), tc.req, reporter)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Run: want %v got=%v", tc.want, err)
			}
			if report.Status != StatusFailed || report.Error == "" {
				t.Fatalf("report: got=%+v", report)
			}
			if reporter.failed == nil || reporter.completed != nil {
				t.Fatalf("reporter: failed=%v completed=%v", reporter.failed, reporter.completed)
			}
		})
	}
}

type fakeCanvas struct{}

var cutoff = time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC)

func (fakeCanvas) ListTerms(context.Context) ([]model.CanvasTerm, error) {
	return []model.CanvasTerm{{ID: 1, Name: "Fall 2019"}}, nil
}

func (fakeCanvas) ListUsers(context.Context) ([]model.CanvasUser, error) {
	return []model.CanvasUser{{ID: 100, Name: "Ada"}, {ID: 101, Name: "Grace"}}, nil
}

func (fakeCanvas) ListCourses(context.Context, int64) ([]model.CanvasCourse, error) {
	return []model.CanvasCourse{{ID: 11, Name: "Biology"}, {ID: 12, Name: "@dtech Studio"}}, nil
}

func (fakeCanvas) ListCourseSections(_ context.Context, courseID int64) ([]model.CanvasSection, error) {
	sis := int64(1)
	return []model.CanvasSection{{ID: courseID * 10, Name: "Period 1", Students: []model.CanvasSectionStudent{
		{ID: 100, SISImportID: &sis, Enrollments: []model.CanvasEnrollment{{EnrollmentState: "active"}}},
	}}}, nil
}

func (fakeCanvas) ListOutcomeResults(_ context.Context, courseID int64, _ []int64) (*model.OutcomeResultSet, error) {
	s := func(v float64) *float64 { return &v }
	return &model.OutcomeResultSet{
		Results: []model.CanvasOutcomeResult{
			{ID: courseID*100 + 1, Score: s(2), UserID: 100, OutcomeID: 5, AlignmentID: "a1", SubmittedOrAssessedAt: cutoff.AddDate(0, -2, 0)},
			{ID: courseID*100 + 2, Score: s(4), UserID: 100, OutcomeID: 5, AlignmentID: "a2", SubmittedOrAssessedAt: cutoff.AddDate(0, -1, 0)},
			{ID: courseID*100 + 3, Score: s(4), UserID: 100, OutcomeID: 5, AlignmentID: "a3", SubmittedOrAssessedAt: cutoff.AddDate(0, 0, 3)},
		},
		Outcomes:   []model.CanvasOutcome{{ID: 5, Title: "Evidence"}},
		Alignments: []model.CanvasAlignment{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}},
	}, nil
}

func TestRunEndToEnd(t *testing.T) {
	repo, gdb := testutil.Repo(t)
	ctx := context.Background()
	rules := testutil.DefaultRules()
	testutil.MustCreate(t, gdb, &rules, &model.Term{ID: 1, Name: "Fall", CutOffDate: &cutoff, SyncEnabled: true})

	registry := term.NewRegistry(repo, 0)
	filter, err := pull.NewCourseFilter([]string{`^@dtech`})
	if err != nil {
		t.Fatalf("NewCourseFilter: %v", err)
	}
	canvas := fakeCanvas{}
	runner := NewRunner(repo, registry, Stages{
		Catalog: pull.NewService(repo, canvas, registry, filter),
		Roster:  roster.NewSynchronizer(repo, canvas, 2),
		Ingest:  ingest.NewIngestor(repo, canvas, ingest.Options{Concurrency: 2}),
		Grade:   grading.NewEngine(repo),
	})

	report, err := runner.Run(ctx, model.RunRequest{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusCompleted || len(report.Terms) != 1 {
		t.Fatalf("report: got=%+v", report)
	}

	got, _ := repo.GetTerm(ctx, 1)
	if got.Name != "Fall 2019" || !got.SyncEnabled || got.CutOffDate == nil {
		t.Fatalf("term after refresh: got=%+v", got)
	}

	for _, table := range []interface{}{&model.Enrollment{}, &model.OutcomeResult{}, &model.Grade{}} {
		var n int64
		gdb.Model(table).Where("course_id = ?", 12).Count(&n)
		if n != 0 {
			t.Fatalf("excluded course has %d rows in %T", n, table)
		}
	}

	record, err := repo.LatestRecord(ctx, 1)
	if err != nil || record == nil {
		t.Fatalf("LatestRecord: got=%v err=%v", record, err)
	}
	grades, err := repo.ListRecordGrades(ctx, record.ID)
	if err != nil {
		t.Fatalf("ListRecordGrades: %v", err)
	}
	if len(grades) != 1 || grades[0].CourseID != 11 || grades[0].Grade != "A" {
		t.Fatalf("grades: got=%+v", grades)
	}

	// A second identical run mints a new record and keeps exactly one visible.
	if _, err := runner.Run(ctx, model.RunRequest{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var records []int64
	gdb.Model(&model.Grade{}).Distinct("record_id").Pluck("record_id", &records)
	if len(records) != 1 || records[0] <= record.ID {
		t.Fatalf("visible records after rerun: got=%v (first=%d)", records, record.ID)
	}
}
