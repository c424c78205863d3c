package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/db"
	"github.com/mwcooley99/cbl-lti-app/internal/db/testutil"
	"github.com/mwcooley99/cbl-lti-app/internal/model"
	"github.com/mwcooley99/cbl-lti-app/internal/term"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type fakeJobs struct {
	jobs     map[string]*model.Job
	runs     []*int64
	imports  []string
	sequence int
}

func (f *fakeJobs) next(kind model.JobKind, termID *int64) *model.Job {
	f.sequence++
	job := &model.Job{ID: string(rune('a' + f.sequence - 1)), Kind: kind, Status: model.JobStatusQueued, TermID: termID}
	f.jobs[job.ID] = job
	return job
}

func (f *fakeJobs) DispatchRun(_ context.Context, termID *int64) (*model.Job, error) {
	f.runs = append(f.runs, termID)
	return f.next(model.JobKindSync, termID), nil
}

func (f *fakeJobs) DispatchRuleImport(_ context.Context, s3Path string) (*model.Job, error) {
	f.imports = append(f.imports, s3Path)
	return f.next(model.JobKindRuleImport, nil), nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*model.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

type fakeStorage struct {
	keys map[string]bool
}

func (f *fakeStorage) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, apperrors.ErrNotFound
}
func (f *fakeStorage) Upload(context.Context, string, io.ReadSeeker) error { return nil }
func (f *fakeStorage) Delete(context.Context, string) error { return nil }
func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

type testServer struct {
	router *gin.Engine
	repo   db.Repository
	gdb    *gorm.DB
	jobs   *fakeJobs
}

func newTestServer(t *testing.T, defaultTermID int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, gdb := testutil.Repo(t)
	jobs := &fakeJobs{jobs: map[string]*model.Job{}}
	store := &fakeStorage{keys: map[string]bool{"rules/2019.xlsx": true}}
	handler := NewHandler(repo, term.NewRegistry(repo, defaultTermID), jobs, store, config.Default())

	return &testServer{router: NewRouter(handler, false), repo: repo, gdb: gdb, jobs: jobs}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, 0)
	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
}

func TestTriggerRun(t *testing.T) {
	s := newTestServer(t, 0)
	testutil.MustCreate(t, s.gdb, &model.Term{ID: 7, Name: "2019-20", SyncEnabled: true})

	if w := s.do(t, http.MethodPost, "/api/v1/runs", nil); w.Code != http.StatusAccepted {
		t.Fatalf("full run: want=202 got=%d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/runs", gin.H{"term_id": 7}); w.Code != http.StatusAccepted {
		t.Fatalf("term run: want=202 got=%d body=%s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/runs", gin.H{"term_id": 99}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown term: want=404 got=%d", w.Code)
	}

	if len(s.jobs.runs) != 2 || s.jobs.runs[0] != nil || *s.jobs.runs[1] != 7 {
		t.Fatalf("dispatched runs: got=%v", s.jobs.runs)
	}

	w := s.do(t, http.MethodGet, "/api/v1/runs/b", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get job: want=200 got=%d", w.Code)
	}
	var job model.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil || job.TermID == nil || *job.TermID != 7 {
		t.Fatalf("job: got=%+v err=%v", job, err)
	}

	if w := s.do(t, http.MethodGet, "/api/v1/runs/zzz", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing job: want=404 got=%d", w.Code)
	}
}

func TestImportGradeRules(t *testing.T) {
	s := newTestServer(t, 0)

	if w := s.do(t, http.MethodPost, "/api/v1/grade-rules/import", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("no path: want=400 got=%d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/grade-rules/import", gin.H{"s3_path": "rules/missing.xlsx"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing sheet: want=404 got=%d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/grade-rules/import", gin.H{"s3_path": "rules/2019.xlsx"}); w.Code != http.StatusAccepted {
		t.Fatalf("import: want=202 got=%d", w.Code)
	}
	if len(s.jobs.imports) != 1 || s.jobs.imports[0] != "rules/2019.xlsx" {
		t.Fatalf("imports: got=%v", s.jobs.imports)
	}

	if err := s.repo.ReplaceGradeRules(context.Background(), testutil.DefaultRules()); err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	w := s.do(t, http.MethodGet, "/api/v1/grade-rules", nil)
	var body struct {
		Rules []model.GradeRule `json:"rules"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.Rules) != 7 {
		t.Fatalf("rules: got=%s err=%v", w.Body, err)
	}
}

func TestCurrentTerm(t *testing.T) {
	s := newTestServer(t, 0)
	if w := s.do(t, http.MethodGet, "/api/v1/terms/current", nil); w.Code != http.StatusNotFound {
		t.Fatalf("no term: want=404 got=%d", w.Code)
	}

	testutil.MustCreate(t, s.gdb, &model.Term{ID: 8, Name: "2020-21", IsCurrent: true})
	w := s.do(t, http.MethodGet, "/api/v1/terms/current", nil)
	var got model.Term
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got.ID != 8 {
		t.Fatalf("current term: got=%s err=%v", w.Body, err)
	}
}

func TestTermGrades(t *testing.T) {
	s := newTestServer(t, 0)

	if w := s.do(t, http.MethodGet, "/api/v1/terms/abc/grades", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=400 got=%d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/terms/7/grades", nil); w.Code != http.StatusNotFound {
		t.Fatalf("no record: want=404 got=%d", w.Code)
	}

	testutil.MustCreate(t, s.gdb,
		&model.User{ID: 10, Name: "Ada", SISUserID: "S10"},
		&model.Course{ID: 1, Name: "Biology", TermID: 7, IsGradable: true},
	)
	grade := model.Grade{UserID: 10, CourseID: 1, Grade: "A", Threshold: testutil.Float(4), MinScore: testutil.Float(3)}
	if _, err := s.repo.ReplaceTermGrades(context.Background(), 7, time.Now().UTC(), []model.Grade{grade}, nil); err != nil {
		t.Fatalf("ReplaceTermGrades: %v", err)
	}

	w := s.do(t, http.MethodGet, "/api/v1/terms/7/grades", nil)
	var body struct {
		Record model.Record      `json:"record"`
		Grades []model.GradeView `json:"grades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Record.TermID != 7 || len(body.Grades) != 1 || body.Grades[0].UserName != "Ada" {
		t.Fatalf("grades: got=%s", w.Body)
	}
}
