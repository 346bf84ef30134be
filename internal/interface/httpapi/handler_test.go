package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jinford/code-archaeologist/internal/module/excavation/adapter/eventlog"
	"github.com/jinford/code-archaeologist/internal/module/excavation/adapter/store"
	"github.com/jinford/code-archaeologist/internal/module/excavation/application"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	testutil "github.com/jinford/code-archaeologist/internal/module/excavation/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type apiFixture struct {
	server *Server
	events *eventlog.Log

	mu    sync.Mutex
	tasks []func()
}

// runTasks は投入済みジョブのタスクを同期的に実行します
func (f *apiFixture) runTasks() {
	f.mu.Lock()
	tasks := f.tasks
	f.tasks = nil
	f.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func newAPIFixture(t *testing.T, respond func(prompt string) (string, error)) *apiFixture {
	t.Helper()
	s, err := store.NewMemoryStore(0)
	require.NoError(t, err)

	f := &apiFixture{events: eventlog.New(10)}
	accessor := &testutil.MockRepositoryAccessor{
		ValidateFunc: func(reference string) error {
			if !strings.HasPrefix(reference, "https://") {
				return &domain.ValidationError{Field: "repository", Reason: "not a valid git URL"}
			}
			return nil
		},
		AcquireFunc: func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
			return &testutil.MockWorkspace{
				UnitsFunc: func(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error) {
					return testutil.TestCommitUnits(2), nil
				},
			}, nil
		},
	}
	synthesizers := func(ctx context.Context) (domain.Synthesizer, error) {
		return testutil.ScriptedSynthesizer(respond), nil
	}

	pipeline := application.NewPipeline(s, f.events, testLogger(), 0)
	manager := application.NewJobManager(s, accessor, synthesizers, pipeline, f.events, testLogger(),
		application.WithLauncher(func(task func()) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.tasks = append(f.tasks, task)
		}),
	)

	handler := NewHandler(manager, f.events, Health{StoreBackend: domain.StoreBackendMemory, Model: "gpt-4o-mini"}, testLogger())
	f.server = NewServer(handler, testLogger())
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func validAnalysis(prompt string) (string, error) {
	return testutil.TestAnalysisJSON("adds billing", "Billing"), nil
}

func TestHandler_SubmitAndPoll(t *testing.T) {
	f := newAPIFixture(t, validAnalysis)

	// 投入直後は pending
	rec, body := f.do(t, http.MethodPost, "/api/v1/excavations", `{"repository":"https://github.com/example/shop.git","options":{"maxUnits":2}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", body["status"])
	jobID, ok := body["jobId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	rec, body = f.do(t, http.MethodGet, "/api/v1/excavations/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["result"])

	// 完了前のレポートは 409
	rec, body = f.do(t, http.MethodGet, "/api/v1/excavations/"+jobID+"/report", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "jobError")

	f.runTasks()

	rec, body = f.do(t, http.MethodGet, "/api/v1/excavations/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 100, body["progress"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/excavations/"+jobID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["unitsAnalyzed"])
	assert.Equal(t, "full", body["confidence"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/excavations", nil)
	listRec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)
	var summaries []map[string]any
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, jobID, summaries[0]["id"])
}

func TestHandler_Submit_BadRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{
			name:      "不正なリポジトリ",
			body:      `{"repository":"not a url"}`,
			wantField: "repository",
		},
		{
			name:      "不正なモード",
			body:      `{"repository":"https://github.com/example/shop.git","options":{"mode":"symbols"}}`,
			wantField: "options.mode",
		},
		{
			name: "壊れたJSON",
			body: `{"repository":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, validAnalysis)

			rec, body := f.do(t, http.MethodPost, "/api/v1/excavations", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, body["field"])
			}
			assert.Empty(t, f.events.Recent(0))
		})
	}
}

func TestHandler_FailedJobReport(t *testing.T) {
	f := newAPIFixture(t, func(prompt string) (string, error) {
		panic("unexpected")
	})

	_, body := f.do(t, http.MethodPost, "/api/v1/excavations", `{"repository":"https://github.com/example/shop.git"}`)
	jobID := body["jobId"].(string)
	f.runTasks()

	rec, body := f.do(t, http.MethodGet, "/api/v1/excavations/"+jobID+"/report", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "internal error during excavation", body["jobError"])
}

func TestHandler_NotFound(t *testing.T) {
	f := newAPIFixture(t, validAnalysis)

	for _, path := range []string{"/api/v1/excavations/missing", "/api/v1/excavations/missing/report"} {
		rec, body := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "job not found", body["error"], path)
	}
}

func TestHandler_Events(t *testing.T) {
	f := newAPIFixture(t, validAnalysis)
	for i := 0; i < 3; i++ {
		f.do(t, http.MethodPost, "/api/v1/excavations", `{"repository":"https://github.com/example/shop.git"}`)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=2", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventJobSubmitted, events[0].Type)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	f := newAPIFixture(t, validAnalysis)

	rec, body := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["storeBackend"])
	assert.Equal(t, "gpt-4o-mini", body["model"])
}

// failingJobs はすべての操作でストア障害を返す JobService です
type failingJobs struct{}

func (failingJobs) Submit(ctx context.Context, repository string, opts domain.JobOptions) (*domain.Job, error) {
	return nil, errors.New("connection refused: postgres://user:secret@db")
}

func (failingJobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	return nil, errors.New("connection refused")
}

func (failingJobs) List(ctx context.Context) ([]domain.JobSummary, error) {
	return nil, errors.New("connection refused")
}

func (failingJobs) Report(ctx context.Context, id string) (*domain.ExcavationResult, error) {
	return nil, errors.New("connection refused")
}

func TestHandler_InternalErrorsAreSanitized(t *testing.T) {
	server := NewServer(NewHandler(failingJobs{}, eventlog.New(1), Health{}, testLogger()), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/excavations", strings.NewReader(`{"repository":"https://github.com/example/shop.git"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), "internal server error")
}
