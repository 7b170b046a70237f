package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"compdb/internal/ingest"
	"compdb/internal/scheduler"
	"compdb/internal/store"
	logx "compdb/pkg/logx"
)

type stubScheduler struct {
	running    bool
	triggerRes *ingest.Result
	triggerErr error
}

func (s *stubScheduler) Start() { s.running = true }
func (s *stubScheduler) Stop()  { s.running = false }

func (s *stubScheduler) Status() scheduler.Status {
	st := scheduler.Status{Running: s.running}
	if s.running {
		next := time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
		st.NextRun = &next
		st.Jobs = []scheduler.JobInfo{{
			ID:      "weekly_comparables_update",
			Name:    "Weekly Comparables Database Update",
			NextRun: &next,
		}}
	}
	return st
}

func (s *stubScheduler) TriggerManual(ctx context.Context) (*ingest.Result, error) {
	return s.triggerRes, s.triggerErr
}

type stubIngestion struct {
	pending     []store.Project
	pendingErr  error
	gotLimit    int
	missingID   int64
	history     []store.IngestionJob
	historyErr  error
	approvedIDs []int64
	rejectedIDs []int64
}

func (s *stubIngestion) PendingProjects(ctx context.Context, limit int) ([]store.Project, error) {
	s.gotLimit = limit
	return s.pending, s.pendingErr
}

func (s *stubIngestion) ApproveProject(ctx context.Context, id int64) (bool, error) {
	if id == s.missingID {
		return false, nil
	}
	s.approvedIDs = append(s.approvedIDs, id)
	return true, nil
}

func (s *stubIngestion) RejectProject(ctx context.Context, id int64) (bool, error) {
	if id == s.missingID {
		return false, nil
	}
	s.rejectedIDs = append(s.rejectedIDs, id)
	return true, nil
}

func (s *stubIngestion) IngestionHistory(ctx context.Context, limit int) ([]store.IngestionJob, error) {
	s.gotLimit = limit
	return s.history, s.historyErr
}

func newTestServer(t *testing.T, sched Scheduler, ing Ingestion) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(sched, ing, logx.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func decodeResponse[T any](t *testing.T, resp *http.Response) APIResponse[T] {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out APIResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &stubScheduler{}, &stubIngestion{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeResponse[map[string]string](t, resp)
	if out.Data["status"] != "ok" {
		t.Errorf("unexpected body: %+v", out)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestSchedulerStatus(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &stubScheduler{running: true}, &stubIngestion{})

	resp, err := http.Get(srv.URL + "/api/v1/scheduler/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	out := decodeResponse[scheduler.Status](t, resp)
	if !out.Data.Running {
		t.Error("expected running=true")
	}
	if len(out.Data.Jobs) != 1 || out.Data.Jobs[0].ID != "weekly_comparables_update" {
		t.Errorf("unexpected jobs: %+v", out.Data.Jobs)
	}
	if out.Data.NextRun == nil {
		t.Error("expected a next run time")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()
	sched := &stubScheduler{}
	srv := newTestServer(t, sched, &stubIngestion{})

	resp, err := http.Post(srv.URL+"/api/v1/scheduler/start", "", nil)
	if err != nil {
		t.Fatalf("POST start: %v", err)
	}
	out := decodeResponse[scheduler.Status](t, resp)
	if !out.Data.Running {
		t.Error("expected running=true after start")
	}

	resp, err = http.Post(srv.URL+"/api/v1/scheduler/stop", "", nil)
	if err != nil {
		t.Fatalf("POST stop: %v", err)
	}
	out = decodeResponse[scheduler.Status](t, resp)
	if out.Data.Running {
		t.Error("expected running=false after stop")
	}
}

func TestTriggerUpdate(t *testing.T) {
	t.Parallel()

	t.Run("reported failure is still 200", func(t *testing.T) {
		t.Parallel()
		sched := &stubScheduler{triggerRes: &ingest.Result{Success: false, Error: "research API error"}}
		srv := newTestServer(t, sched, &stubIngestion{})

		resp, err := http.Post(srv.URL+"/api/v1/updates/trigger", "", nil)
		if err != nil {
			t.Fatalf("POST trigger: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		out := decodeResponse[*ingest.Result](t, resp)
		if out.Data.Success {
			t.Error("expected success=false in payload")
		}
		if out.Data.Error != "research API error" {
			t.Errorf("unexpected error description: %q", out.Data.Error)
		}
	})

	t.Run("fault maps to 502", func(t *testing.T) {
		t.Parallel()
		sched := &stubScheduler{triggerErr: errors.New("database is locked")}
		srv := newTestServer(t, sched, &stubIngestion{})

		resp, err := http.Post(srv.URL+"/api/v1/updates/trigger", "", nil)
		if err != nil {
			t.Fatalf("POST trigger: %v", err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", resp.StatusCode)
		}
		out := decodeResponse[string](t, resp)
		if out.Message != "database is locked" {
			t.Errorf("unexpected message: %q", out.Message)
		}
	})
}

func TestPendingProjects(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{pending: []store.Project{{ID: 7, Name: "Red Ridge", Status: store.ProjectPendingApproval}}}
	srv := newTestServer(t, &stubScheduler{}, ing)

	resp, err := http.Get(srv.URL + "/api/v1/projects/pending")
	if err != nil {
		t.Fatalf("GET pending: %v", err)
	}
	out := decodeResponse[[]store.Project](t, resp)
	if len(out.Data) != 1 || out.Data[0].Name != "Red Ridge" {
		t.Fatalf("unexpected projects: %+v", out.Data)
	}
	if ing.gotLimit != defaultPendingLimit {
		t.Errorf("limit = %d, want default %d", ing.gotLimit, defaultPendingLimit)
	}
}

func TestListLimitClamped(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{}
	srv := newTestServer(t, &stubScheduler{}, ing)

	if _, err := http.Get(srv.URL + "/api/v1/ingestions?limit=9999"); err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if ing.gotLimit != maxListLimit {
		t.Errorf("limit = %d, want cap %d", ing.gotLimit, maxListLimit)
	}

	if _, err := http.Get(srv.URL + "/api/v1/ingestions?limit=bogus"); err != nil {
		t.Fatalf("GET history: %v", err)
	}
	if ing.gotLimit != defaultHistoryLimit {
		t.Errorf("limit = %d, want default %d", ing.gotLimit, defaultHistoryLimit)
	}
}

func TestApproveProject(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{missingID: 404}
	srv := newTestServer(t, &stubScheduler{}, ing)

	resp, err := http.Post(srv.URL+"/api/v1/projects/7/approve", "", nil)
	if err != nil {
		t.Fatalf("POST approve: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeResponse[map[string]bool](t, resp)
	if !out.Data["approved"] {
		t.Errorf("unexpected body: %+v", out)
	}
	if len(ing.approvedIDs) != 1 || ing.approvedIDs[0] != 7 {
		t.Errorf("approved ids = %v", ing.approvedIDs)
	}

	resp, err = http.Post(srv.URL+"/api/v1/projects/404/approve", "", nil)
	if err != nil {
		t.Fatalf("POST approve missing: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/api/v1/projects/notanumber/approve", "", nil)
	if err != nil {
		t.Fatalf("POST approve bad id: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestRejectProject(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{missingID: 404}
	srv := newTestServer(t, &stubScheduler{}, ing)

	resp, err := http.Post(srv.URL+"/api/v1/projects/9/reject", "", nil)
	if err != nil {
		t.Fatalf("POST reject: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeResponse[map[string]bool](t, resp)
	if !out.Data["rejected"] {
		t.Errorf("unexpected body: %+v", out)
	}

	resp, err = http.Post(srv.URL+"/api/v1/projects/404/reject", "", nil)
	if err != nil {
		t.Fatalf("POST reject missing: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestIngestionHistory(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{history: []store.IngestionJob{
		{ID: 2, Status: store.JobCompleted, TotalRecords: 5},
		{ID: 1, Status: store.JobFailed, ErrorLog: "quota exceeded"},
	}}
	srv := newTestServer(t, &stubScheduler{}, ing)

	resp, err := http.Get(srv.URL + "/api/v1/ingestions")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	out := decodeResponse[[]store.IngestionJob](t, resp)
	if len(out.Data) != 2 || out.Data[0].ID != 2 || out.Data[1].ErrorLog != "quota exceeded" {
		t.Fatalf("unexpected history: %+v", out.Data)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()
	ing := &stubIngestion{historyErr: nil}
	sched := &panicScheduler{}
	srv := newTestServer(t, sched, ing)

	resp, err := http.Get(srv.URL + "/api/v1/scheduler/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

type panicScheduler struct{ stubScheduler }

func (p *panicScheduler) Status() scheduler.Status { panic("status exploded") }
