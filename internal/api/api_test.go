package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/orchestrator"
	"github.com/shaiso/Orchestra/internal/scheduler"
	"github.com/shaiso/Orchestra/internal/supervisor"
	"github.com/shaiso/Orchestra/internal/telemetry"
	"github.com/shaiso/Orchestra/internal/worker"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch, err := orchestrator.New(orchestrator.Config{
		Cadence: "@every 1h",
		Now:     func() time.Time { return testNow },
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	h := NewHandler(Config{
		Orchestrator: orch,
		Metrics:      telemetry.NewMetrics(),
		Logger:       logger,
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testServer{orch: orch, mux: mux}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) expect(t *testing.T, method, path, body string, status int) *httptest.ResponseRecorder {
	t.Helper()
	rec := s.do(t, method, path, body)
	if rec.Code != status {
		t.Fatalf("%s %s: status = %d, want %d (body: %s)", method, path, rec.Code, status, rec.Body.String())
	}
	return rec
}

// decodeData разбирает поле data ответа.
func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data  T   `json:"data"`
		Total int `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

// --- Task Tests ---

func TestCreateTasks(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"Schema","estimated_hours":4}`, http.StatusCreated)
	if ids := decodeData[CreateTasksResponse](t, rec).IDs; len(ids) != 1 || ids[0] != "T1" {
		t.Errorf("ids = %v, want [T1]", ids)
	}

	rec = s.expect(t, "POST", "/api/v1/tasks", `[
		{"id":"T2","name":"API","dependencies":["T1"]},
		{"id":"T3","name":"UI","dependencies":["T2"]}
	]`, http.StatusCreated)
	if ids := decodeData[CreateTasksResponse](t, rec).IDs; len(ids) != 2 {
		t.Errorf("expected 2 ids, got %v", ids)
	}

	rec = s.expect(t, "GET", "/api/v1/tasks", "", http.StatusOK)
	if tasks := decodeData[[]TaskResponse](t, rec); len(tasks) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(tasks))
	}

	rec = s.expect(t, "GET", "/api/v1/tasks/T1", "", http.StatusOK)
	task := decodeData[TaskResponse](t, rec)
	if !task.Ready {
		t.Error("T1 has no dependencies and must be ready")
	}
	if len(task.Dependents) != 1 || task.Dependents[0] != "T2" {
		t.Errorf("dependents = %v, want [T2]", task.Dependents)
	}
	if task.Phase != domain.PhaseImplementation {
		t.Errorf("phase = %s, want default %s", task.Phase, domain.PhaseImplementation)
	}

	rec = s.expect(t, "GET", "/api/v1/tasks/T2", "", http.StatusOK)
	if decodeData[TaskResponse](t, rec).Ready {
		t.Error("T2 waits for T1 and must not be ready")
	}
}

func TestCreateTasks_Errors(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"Schema"}`, http.StatusCreated)

	tests := []struct {
		name   string
		body   string
		status int
		code   ErrorCode
	}{
		{"invalid json", `{"id":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty list", `[]`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty name", `{"id":"T2"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"self dependency", `{"id":"T2","name":"x","dependencies":["T2"]}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown dependency", `{"id":"T2","name":"x","dependencies":["T9"]}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown phase", `{"id":"T2","name":"x","phase":"shipping"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"duplicate", `{"id":"T1","name":"again"}`, http.StatusConflict, ErrCodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.expect(t, "POST", "/api/v1/tasks", tt.body, tt.status)
			if got := decodeError(t, rec).Code; got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}

	if n := s.orch.Graph().Len(); n != 1 {
		t.Errorf("rejected batches must not add tasks, graph has %d", n)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "GET", "/api/v1/tasks/missing", "", http.StatusNotFound)
	if got := decodeError(t, rec).Code; got != ErrCodeNotFound {
		t.Errorf("code = %s, want %s", got, ErrCodeNotFound)
	}
}

func TestListTasks_Filters(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `[
		{"id":"T1","name":"a","phase":"design"},
		{"id":"T2","name":"b","phase":"testing"},
		{"id":"T3","name":"c","phase":"testing"}
	]`, http.StatusCreated)

	rec := s.expect(t, "GET", "/api/v1/tasks?phase=testing", "", http.StatusOK)
	if tasks := decodeData[[]TaskResponse](t, rec); len(tasks) != 2 {
		t.Errorf("expected 2 testing tasks, got %d", len(tasks))
	}

	rec = s.expect(t, "GET", "/api/v1/tasks?status=completed", "", http.StatusOK)
	if tasks := decodeData[[]TaskResponse](t, rec); len(tasks) != 0 {
		t.Errorf("expected no completed tasks, got %d", len(tasks))
	}

	s.expect(t, "GET", "/api/v1/tasks?status=bogus", "", http.StatusBadRequest)
	s.expect(t, "GET", "/api/v1/tasks?phase=bogus", "", http.StatusBadRequest)
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":2}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"Schema","estimated_hours":4}`, http.StatusCreated)

	// без тела — лучший исполнитель
	rec := s.expect(t, "POST", "/api/v1/tasks/T1/assign", "", http.StatusOK)
	task := decodeData[TaskResponse](t, rec)
	if task.Status != domain.TaskStatusAssigned || task.Owner != "W1" {
		t.Fatalf("after assign: %s owner=%q", task.Status, task.Owner)
	}

	s.expect(t, "POST", "/api/v1/tasks/T1/start", "", http.StatusOK)

	rec = s.expect(t, "POST", "/api/v1/tasks/T1/progress", `{"progress":40,"note":"schema drafted"}`, http.StatusOK)
	if got := decodeData[TaskResponse](t, rec).Progress; got != 40 {
		t.Errorf("progress = %d, want 40", got)
	}

	rec = s.expect(t, "POST", "/api/v1/tasks/T1/complete", "", http.StatusOK)
	if got := decodeData[TaskResponse](t, rec).Status; got != domain.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}

	// повторный старт завершённой задачи недопустим
	rec = s.expect(t, "POST", "/api/v1/tasks/T1/start", "", http.StatusUnprocessableEntity)
	if got := decodeError(t, rec).Code; got != ErrCodeInvalidState {
		t.Errorf("code = %s, want %s", got, ErrCodeInvalidState)
	}

	rec = s.expect(t, "GET", "/api/v1/workers/W1", "", http.StatusOK)
	if wk := decodeData[domain.Worker](t, rec); len(wk.CurrentTasks) != 0 {
		t.Errorf("worker must be released, current tasks = %v", wk.CurrentTasks)
	}
}

func TestAssignTask_Errors(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":1}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks", `[
		{"id":"T1","name":"a"},
		{"id":"T2","name":"b","dependencies":["T1"]}
	]`, http.StatusCreated)

	s.expect(t, "POST", "/api/v1/tasks/T2/assign", `{"worker_id":"W1"}`, http.StatusUnprocessableEntity)
	s.expect(t, "POST", "/api/v1/tasks/T1/assign", `{"worker_id":"W9"}`, http.StatusNotFound)
	s.expect(t, "POST", "/api/v1/tasks/T1/assign", `{"worker_id":`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/tasks/T1/assign", `{"worker_id":"W1"}`, http.StatusOK)
	s.expect(t, "POST", "/api/v1/tasks/T1/assign", `{"worker_id":"W1"}`, http.StatusConflict)
}

func TestDeleteTask(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `[
		{"id":"T1","name":"a"},
		{"id":"T2","name":"b","dependencies":["T1"]}
	]`, http.StatusCreated)

	s.expect(t, "DELETE", "/api/v1/tasks/T1", "", http.StatusConflict)
	s.expect(t, "DELETE", "/api/v1/tasks/T2", "", http.StatusNoContent)
	s.expect(t, "DELETE", "/api/v1/tasks/T1", "", http.StatusNoContent)
	s.expect(t, "DELETE", "/api/v1/tasks/T1", "", http.StatusNotFound)
}

func TestDependencies(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `[{"id":"T1","name":"a"},{"id":"T2","name":"b"}]`, http.StatusCreated)

	rec := s.expect(t, "POST", "/api/v1/tasks/T2/dependencies", `{"depends_on":"T1"}`, http.StatusOK)
	if deps := decodeData[TaskResponse](t, rec).Dependencies; len(deps) != 1 || deps[0] != "T1" {
		t.Errorf("dependencies = %v, want [T1]", deps)
	}

	s.expect(t, "POST", "/api/v1/tasks/T2/dependencies", `{}`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/tasks/T2/dependencies", `{"depends_on":"T2"}`, http.StatusBadRequest)

	rec = s.expect(t, "DELETE", "/api/v1/tasks/T2/dependencies/T1", "", http.StatusOK)
	if deps := decodeData[TaskResponse](t, rec).Dependencies; len(deps) != 0 {
		t.Errorf("dependencies = %v, want none", deps)
	}
}

func TestSetPriority(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"a"}`, http.StatusCreated)

	rec := s.expect(t, "PUT", "/api/v1/tasks/T1/priority", `{"priority":"critical"}`, http.StatusOK)
	if got := decodeData[TaskResponse](t, rec).Priority; got != domain.PriorityCritical {
		t.Errorf("priority = %s, want critical", got)
	}
	s.expect(t, "PUT", "/api/v1/tasks/T1/priority", `{"priority":"urgent"}`, http.StatusBadRequest)
}

func TestStartBatch(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `[{"id":"T1","name":"a"},{"id":"T2","name":"b"}]`, http.StatusCreated)

	s.expect(t, "POST", "/api/v1/batches", `{"task_ids":[]}`, http.StatusBadRequest)
	// задачи не помечены parallelizable, пакет отклоняется целиком
	s.expect(t, "POST", "/api/v1/batches", `{"task_ids":["T1","T2"]}`, http.StatusUnprocessableEntity)
}

// --- Worker Tests ---

func TestWorkers(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "POST", "/api/v1/workers",
		`{"id":"W1","name":"Alice","type":"backend","capabilities":["go"],"max_concurrent_tasks":2}`, http.StatusCreated)
	wk := decodeData[domain.Worker](t, rec)
	if wk.Status != domain.WorkerStatusAvailable || wk.Type != domain.WorkerTypeBackend {
		t.Errorf("registered worker = %s %s", wk.Status, wk.Type)
	}

	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":2}`, http.StatusConflict)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W2","name":"Bob","max_concurrent_tasks":0}`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W2","name":"Bob","type":"wizard","max_concurrent_tasks":1}`, http.StatusBadRequest)
	s.expect(t, "GET", "/api/v1/workers/W9", "", http.StatusNotFound)

	rec = s.expect(t, "PUT", "/api/v1/workers/W1/status", `{"status":"maintenance"}`, http.StatusOK)
	if got := decodeData[domain.Worker](t, rec).Status; got != domain.WorkerStatusMaintenance {
		t.Errorf("status = %s, want maintenance", got)
	}
	s.expect(t, "PUT", "/api/v1/workers/W1/status", `{"status":"busy"}`, http.StatusBadRequest)
	s.expect(t, "PUT", "/api/v1/workers/W1/status", `{}`, http.StatusBadRequest)

	rec = s.expect(t, "GET", "/api/v1/workers?status=maintenance", "", http.StatusOK)
	if workers := decodeData[[]domain.Worker](t, rec); len(workers) != 1 {
		t.Errorf("expected 1 worker in maintenance, got %d", len(workers))
	}

	rec = s.expect(t, "PUT", "/api/v1/workers/W1/capacity", `{"max_concurrent_tasks":5}`, http.StatusOK)
	if got := decodeData[domain.Worker](t, rec).MaxConcurrentTasks; got != 5 {
		t.Errorf("capacity = %d, want 5", got)
	}
	s.expect(t, "PUT", "/api/v1/workers/W1/capacity", `{"max_concurrent_tasks":0}`, http.StatusBadRequest)

	found := false
	for _, ev := range s.orch.RecentEvents(0) {
		if ev.Type == domain.EventWorkerStatus && ev.WorkerID == "W1" {
			found = true
		}
	}
	if !found {
		t.Error("status change must emit worker.status")
	}
}

// --- Signal & Conflict Tests ---

func TestPostSignal(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "POST", "/api/v1/signals/merge",
		`{"branch":"feature/auth","target":"main","files":["auth.go"]}`, http.StatusAccepted)
	if got := decodeData[map[string]string](t, rec)["kind"]; got != "merge" {
		t.Errorf("kind = %q, want merge", got)
	}

	s.expect(t, "POST", "/api/v1/signals/weather", `{}`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/signals/merge", `{"branch":"x"}`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/signals/gate", `not json`, http.StatusBadRequest)

	if n := s.orch.Signals().Counts()[domain.SignalMerge]; n != 1 {
		t.Errorf("expected 1 merge signal, got %d", n)
	}
}

func TestDetect_AutoMerge(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":3}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"Auth"}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks/T1/assign", `{"worker_id":"W1"}`, http.StatusOK)
	s.expect(t, "POST", "/api/v1/tasks/T1/start", "", http.StatusOK)
	s.expect(t, "POST", "/api/v1/signals/merge",
		`{"branch":"feature/auth","target":"main","files":["auth.go"],"task_ids":["T1"],"auto_mergeable":true}`,
		http.StatusAccepted)

	rec := s.expect(t, "POST", "/api/v1/detect", "", http.StatusOK)
	res := decodeData[DetectResponse](t, rec)
	if len(res.New) != 1 || len(res.Resolved) != 1 {
		t.Fatalf("detect = new %d resolved %d, want 1 and 1", len(res.New), len(res.Resolved))
	}
	if res.Error != "" {
		t.Errorf("unexpected detection error: %s", res.Error)
	}
	id := res.New[0].ID

	rec = s.expect(t, "GET", "/api/v1/conflicts", "", http.StatusOK)
	if active := decodeData[[]domain.Conflict](t, rec); len(active) != 0 {
		t.Errorf("expected no active conflicts, got %d", len(active))
	}

	rec = s.expect(t, "GET", "/api/v1/conflicts/history", "", http.StatusOK)
	if history := decodeData[[]domain.Conflict](t, rec); len(history) != 1 || history[0].ID != id {
		t.Errorf("history = %+v, want conflict %s", history, id)
	}

	rec = s.expect(t, "GET", "/api/v1/conflicts/"+id, "", http.StatusOK)
	c := decodeData[domain.Conflict](t, rec)
	if c.Resolution == nil || !c.Resolution.Success {
		t.Errorf("conflict must carry a successful resolution, got %+v", c.Resolution)
	}

	rec = s.expect(t, "GET", "/api/v1/tasks/T1", "", http.StatusOK)
	if task := decodeData[TaskResponse](t, rec); task.Status != domain.TaskStatusInProgress {
		t.Errorf("T1 = %s, want in_progress after resolution", task.Status)
	}

	// повторное разрешение уже разрешённого конфликта
	s.expect(t, "POST", "/api/v1/conflicts/"+id+"/resolve", `{"mode":"auto"}`, http.StatusConflict)

	rec = s.expect(t, "GET", "/api/v1/patterns", "", http.StatusOK)
	if patterns := decodeData[[]json.RawMessage](t, rec); len(patterns) == 0 {
		t.Error("resolution must be recorded in patterns")
	}
}

func TestConflictPlanAndResolve(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"Auth"}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/signals/merge",
		`{"branch":"feature/auth","target":"main","files":["auth.go"],"task_ids":["T1"]}`, http.StatusAccepted)

	rec := s.expect(t, "POST", "/api/v1/detect", "", http.StatusOK)
	res := decodeData[DetectResponse](t, rec)
	if len(res.New) != 1 || len(res.Resolved) != 0 {
		t.Fatalf("detect = new %d resolved %d, want 1 and 0", len(res.New), len(res.Resolved))
	}
	id := res.New[0].ID

	rec = s.expect(t, "GET", "/api/v1/conflicts?type="+string(domain.ConflictMerge), "", http.StatusOK)
	if active := decodeData[[]domain.Conflict](t, rec); len(active) != 1 {
		t.Errorf("expected 1 active merge conflict, got %d", len(active))
	}

	rec = s.expect(t, "GET", "/api/v1/conflicts/"+id+"/plan", "", http.StatusOK)
	if plan := decodeData[domain.Resolution](t, rec); plan.Strategy == "" || len(plan.Steps) == 0 {
		t.Errorf("plan = %+v, want strategy with steps", plan)
	}

	s.expect(t, "POST", "/api/v1/conflicts/"+id+"/resolve", `{"mode":"later"}`, http.StatusBadRequest)
	s.expect(t, "POST", "/api/v1/conflicts/missing/resolve", `{"mode":"auto"}`, http.StatusNotFound)
	s.expect(t, "GET", "/api/v1/conflicts/missing", "", http.StatusNotFound)
	s.expect(t, "POST", "/api/v1/conflicts/"+id+"/steps/nope/complete", `{"success":true}`, http.StatusNotFound)

	rec = s.expect(t, "GET", "/api/v1/actions", "", http.StatusOK)
	if actions := decodeData[[]domain.PendingAction](t, rec); len(actions) != 0 {
		t.Errorf("expected no pending actions, got %d", len(actions))
	}
}

// --- System Tests ---

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "GET", "/healthz", "", http.StatusOK)
	if got := decodeData[map[string]any](t, rec)["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}

	s.orch.Stop()
	s.expect(t, "GET", "/healthz", "", http.StatusServiceUnavailable)
}

func TestDashboardAndReport(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":2}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks", `[{"id":"T1","name":"a","estimated_hours":4},{"id":"T2","name":"b","estimated_hours":4}]`, http.StatusCreated)

	rec := s.expect(t, "GET", "/api/v1/dashboard", "", http.StatusOK)
	if dash := decodeData[map[string]any](t, rec); len(dash) == 0 {
		t.Error("dashboard must not be empty")
	}

	// без цикла кешированного снимка нет, отдаётся свежий
	s.expect(t, "GET", "/api/v1/dashboard?cached=true", "", http.StatusOK)

	rec = s.expect(t, "GET", "/api/v1/report", "", http.StatusOK)
	report := decodeData[orchestrator.Report](t, rec)
	if report.RemainingHours != 8 {
		t.Errorf("remaining hours = %v, want 8", report.RemainingHours)
	}

	rec = s.expect(t, "GET", "/api/v1/report?format=text", "", http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Orchestra report 2025-06-02") {
		t.Errorf("unexpected report text:\n%s", body)
	}
}

func TestRunCycle(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":3}`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/tasks", `{"id":"T1","name":"a"}`, http.StatusCreated)

	rec := s.expect(t, "POST", "/api/v1/cycle", "", http.StatusOK)
	if res := decodeData[orchestrator.CycleResult](t, rec); res.Assigned != 1 {
		t.Errorf("assigned = %d, want 1", res.Assigned)
	}

	rec = s.expect(t, "GET", "/api/v1/tasks?worker_id=W1", "", http.StatusOK)
	if tasks := decodeData[[]TaskResponse](t, rec); len(tasks) != 1 {
		t.Errorf("expected 1 task owned by W1, got %d", len(tasks))
	}
}

func TestListEvents(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "POST", "/api/v1/tasks", `[{"id":"T1","name":"a"},{"id":"T2","name":"b"},{"id":"T3","name":"c"}]`, http.StatusCreated)
	s.expect(t, "POST", "/api/v1/workers", `{"id":"W1","name":"Alice","max_concurrent_tasks":1}`, http.StatusCreated)

	rec := s.expect(t, "GET", "/api/v1/events?type="+string(domain.EventTaskAdded), "", http.StatusOK)
	events := decodeData[[]domain.Event](t, rec)
	if len(events) != 3 {
		t.Fatalf("expected 3 task.added events, got %d", len(events))
	}
	if events[0].TaskID != "T3" {
		t.Errorf("newest event first: got %s, want T3", events[0].TaskID)
	}

	rec = s.expect(t, "GET", "/api/v1/events?limit=2", "", http.StatusOK)
	events = decodeData[[]domain.Event](t, rec)
	if len(events) != 2 || events[0].Type != domain.EventWorkerRegistered {
		t.Errorf("limit=2: got %d events, first %v", len(events), events)
	}

	s.expect(t, "GET", "/api/v1/events?limit=-1", "", http.StatusBadRequest)
}

func TestListSnapshots_NotConfigured(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "GET", "/api/v1/snapshots", "", http.StatusServiceUnavailable)
	if got := decodeError(t, rec).Code; got != ErrCodeUnavailable {
		t.Errorf("code = %s, want %s", got, ErrCodeUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.expect(t, "GET", "/healthz", "", http.StatusOK)

	rec := s.expect(t, "GET", "/metrics", "", http.StatusOK)
	if !strings.Contains(rec.Body.String(), "orchestra_") {
		t.Error("metrics output must contain orchestra_ series")
	}
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := s.expect(t, "GET", "/healthz", "", http.StatusOK)
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("expected generated X-Request-ID")
	}

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

// --- Helper Tests ---

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"task not found", fmt.Errorf("get: %w", engine.ErrTaskNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"worker not found", worker.ErrWorkerNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"conflict not found", conflict.ErrConflictNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"validation", engine.NewValidationError("T1", "name", "empty", engine.ErrEmptyName), http.StatusBadRequest, ErrCodeBadRequest},
		{"duplicate in validation", engine.NewValidationError("T1", "id", "dup", engine.ErrDuplicateTask), http.StatusConflict, ErrCodeConflict},
		{"unknown signal", orchestrator.ErrUnknownSignal, http.StatusBadRequest, ErrCodeBadRequest},
		{"already resolved", conflict.ErrAlreadyResolved, http.StatusConflict, ErrCodeConflict},
		{"not pending", scheduler.ErrNotPending, http.StatusConflict, ErrCodeConflict},
		{"invalid transition", supervisor.ErrInvalidTransition, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{"worker full", worker.ErrWorkerFull, http.StatusUnprocessableEntity, ErrCodeInvalidState},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if !HandleError(rec, logger, tt.err) {
				t.Fatal("HandleError must report handled error")
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec).Code; got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}

	if HandleError(httptest.NewRecorder(), logger, nil) {
		t.Error("nil error must not be handled")
	}
}

func TestInternalError_HidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), errors.New("password=secret"))

	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("internal error details must not leak to the client")
	}
}

func TestDecodeTaskSpecs(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"single", `{"name":"a"}`, 1, false},
		{"array", `[{"name":"a"},{"name":"b"}]`, 2, false},
		{"leading whitespace", "  \n[{\"name\":\"a\"}]", 1, false},
		{"empty array", `[]`, 0, true},
		{"invalid", `{"name":`, 0, true},
		{"wrong type", `"task"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := decodeTaskSpecs(strings.NewReader(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(specs) != tt.want {
				t.Errorf("got %d specs, want %d", len(specs), tt.want)
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"", defaultListLimit, false},
		{"10", 10, false},
		{"100000", maxListLimit, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		got, err := queryLimit(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("queryLimit(%q) err = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("queryLimit(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}
