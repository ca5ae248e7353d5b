package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Orchestra/internal/domain"
)

// --- Logging Tests ---

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "INFO"}, &buf)

	WithConflictID(WithTaskID(logger, "T1"), "c1").Info("task blocked")
	logger.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "task blocked" || rec["task_id"] != "T1" || rec["conflict_id"] != "c1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "DEBUG", Format: "text"}, &buf)

	WithWorkerID(logger, "W1").Debug("worker registered")

	out := buf.String()
	if !strings.Contains(out, "worker_id=W1") || !strings.Contains(out, "level=DEBUG") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger without value in context")
	}

	logger := NewLogger(LogConfig{}, &bytes.Buffer{})
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}

// --- Metrics Tests ---

func TestMetrics_Emit(t *testing.T) {
	m := NewMetrics()

	resolved := domain.NewEvent(domain.EventConflictResolved)
	resolved.Data = map[string]any{"strategy": "rebalance_workload"}
	failed := domain.NewEvent(domain.EventConflictResolutionFail)
	failed.Data = map[string]any{"strategy": "escalation"}

	m.Emit(resolved)
	m.Emit(resolved)
	m.Emit(failed)
	m.Emit(domain.NewEvent(domain.EventTaskAssigned))

	if got := testutil.ToFloat64(m.Events.WithLabelValues(string(domain.EventConflictResolved))); got != 2 {
		t.Errorf("expected 2 resolved events, got %v", got)
	}
	if got := testutil.ToFloat64(m.Resolutions.WithLabelValues("rebalance_workload", "success")); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.Resolutions.WithLabelValues("escalation", "failure")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetrics()

	m.SetTaskCounts(map[domain.TaskStatus]int{domain.TaskStatusPending: 3, domain.TaskStatusCompleted: 1})
	m.SetActiveConflicts(map[domain.ConflictType]int{domain.ConflictDependencyCycle: 1})

	if got := testutil.ToFloat64(m.TasksByStatus.WithLabelValues("pending")); got != 3 {
		t.Errorf("expected 3 pending, got %v", got)
	}
	if got := testutil.ToFloat64(m.TasksByStatus.WithLabelValues("in_progress")); got != 0 {
		t.Errorf("expected 0 in_progress, got %v", got)
	}
	if n := testutil.CollectAndCount(m.TasksByStatus); n != len(domain.AllTaskStatuses) {
		t.Errorf("expected a series per status, got %d", n)
	}
	if n := testutil.CollectAndCount(m.ActiveConflicts); n != len(domain.AllConflictTypes) {
		t.Errorf("expected a series per conflict type, got %d", n)
	}
}

func TestMetrics_ObserveCycle(t *testing.T) {
	m := NewMetrics()
	m.ObserveCycle(15 * time.Millisecond)
	m.ObserveCycle(30 * time.Millisecond)

	if got := testutil.ToFloat64(m.Cycles); got != 2 {
		t.Errorf("expected 2 cycles, got %v", got)
	}
	if n := testutil.CollectAndCount(m.CycleDuration); n != 1 {
		t.Errorf("expected histogram series, got %d", n)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.WorkerUtilization.Set(0.5)

	h := m.InstrumentHandler(m.Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "orchestra_worker_utilization_ratio 0.5") {
		t.Errorf("utilization gauge missing from output")
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("get", "200")); got != 1 {
		t.Errorf("expected 1 instrumented request, got %v", got)
	}
}
