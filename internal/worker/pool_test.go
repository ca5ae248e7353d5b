package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shaiso/Orchestra/internal/domain"
)

func register(t *testing.T, p *Pool, id string, max int, caps ...string) {
	t.Helper()
	_, err := p.Register(domain.WorkerSpec{
		ID:                 id,
		Name:               id,
		Type:               domain.WorkerTypeBackend,
		Capabilities:       caps,
		MaxConcurrentTasks: max,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

func fill(t *testing.T, p *Pool, workerID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := p.Reserve(workerID, fmt.Sprintf("%s-filler-%d", workerID, i)); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
	}
}

func mustGet(t *testing.T, p *Pool, id string) *domain.Worker {
	t.Helper()
	w, err := p.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return w
}

// --- Register Tests ---

func TestRegister_Validation(t *testing.T) {
	p := New(Config{})

	_, err := p.Register(domain.WorkerSpec{Name: "w"})
	if !errors.Is(err, ErrInvalidWorker) {
		t.Errorf("expected ErrInvalidWorker for zero capacity, got %v", err)
	}

	_, err = p.Register(domain.WorkerSpec{Name: "w", Type: "wizard", MaxConcurrentTasks: 1})
	if !errors.Is(err, ErrInvalidWorker) {
		t.Errorf("expected ErrInvalidWorker for unknown type, got %v", err)
	}

	register(t, p, "W1", 2)
	_, err = p.Register(domain.WorkerSpec{ID: "W1", Name: "dup", MaxConcurrentTasks: 1})
	if !errors.Is(err, ErrDuplicateWorker) {
		t.Errorf("expected ErrDuplicateWorker, got %v", err)
	}
}

func TestRegister_Defaults(t *testing.T) {
	p := New(Config{})
	id, err := p.Register(domain.WorkerSpec{Name: "w", MaxConcurrentTasks: 2, Capabilities: []string{"go", " go ", ""}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := mustGet(t, p, id)
	if w.Type != domain.WorkerTypeGeneralist {
		t.Errorf("expected generalist, got %s", w.Type)
	}
	if w.Status != domain.WorkerStatusAvailable || w.Workload != 0 {
		t.Errorf("unexpected initial state: %s/%v", w.Status, w.Workload)
	}
	if len(w.Capabilities) != 1 {
		t.Errorf("capabilities must be normalized, got %v", w.Capabilities)
	}
}

// --- Reserve / Release Tests ---

func TestReserveRelease_Workload(t *testing.T) {
	p := New(Config{})
	register(t, p, "W1", 4)

	if _, err := p.Reserve("W1", "T1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if w := mustGet(t, p, "W1"); w.Workload != 25 {
		t.Errorf("workload = %v, want 25", w.Workload)
	}

	if _, err := p.Reserve("W1", "T1"); !errors.Is(err, ErrAlreadyReserved) {
		t.Errorf("expected ErrAlreadyReserved, got %v", err)
	}

	if !p.Release("W1", "T1") {
		t.Error("first release must succeed")
	}
	if p.Release("W1", "T1") {
		t.Error("second release must be a no-op")
	}
	if w := mustGet(t, p, "W1"); w.Workload != 0 || len(w.CurrentTasks) != 0 {
		t.Errorf("unexpected state after release: %v %v", w.Workload, w.CurrentTasks)
	}
}

func TestReserve_FullAndBusy(t *testing.T) {
	p := New(Config{})
	register(t, p, "W1", 2)
	fill(t, p, "W1", 2)

	w := mustGet(t, p, "W1")
	if w.Status != domain.WorkerStatusBusy || w.Workload != 100 {
		t.Errorf("expected busy/100, got %s/%v", w.Status, w.Workload)
	}

	if _, err := p.Reserve("W1", "extra"); !errors.Is(err, ErrWorkerFull) {
		t.Errorf("expected ErrWorkerFull, got %v", err)
	}
}

func TestReserve_ManualStatus(t *testing.T) {
	p := New(Config{})
	register(t, p, "W1", 2)

	if _, err := p.SetStatus("W1", domain.WorkerStatusMaintenance); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := p.Reserve("W1", "T1"); !errors.Is(err, ErrWorkerUnavailable) {
		t.Errorf("expected ErrWorkerUnavailable, got %v", err)
	}

	if _, err := p.SetStatus("W1", domain.WorkerStatusBusy); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("busy must not be settable manually, got %v", err)
	}

	w, err := p.SetStatus("W1", domain.WorkerStatusAvailable)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if w.Status != domain.WorkerStatusAvailable {
		t.Errorf("expected available, got %s", w.Status)
	}
}

func TestSetCapacity_Overloaded(t *testing.T) {
	p := New(Config{})
	register(t, p, "W1", 4)
	fill(t, p, "W1", 3)

	w, err := p.SetCapacity("W1", 2)
	if err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	if w.Status != domain.WorkerStatusOverloaded {
		t.Errorf("expected overloaded, got %s", w.Status)
	}
	if w.Workload != 100 {
		t.Errorf("workload must be capped at 100, got %v", w.Workload)
	}
}

// --- Transfer Tests ---

func TestTransfer(t *testing.T) {
	p := New(Config{})
	register(t, p, "A", 2)
	register(t, p, "B", 1)

	if _, err := p.Reserve("A", "T1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Transfer("T1", "A", "B"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	a, b := mustGet(t, p, "A"), mustGet(t, p, "B")
	if len(a.CurrentTasks) != 0 || a.Workload != 0 {
		t.Errorf("source must be empty: %v", a.CurrentTasks)
	}
	if len(b.CurrentTasks) != 1 || b.Workload != 100 {
		t.Errorf("target must hold T1: %v", b.CurrentTasks)
	}

	if _, err := p.Reserve("A", "T2"); err != nil {
		t.Fatal(err)
	}
	if err := p.Transfer("T2", "A", "B"); !errors.Is(err, ErrWorkerFull) {
		t.Errorf("expected ErrWorkerFull, got %v", err)
	}
	if err := p.Transfer("T9", "A", "B"); !errors.Is(err, ErrNotReserved) {
		t.Errorf("expected ErrNotReserved, got %v", err)
	}
}

// --- Performance Tests ---

func TestRecordOutcome(t *testing.T) {
	p := New(Config{})
	register(t, p, "W1", 1)

	if err := p.RecordOutcome("W1", Outcome{Success: true, Hours: 4}); err != nil {
		t.Fatal(err)
	}
	if err := p.RecordOutcome("W1", Outcome{Success: true, Hours: 8}); err != nil {
		t.Fatal(err)
	}
	if err := p.RecordOutcome("W1", Outcome{Success: false}); err != nil {
		t.Fatal(err)
	}

	perf := mustGet(t, p, "W1").Performance
	if perf.AvgTaskHours != 6 {
		t.Errorf("avg hours = %v, want 6", perf.AvgTaskHours)
	}
	if perf.CompletionRate < 0.66 || perf.CompletionRate > 0.67 {
		t.Errorf("completion rate = %v, want 2/3", perf.CompletionRate)
	}
	if perf.Reliability < 0 || perf.Reliability > 1 {
		t.Errorf("reliability out of range: %v", perf.Reliability)
	}

	if err := p.RecordOutcome("nobody", Outcome{}); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestCapacity(t *testing.T) {
	p := New(Config{})
	register(t, p, "A", 4)
	register(t, p, "B", 2)
	register(t, p, "C", 10)
	fill(t, p, "A", 2)
	fill(t, p, "B", 1)
	_, _ = p.SetStatus("C", domain.WorkerStatusOffline)

	assigned, capacity := p.Capacity()
	if assigned != 3 || capacity != 6 {
		t.Errorf("capacity = %d/%d, want 3/6", assigned, capacity)
	}
}
