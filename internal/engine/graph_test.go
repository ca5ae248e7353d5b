package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shaiso/Orchestra/internal/domain"
)

func newTestGraph(t *testing.T, specs ...domain.TaskSpec) *Graph {
	t.Helper()
	g := New(Config{})
	for _, s := range specs {
		if _, err := g.AddTask(s); err != nil {
			t.Fatalf("AddTask(%s): %v", s.ID, err)
		}
	}
	return g
}

func setStatus(t *testing.T, g *Graph, id string, st domain.TaskStatus) {
	t.Helper()
	_, err := g.Update(id, func(task *domain.Task) error {
		task.Status = st
		return nil
	})
	if err != nil {
		t.Fatalf("Update(%s): %v", id, err)
	}
}

// --- AddTask Tests ---

func TestAddTask_GeneratesID(t *testing.T) {
	g := New(Config{})

	id, err := g.AddTask(domain.TaskSpec{Name: "schema"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	task, err := g.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Priority != domain.PriorityMedium {
		t.Errorf("expected default priority medium, got %s", task.Priority)
	}
	if task.Phase != domain.PhaseImplementation {
		t.Errorf("expected default phase implementation, got %s", task.Phase)
	}
}

func TestAddTask_SelfDependency(t *testing.T) {
	g := New(Config{})

	_, err := g.AddTask(domain.TaskSpec{ID: "A", Name: "a", Dependencies: []string{"A"}})
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("graph must stay empty, got %d tasks", g.Len())
	}
}

func TestAddTask_UnknownDependency(t *testing.T) {
	g := New(Config{})

	_, err := g.AddTask(domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"missing"}})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
	if g.Has("B") {
		t.Error("task with dangling edge must not be inserted")
	}
}

func TestAddTask_Duplicate(t *testing.T) {
	g := newTestGraph(t, domain.TaskSpec{ID: "A", Name: "a"})

	_, err := g.AddTask(domain.TaskSpec{ID: "A", Name: "again"})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestAddTask_EdgesSymmetric(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "C", Name: "c", Dependencies: []string{"A", "B"}},
	)

	if got := g.Dependents("A"); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("dependents of A = %v", got)
	}
	if got := g.Dependencies("C"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("dependencies of C = %v", got)
	}

	task, _ := g.Get("C")
	if !reflect.DeepEqual(task.Dependencies, []string{"A", "B"}) {
		t.Errorf("task.Dependencies = %v", task.Dependencies)
	}
}

func TestAddTasks_AtomicValidation(t *testing.T) {
	g := New(Config{})

	_, err := g.AddTasks([]domain.TaskSpec{
		{ID: "A", Name: "a"},
		{ID: "B", Name: "b", Dependencies: []string{"Z"}},
	})
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("batch must not be partially applied, got %d tasks", g.Len())
	}

	ids, err := g.AddTasks([]domain.TaskSpec{
		{ID: "A", Name: "a"},
		{ID: "B", Name: "b", Dependencies: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 ids, got %d", len(ids))
	}
}

// --- Dependency Tests ---

func TestAddDependency_Errors(t *testing.T) {
	g := newTestGraph(t, domain.TaskSpec{ID: "A", Name: "a"})

	if err := g.AddDependency("A", "A"); !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
	if err := g.AddDependency("A", "X"); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
	if err := g.AddDependency("X", "A"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRemoveDependency(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"A"}},
	)

	if g.IsReady("B") {
		t.Fatal("B must not be ready while A is pending")
	}
	if err := g.RemoveDependency("B", "A"); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if !g.IsReady("B") {
		t.Error("B must be ready after edge removal")
	}
	if len(g.Dependents("A")) != 0 {
		t.Error("reverse edge must be removed too")
	}
}

func TestRemoveTask(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"A"}},
	)

	if err := g.RemoveTask("A"); !errors.Is(err, ErrHasDependents) {
		t.Errorf("expected ErrHasDependents, got %v", err)
	}
	if err := g.RemoveTask("B"); err != nil {
		t.Fatalf("RemoveTask(B): %v", err)
	}
	if err := g.RemoveTask("A"); err != nil {
		t.Fatalf("RemoveTask(A): %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("expected empty graph, got %d", g.Len())
	}
}

// --- Readiness Tests ---

func TestIsReady_AndUnlockDependents(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "T1", Name: "t1"},
		domain.TaskSpec{ID: "T2", Name: "t2", Dependencies: []string{"T1"}},
		domain.TaskSpec{ID: "T3", Name: "t3", Dependencies: []string{"T1", "T2"}},
	)

	if !g.IsReady("T1") {
		t.Error("T1 has no dependencies and must be ready")
	}
	if g.IsReady("T2") {
		t.Error("T2 must wait for T1")
	}

	setStatus(t, g, "T1", domain.TaskStatusCompleted)

	ready := g.UnlockDependents("T1")
	if !reflect.DeepEqual(ready, []string{"T2"}) {
		t.Errorf("UnlockDependents(T1) = %v, want [T2]", ready)
	}

	setStatus(t, g, "T2", domain.TaskStatusCompleted)
	ready = g.UnlockDependents("T2")
	if !reflect.DeepEqual(ready, []string{"T3"}) {
		t.Errorf("UnlockDependents(T2) = %v, want [T3]", ready)
	}
}

func TestIsReady_UnknownTask(t *testing.T) {
	g := New(Config{})
	if g.IsReady("nope") {
		t.Error("unknown task must not be ready")
	}
}

// --- Update Tests ---

func TestUpdate_RollbackOnError(t *testing.T) {
	g := newTestGraph(t, domain.TaskSpec{ID: "A", Name: "a"})
	boom := errors.New("boom")

	_, err := g.Update("A", func(task *domain.Task) error {
		task.Status = domain.TaskStatusCompleted
		task.Progress = 100
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	task, _ := g.Get("A")
	if task.Status != domain.TaskStatusPending || task.Progress != 0 {
		t.Errorf("failed update must not be committed: %s/%d", task.Status, task.Progress)
	}
	if st, _ := g.Status("A"); st != domain.TaskStatusPending {
		t.Errorf("atomic status must stay pending, got %s", st)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	g := newTestGraph(t, domain.TaskSpec{ID: "A", Name: "a", RequiredCapabilities: []string{"go"}})

	task, _ := g.Get("A")
	task.RequiredCapabilities[0] = "rust"
	task.Status = domain.TaskStatusFailed

	again, _ := g.Get("A")
	if again.RequiredCapabilities[0] != "go" || again.Status != domain.TaskStatusPending {
		t.Error("Get must return an independent copy")
	}
}

// --- FindCycles Tests ---

func TestFindCycles_Acyclic(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "C", Name: "c", Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "D", Name: "d", Dependencies: []string{"B", "C"}},
	)

	if cycles := g.FindCycles(); len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}
}

func TestFindCycles_Triangle(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b"},
		domain.TaskSpec{ID: "C", Name: "c"},
	)

	// A → B → C → A
	for _, e := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}} {
		if err := g.AddDependency(e[0], e[1]); err != nil {
			t.Fatalf("AddDependency: %v", err)
		}
	}

	cycles := g.FindCycles()
	if len(cycles) != 1 {
		t.Fatalf("expected exactly 1 cycle, got %v", cycles)
	}
	if !reflect.DeepEqual(cycles[0], []string{"A", "B", "C"}) {
		t.Errorf("cycle = %v, want [A B C]", cycles[0])
	}
}

func TestFindCycles_Disjoint(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b"},
		domain.TaskSpec{ID: "X", Name: "x"},
		domain.TaskSpec{ID: "Y", Name: "y"},
	)
	_ = g.AddDependency("A", "B")
	_ = g.AddDependency("B", "A")
	_ = g.AddDependency("X", "Y")
	_ = g.AddDependency("Y", "X")

	cycles := g.FindCycles()
	want := [][]string{{"A", "B"}, {"X", "Y"}}
	if !reflect.DeepEqual(cycles, want) {
		t.Errorf("cycles = %v, want %v", cycles, want)
	}
}

// --- CriticalPath Tests ---

func TestCriticalPath_LongestChain(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a", EstimatedHours: 4},
		domain.TaskSpec{ID: "B", Name: "b", EstimatedHours: 10, Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "C", Name: "c", EstimatedHours: 2, Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "D", Name: "d", EstimatedHours: 1, Dependencies: []string{"B", "C"}},
	)

	cp := g.CriticalPath()
	if !reflect.DeepEqual(cp.Tasks, []string{"A", "B", "D"}) {
		t.Errorf("critical path = %v, want [A B D]", cp.Tasks)
	}
	if cp.Hours != 15 {
		t.Errorf("hours = %v, want 15", cp.Hours)
	}
}

func TestCriticalPath_CompletedTasksWeighZero(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a", EstimatedHours: 20},
		domain.TaskSpec{ID: "B", Name: "b", EstimatedHours: 3},
	)
	setStatus(t, g, "A", domain.TaskStatusCompleted)

	cp := g.CriticalPath()
	if !reflect.DeepEqual(cp.Tasks, []string{"B"}) {
		t.Errorf("critical path = %v, want [B]", cp.Tasks)
	}
	if got := g.RemainingHours(); got != 3 {
		t.Errorf("remaining hours = %v, want 3", got)
	}
}

func TestDependentsClosure(t *testing.T) {
	g := newTestGraph(t,
		domain.TaskSpec{ID: "A", Name: "a"},
		domain.TaskSpec{ID: "B", Name: "b", Dependencies: []string{"A"}},
		domain.TaskSpec{ID: "C", Name: "c", Dependencies: []string{"B"}},
		domain.TaskSpec{ID: "D", Name: "d"},
	)

	if got := g.DependentsClosure("A"); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("closure(A) = %v, want [B C]", got)
	}
	if got := g.DependentsClosure("D"); len(got) != 0 {
		t.Errorf("closure(D) = %v, want empty", got)
	}
}
