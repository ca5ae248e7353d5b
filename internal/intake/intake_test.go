package intake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/worker"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const tasksYAML = `
tasks:
  - id: api
    name: Build API
    phase: implementation
    priority: high
    estimated_hours: 8
    required_capabilities: [go]
  - id: ui
    name: Build UI
    dependencies: [api]
  - name: Write docs
`

// --- Parse Tests ---

func TestParseWorkerSpecs(t *testing.T) {
	specs, err := ParseWorkerSpecs([]byte(`
workers:
  - id: W1
    name: Alice
    type: backend
    capabilities: [go, sql]
    max_concurrent_tasks: 2
`))
	if err != nil {
		t.Fatalf("ParseWorkerSpecs: %v", err)
	}
	if len(specs) != 1 || specs[0].Type != domain.WorkerTypeBackend || specs[0].MaxConcurrentTasks != 2 {
		t.Errorf("unexpected specs: %+v", specs)
	}

	list, err := ParseWorkerSpecs([]byte(`[{"name": "Bob", "type": "qa", "max_concurrent_tasks": 1}]`))
	if err != nil {
		t.Fatalf("ParseWorkerSpecs JSON: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Bob" {
		t.Errorf("unexpected JSON specs: %+v", list)
	}

	if specs, err := ParseWorkerSpecs(nil); err != nil || specs != nil {
		t.Errorf("empty input: got %v, %v", specs, err)
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.yaml": true, "b.YML": true, "c.json": true, "d.txt": false, "e": false,
	} {
		if Supported(path) != want {
			t.Errorf("Supported(%q) != %v", path, want)
		}
	}
}

// --- Loader Tests ---

func TestLoader_LoadTasksFile(t *testing.T) {
	g := engine.New(engine.Config{})
	l := NewLoader(g, nil, nil)
	path := write(t, t.TempDir(), "sprint.yaml", tasksYAML)

	ids, err := l.LoadTasksFile(path)
	if err != nil {
		t.Fatalf("LoadTasksFile: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 tasks, got %v", ids)
	}
	if !g.Has("sprint-3") {
		t.Error("task without id must get file-based id")
	}
	if deps := g.Dependencies("ui"); len(deps) != 1 || deps[0] != "api" {
		t.Errorf("unexpected dependencies of ui: %v", deps)
	}

	// повторная загрузка ничего не добавляет
	again, err := l.LoadTasksFile(path)
	if err != nil || len(again) != 0 {
		t.Errorf("reload: got %v, %v", again, err)
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 tasks in graph, got %d", g.Len())
	}
}

func TestLoader_InvalidFile(t *testing.T) {
	g := engine.New(engine.Config{})
	l := NewLoader(g, nil, nil)
	dir := t.TempDir()

	if _, err := l.LoadTasksFile(write(t, dir, "notes.txt", "hi")); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("expected ErrUnsupportedFile, got %v", err)
	}

	bad := write(t, dir, "bad.yaml", "tasks:\n  - id: x\n    name: X\n    dependencies: [ghost]\n")
	if _, err := l.LoadTasksFile(bad); !errors.Is(err, engine.ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
	if g.Len() != 0 {
		t.Error("invalid batch must not touch the graph")
	}
}

func TestLoader_LoadWorkersFile(t *testing.T) {
	p := worker.New(worker.Config{})
	l := NewLoader(engine.New(engine.Config{}), p, nil)
	path := write(t, t.TempDir(), "team.yaml", `
workers:
  - id: W1
    name: Alice
    type: backend
    capabilities: [go]
    max_concurrent_tasks: 2
  - id: W2
    name: Broken
    max_concurrent_tasks: 0
`)

	ids, err := l.LoadWorkersFile(path)
	if err == nil {
		t.Error("expected error for invalid worker")
	}
	if len(ids) != 1 || ids[0] != "W1" {
		t.Errorf("valid workers must still register, got %v", ids)
	}
	if p.Len() != 1 {
		t.Errorf("expected 1 worker in pool, got %d", p.Len())
	}
}

// --- Watcher Tests ---

func TestWatcher_LoadsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", "- id: A\n  name: First\n")

	g := engine.New(engine.Config{})
	loaded := make(chan string, 8)
	w := NewWatcher(WatcherConfig{
		Dir:      dir,
		Loader:   NewLoader(g, nil, nil),
		Debounce: 20 * time.Millisecond,
		OnLoaded: func(path string, _ []string, _ error) { loaded <- filepath.Base(path) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitLoaded := func(name string) {
		t.Helper()
		select {
		case got := <-loaded:
			if got != name {
				t.Fatalf("expected %s loaded, got %s", name, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", name)
		}
	}

	waitLoaded("a.yaml")
	if !g.Has("A") {
		t.Fatal("existing file must be loaded on start")
	}

	write(t, dir, "b.json", `[{"id": "B", "name": "Second", "dependencies": ["A"]}]`)
	write(t, dir, "ignored.txt", "noise")
	waitLoaded("b.json")

	if !g.Has("B") {
		t.Error("new file must be loaded")
	}
}
