package conflict

import (
	"context"
	"fmt"
	"slices"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/scheduler"
	"github.com/shaiso/Orchestra/internal/steps"
	"github.com/shaiso/Orchestra/internal/worker"
)

// TaskController — управление выполнением задач, нужное действиям.
// Реализуется supervisor.Supervisor.
type TaskController interface {
	Block(taskID, conflictID string) (*domain.Task, error)
}

// QuarantinePrefix — префикс блокировки, которую ставит карантин.
// Она остаётся после разрешения конфликта и снимается оператором.
const QuarantinePrefix = "quarantine:"

// Actions — автоматические действия планов над графом, пулом и сигналами.
type Actions struct {
	Graph     *engine.Graph
	Pool      *worker.Pool
	Scheduler *scheduler.Scheduler
	Signals   *SignalStore
	Store     *Store
	Tasks     TaskController

	// ContentionThreshold — загрузка, ниже которой исполнитель считается
	// разгруженным при проверке (default: 90).
	ContentionThreshold float64
}

// Register регистрирует действия в реестре шагов.
func (a *Actions) Register(r *steps.Registry) {
	if a.ContentionThreshold <= 0 {
		a.ContentionThreshold = defaultContentionThreshold
	}

	r.Register(steps.Func{Name: ActionValidate, Fn: a.validate})
	r.Register(steps.Func{Name: ActionMergeApprove, Fn: a.approveMerge})
	r.Register(steps.Func{Name: ActionClearSignal, Fn: a.clearSignal})
	r.Register(steps.Func{Name: ActionReorder, Fn: a.reorder})
	r.Register(steps.Func{Name: ActionVerifyAcyclic, Fn: a.verifyAcyclic})
	r.Register(steps.Func{Name: ActionForceParallel, Fn: a.forceParallel})
	r.Register(steps.Func{Name: ActionReprioritize, Fn: a.reprioritize})
	r.Register(steps.Func{Name: ActionRebalance, Fn: a.rebalance})
	r.Register(steps.Func{Name: ActionDefer, Fn: a.deferTasks})
	r.Register(steps.Func{Name: ActionVerifyWorkload, Fn: a.verifyWorkload})
	r.Register(steps.Func{Name: ActionQuarantine, Fn: a.quarantine})
}

// varConflict — ключ конфликта в Request.Vars.
const varConflict = "conflict"

func conflictFrom(req *steps.Request) (*domain.Conflict, error) {
	c, ok := req.Vars[varConflict].(*domain.Conflict)
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: conflict missing in step vars", steps.ErrInvalidConfig)
	}
	return c, nil
}

func checkFailed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", steps.ErrCheckFailed, fmt.Sprintf(format, args...))
}

// validate: конфликт активен, затронутые задачи существуют.
func (a *Actions) validate(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	stored, err := a.Store.Get(c.ID)
	if err != nil {
		return nil, checkFailed("%v", err)
	}
	if stored.IsResolved() {
		return nil, checkFailed("conflict %s already resolved", c.ID)
	}
	for _, id := range c.AffectedTasks {
		if !a.Graph.Has(id) {
			return nil, checkFailed("task %s removed", id)
		}
	}
	return steps.NewResponse(map[string]any{"tasks": len(c.AffectedTasks)}), nil
}

// approveMerge: сигнал слияния всё ещё есть и разрешим автоматически.
func (a *Actions) approveMerge(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	key := c.MetaString(MetaSignalKey)
	for _, sig := range a.Signals.Merges() {
		if sig.Key() != key {
			continue
		}
		if !sig.AutoMergeable {
			return nil, checkFailed("merge %s no longer auto-mergeable", key)
		}
		return steps.NewResponse(map[string]any{
			"branch": sig.Branch,
			"target": sig.Target,
			"files":  len(sig.Files),
		}), nil
	}
	return nil, checkFailed("merge signal %s not found", key)
}

func (a *Actions) clearSignal(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}
	return steps.NewResponse(map[string]any{"cleared": a.Signals.ClearFor(c)}), nil
}

// reorder удаляет ребро, замыкающее цикл: последняя задача цикла
// перестаёт зависеть от первой.
func (a *Actions) reorder(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	cycle := steps.GetConfigStrings(c.Metadata, "cycle")
	if len(cycle) < 2 {
		return nil, fmt.Errorf("%w: conflict has no cycle", steps.ErrInvalidConfig)
	}

	from, to := cycle[len(cycle)-1], cycle[0]
	if err := a.Graph.RemoveDependency(from, to); err != nil {
		return nil, checkFailed("remove %s → %s: %v", from, to, err)
	}
	return steps.NewResponse(map[string]any{"removed": from + " → " + to}), nil
}

func (a *Actions) verifyAcyclic(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	for _, cycle := range a.Graph.FindCycles() {
		for _, id := range cycle {
			if slices.Contains(c.AffectedTasks, id) {
				return nil, checkFailed("task %s still in a cycle", id)
			}
		}
	}
	return steps.NewResponse(nil), nil
}

func (a *Actions) forceParallel(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	marked := make([]string, 0, len(c.AffectedTasks))
	for _, id := range c.AffectedTasks {
		_, err := a.Graph.Update(id, func(t *domain.Task) error {
			if t.Status.IsTerminal() {
				return fmt.Errorf("terminal")
			}
			t.Parallelizable = true
			return nil
		})
		if err == nil {
			marked = append(marked, id)
		}
	}
	if len(marked) == 0 {
		return nil, checkFailed("no task could be marked parallelizable")
	}
	return steps.NewResponse(map[string]any{"tasks": marked}), nil
}

// reprioritize повышает приоритет опаздывающей задачи до critical,
// ожидающих её задач — не ниже high.
func (a *Actions) reprioritize(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	late := c.MetaString("task_id")
	changed := make([]string, 0, len(c.AffectedTasks))
	for _, id := range c.AffectedTasks {
		target := domain.PriorityHigh
		if id == late {
			target = domain.PriorityCritical
		}

		t, err := a.Graph.Get(id)
		if err != nil || t.Status.IsTerminal() || t.Priority.Weight() >= target.Weight() {
			continue
		}
		if _, err := a.Scheduler.Reprioritize(id, target); err == nil {
			changed = append(changed, id)
		}
	}
	return steps.NewResponse(map[string]any{"tasks": changed}), nil
}

func (a *Actions) rebalance(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	moved := make([]scheduler.Move, 0)
	for _, m := range a.Scheduler.Rebalance() {
		if slices.Contains(c.AffectedWorkers, m.From) {
			moved = append(moved, m)
		}
	}
	if len(moved) > 0 {
		return steps.NewResponse(map[string]any{"moves": moved}), nil
	}

	// Переносить некуда: возвращаем в очередь самую лёгкую задачу
	deferred := make([]string, 0, len(c.AffectedWorkers))
	for _, w := range c.AffectedWorkers {
		if id, err := a.Scheduler.DeferLowest(w); err == nil {
			deferred = append(deferred, id)
		}
	}
	if len(deferred) == 0 {
		return nil, checkFailed("no task could be moved off %v", c.AffectedWorkers)
	}
	return steps.NewResponse(map[string]any{"moves": moved, "deferred": deferred}), nil
}

func (a *Actions) deferTasks(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	deferred := make([]string, 0, len(c.AffectedWorkers))
	for _, w := range c.AffectedWorkers {
		id, err := a.Scheduler.DeferLowest(w)
		if err == nil {
			deferred = append(deferred, id)
		}
	}
	if len(deferred) == 0 {
		return nil, checkFailed("nothing to defer on %v", c.AffectedWorkers)
	}
	return steps.NewResponse(map[string]any{"tasks": deferred}), nil
}

func (a *Actions) verifyWorkload(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}

	for _, id := range c.AffectedWorkers {
		w, err := a.Pool.Get(id)
		if err != nil {
			continue
		}
		if w.Workload >= a.ContentionThreshold {
			return nil, checkFailed("worker %s still at %.0f%%", id, w.Workload)
		}
	}
	return steps.NewResponse(nil), nil
}

// quarantine блокирует выполняющиеся задачи конфликта отдельной
// блокировкой карантина.
func (a *Actions) quarantine(_ context.Context, req *steps.Request) (*steps.Response, error) {
	c, err := conflictFrom(req)
	if err != nil {
		return nil, err
	}
	if a.Tasks == nil {
		return nil, fmt.Errorf("%w: no task controller", steps.ErrInvalidConfig)
	}

	blocker := QuarantinePrefix + c.ID
	held := make([]string, 0)
	for _, id := range c.AffectedTasks {
		st, ok := a.Graph.Status(id)
		if !ok || !st.IsActive() || st == domain.TaskStatusAssigned {
			continue
		}
		if _, err := a.Tasks.Block(id, blocker); err == nil {
			held = append(held, id)
		}
	}
	return steps.NewResponse(map[string]any{"quarantined": held, "blocker": blocker}), nil
}
