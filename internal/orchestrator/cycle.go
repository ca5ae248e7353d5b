package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

// CycleResult — итог одного цикла оркестрации.
type CycleResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Assigned   int `json:"assigned"`
	Unassigned int `json:"unassigned"`
	Detected   int `json:"detected"`
	Blocked    int `json:"blocked"`
	Resolved   int `json:"resolved"`
	Moved      int `json:"moved"`

	// Errors — подшаги, завершившиеся ошибкой или паникой.
	Errors []string `json:"errors,omitempty"`
}

// DetectionResult — итог обнаружения с блокировкой и авторазрешением.
type DetectionResult struct {
	New      []*domain.Conflict `json:"new"`
	Blocked  []string           `json:"blocked"`
	Resolved []*domain.Conflict `json:"resolved"`
}

// RunCycle выполняет один цикл. Циклы не перекрываются: параллельный
// вызов ждёт завершения текущего.
//
// Ошибка или паника подшага превращается в событие system.error,
// остальные подшаги выполняются.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	start := o.now()
	res := CycleResult{StartedAt: start}
	record := func(step string, err error) {
		if err != nil {
			res.Errors = append(res.Errors, step+": "+err.Error())
		}
	}

	record("schedule", o.safe(ctx, "schedule", func() error {
		r := o.sched.SchedulePending()
		res.Assigned = len(r.Assigned)
		res.Unassigned = len(r.Unassigned)
		return nil
	}))

	record("detect", o.safe(ctx, "detect", func() error {
		d, err := o.DetectNow(ctx)
		res.Detected = len(d.New)
		res.Blocked = len(d.Blocked)
		res.Resolved = len(d.Resolved)
		return err
	}))

	record("rebalance", o.safe(ctx, "rebalance", func() error {
		res.Moved = len(o.sched.Rebalance())
		return nil
	}))

	record("metrics", o.safe(ctx, "metrics", func() error {
		o.updateMetrics()
		return nil
	}))

	var dash *Dashboard
	record("dashboard", o.safe(ctx, "dashboard", func() error {
		dash = o.Dashboard()
		return o.saveSnapshot(ctx, dash)
	}))

	res.Duration = o.now().Sub(start)
	o.lastMu.Lock()
	if dash != nil {
		o.last = dash
	}
	o.lastCyc = res
	o.hasCycle = true
	o.lastMu.Unlock()

	if o.metrics != nil {
		o.metrics.ObserveCycle(res.Duration)
	}

	hb := domain.NewEvent(domain.EventSystemHeartbeat)
	hb.Message = "orchestration cycle completed"
	hb.Data = map[string]any{
		"assigned": res.Assigned,
		"detected": res.Detected,
		"resolved": res.Resolved,
		"moved":    res.Moved,
		"errors":   len(res.Errors),
	}
	o.emit(hb)

	o.logger.Debug("cycle completed",
		"duration", res.Duration,
		"assigned", res.Assigned,
		"detected", res.Detected,
		"resolved", res.Resolved,
		"moved", res.Moved,
	)
	return res
}

// LastCycle возвращает итог последнего цикла.
func (o *Orchestrator) LastCycle() (CycleResult, bool) {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.lastCyc, o.hasCycle
}

// DetectNow ищет конфликты, блокирует выполняющиеся задачи, на которые
// ссылаются новые конфликты, и запускает авторазрешение.
//
// Ошибка детектора (таймаут проверки) не мешает обработке найденного.
func (o *Orchestrator) DetectNow(ctx context.Context) (DetectionResult, error) {
	found, detectErr := o.det.Detect(ctx)

	res := DetectionResult{
		New:     found.New,
		Blocked: make([]string, 0),
	}
	for _, c := range found.New {
		res.Blocked = append(res.Blocked, o.blockAffected(c)...)
	}

	resolved, resolveErr := o.res.ResolveAuto(ctx, found.New)
	res.Resolved = resolved
	if res.Resolved == nil {
		res.Resolved = make([]*domain.Conflict, 0)
	}

	return res, errors.Join(detectErr, resolveErr)
}

// blockAffected блокирует выполняющиеся задачи конфликта. Перегрузка
// исполнителя снимается переносом назначенных задач, работа не
// останавливается.
func (o *Orchestrator) blockAffected(c *domain.Conflict) []string {
	var blocked []string
	if c.Type == domain.ConflictResourceContention {
		return blocked
	}
	for _, id := range c.AffectedTasks {
		status, ok := o.graph.Status(id)
		if !ok {
			continue
		}
		switch status {
		case domain.TaskStatusInProgress, domain.TaskStatusUnderReview, domain.TaskStatusPaused:
		default:
			continue
		}
		if _, err := o.sup.Block(id, c.ID); err != nil {
			o.logger.Warn("failed to block task", "task_id", id, "conflict_id", c.ID, "error", err)
			continue
		}
		blocked = append(blocked, id)
	}
	return blocked
}

// safe выполняет подшаг цикла, превращая ошибку или панику в system.error.
func (o *Orchestrator) safe(ctx context.Context, step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.logger.Error("cycle step panicked", "step", step, "panic", r, "stack", string(debug.Stack()))
		}
		// остановка оркестратора — не ошибка подшага
		if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
			return
		}
		if o.metrics != nil {
			o.metrics.CycleErrors.WithLabelValues(step).Inc()
		}
		o.logger.Warn("cycle step failed", "step", step, "error", err)

		ev := domain.NewEvent(domain.EventSystemError)
		ev.Message = err.Error()
		ev.Data = map[string]any{"step": step}
		o.emit(ev)
	}()
	return fn()
}

func (o *Orchestrator) saveSnapshot(ctx context.Context, d *Dashboard) error {
	if o.snapshots == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, defaultArchiveTimeout)
	defer cancel()
	return o.snapshots.Save(sctx, d.GeneratedAt, d)
}

// updateMetrics выставляет метрики по текущему состоянию.
func (o *Orchestrator) updateMetrics() {
	if o.metrics == nil {
		return
	}
	tasks := o.graph.List()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	o.metrics.SetTaskCounts(counts)

	o.metrics.WorkerUtilization.Set(o.utilization())
	o.metrics.ParallelEfficiency.Set(parallelEfficiency(tasks))

	byType := make(map[domain.ConflictType]int)
	for _, c := range o.store.Active() {
		byType[c.Type]++
	}
	o.metrics.SetActiveConflicts(byType)
	o.metrics.PendingActions.Set(float64(len(o.res.PendingActions())))
}

// utilization — занятые слоты / общая ёмкость.
func (o *Orchestrator) utilization() float64 {
	assigned, capacity := o.pool.Capacity()
	if capacity == 0 {
		return 0
	}
	return float64(assigned) / float64(capacity)
}

// parallelEfficiency — доля распараллеливаемых среди выполняющихся задач.
func parallelEfficiency(tasks []*domain.Task) float64 {
	var running, parallel int
	for _, t := range tasks {
		if t.Status != domain.TaskStatusInProgress {
			continue
		}
		running++
		if t.Parallelizable {
			parallel++
		}
	}
	if running == 0 {
		return 0
	}
	return float64(parallel) / float64(running)
}
