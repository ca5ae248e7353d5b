package orchestrator

import (
	"math"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/supervisor"
)

// hoursPerDay — рабочих часов одного исполнителя в день для прогноза.
const hoursPerDay = 8

// Dashboard — снимок состояния оркестратора.
type Dashboard struct {
	GeneratedAt time.Time `json:"generated_at"`

	Tasks   TaskSummary   `json:"tasks"`
	Workers WorkerSummary `json:"workers"`

	// PhaseProgress — средний прогресс задач фазы, %.
	PhaseProgress map[domain.Phase]float64 `json:"phase_progress"`

	ParallelEfficiency float64 `json:"parallel_efficiency"`

	ActiveConflicts []ConflictSummary           `json:"active_conflicts"`
	ConflictsByType map[domain.ConflictType]int `json:"conflicts_by_type"`
	PendingActions  []domain.PendingAction      `json:"pending_actions"`
	CriticalPath    engine.CriticalPath         `json:"critical_path"`
	Performance     supervisor.Stats            `json:"performance"`
	Signals         map[domain.SignalKind]int   `json:"signals"`

	RemainingHours float64 `json:"remaining_hours"`

	// ProjectedCompletion — now + ceil(оставшиеся часы / (8 × исполнители)) дней.
	// nil, если нет доступных исполнителей.
	ProjectedCompletion *time.Time `json:"projected_completion,omitempty"`
}

// TaskSummary — задачи по статусам и фазам.
type TaskSummary struct {
	Total    int                       `json:"total"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
	ByPhase  map[domain.Phase]int      `json:"by_phase"`
}

// WorkerSummary — загрузка исполнителей.
type WorkerSummary struct {
	Total    int                         `json:"total"`
	ByType   map[domain.WorkerType]int   `json:"by_type"`
	ByStatus map[domain.WorkerStatus]int `json:"by_status"`

	// Utilization — занятые слоты / общая ёмкость [0, 1].
	Utilization float64 `json:"utilization"`

	Load []WorkerLoad `json:"load"`
}

// WorkerLoad — загрузка одного исполнителя.
type WorkerLoad struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         domain.WorkerType   `json:"type"`
	Status       domain.WorkerStatus `json:"status"`
	Workload     float64             `json:"workload"`
	CurrentTasks []string            `json:"current_tasks"`
}

// ConflictSummary — активный конфликт для дашборда.
type ConflictSummary struct {
	ID             string              `json:"id"`
	Type           domain.ConflictType `json:"type"`
	Severity       domain.Severity     `json:"severity"`
	Title          string              `json:"title"`
	AffectedTasks  []string            `json:"affected_tasks"`
	DetectedAt     time.Time           `json:"detected_at"`
	Attempts       int                 `json:"attempts"`
	AutoResolvable bool                `json:"auto_resolvable"`
	SeverityScore  int                 `json:"severity_score"`
}

// Dashboard собирает снимок текущего состояния.
func (o *Orchestrator) Dashboard() *Dashboard {
	now := o.now()
	tasks := o.graph.List()
	workers := o.pool.List()

	d := &Dashboard{
		GeneratedAt: now,
		Tasks: TaskSummary{
			Total:    len(tasks),
			ByStatus: make(map[domain.TaskStatus]int),
			ByPhase:  make(map[domain.Phase]int),
		},
		Workers: WorkerSummary{
			Total:       len(workers),
			ByType:      make(map[domain.WorkerType]int),
			ByStatus:    make(map[domain.WorkerStatus]int),
			Utilization: o.utilization(),
			Load:        make([]WorkerLoad, 0, len(workers)),
		},
		PhaseProgress:      phaseProgress(tasks),
		ParallelEfficiency: parallelEfficiency(tasks),
		ActiveConflicts:    make([]ConflictSummary, 0),
		ConflictsByType:    make(map[domain.ConflictType]int),
		PendingActions:     o.res.PendingActions(),
		CriticalPath:       o.graph.CriticalPath(),
		Performance:        o.sup.Stats(),
		Signals:            o.signals.Counts(),
		RemainingHours:     o.graph.RemainingHours(),
	}

	for _, t := range tasks {
		d.Tasks.ByStatus[t.Status]++
		d.Tasks.ByPhase[t.Phase]++
	}

	available := 0
	for _, w := range workers {
		d.Workers.ByType[w.Type]++
		d.Workers.ByStatus[w.Status]++
		d.Workers.Load = append(d.Workers.Load, WorkerLoad{
			ID:           w.ID,
			Name:         w.Name,
			Type:         w.Type,
			Status:       w.Status,
			Workload:     w.Workload,
			CurrentTasks: w.CurrentTasks,
		})
		if w.Status != domain.WorkerStatusOffline && w.Status != domain.WorkerStatusMaintenance {
			available++
		}
	}

	for _, c := range o.store.Active() {
		d.ConflictsByType[c.Type]++
		d.ActiveConflicts = append(d.ActiveConflicts, ConflictSummary{
			ID:             c.ID,
			Type:           c.Type,
			Severity:       c.Severity,
			Title:          c.Title,
			AffectedTasks:  c.AffectedTasks,
			DetectedAt:     c.DetectedAt,
			Attempts:       c.Attempts,
			AutoResolvable: c.AutoResolvable,
			SeverityScore:  c.Impact.SeverityScore,
		})
	}
	if d.PendingActions == nil {
		d.PendingActions = make([]domain.PendingAction, 0)
	}

	d.ProjectedCompletion = ProjectCompletion(now, d.RemainingHours, available)
	return d
}

// LastDashboard возвращает снимок последнего цикла.
func (o *Orchestrator) LastDashboard() (*Dashboard, bool) {
	o.lastMu.RLock()
	defer o.lastMu.RUnlock()
	return o.last, o.last != nil
}

// ProjectCompletion прогнозирует дату завершения:
// now + ceil(remaining / (8 × workers)) дней. nil при workers == 0.
func ProjectCompletion(now time.Time, remainingHours float64, workers int) *time.Time {
	if workers <= 0 {
		return nil
	}
	days := math.Ceil(remainingHours / float64(hoursPerDay*workers))
	at := now.AddDate(0, 0, int(days))
	return &at
}

// phaseProgress — средний прогресс по фазам. Отменённые задачи не учитываются.
func phaseProgress(tasks []*domain.Task) map[domain.Phase]float64 {
	sum := make(map[domain.Phase]float64)
	n := make(map[domain.Phase]int)
	for _, t := range tasks {
		if t.Status == domain.TaskStatusCancelled {
			continue
		}
		p := float64(t.Progress)
		if t.Status == domain.TaskStatusCompleted {
			p = 100
		}
		sum[t.Phase] += p
		n[t.Phase]++
	}

	out := make(map[domain.Phase]float64, len(n))
	for phase, count := range n {
		out[phase] = sum[phase] / float64(count)
	}
	return out
}
