package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/telemetry"
	"github.com/shaiso/Orchestra/internal/worker"
)

// Пороговые значения по умолчанию (проценты загрузки).
const (
	defaultAssignThreshold = 90.0
	defaultRebalanceHigh   = 85.0
	defaultRebalanceTarget = 70.0

	// maxAssignAttempts — сколько исполнителей пробует AssignBest,
	// если выбранный успел заполниться.
	maxAssignAttempts = 3
)

// Config — конфигурация Scheduler.
type Config struct {
	Graph *engine.Graph
	Pool  *worker.Pool
	Sink  events.Sink

	// AssignThreshold — исполнители с загрузкой от порога не получают задачи (default: 90).
	AssignThreshold float64

	// RebalanceHigh — загрузка, выше которой исполнитель отдаёт задачу (default: 85).
	RebalanceHigh float64

	// RebalanceTarget — загрузка получателя должна быть ниже порога (default: 70).
	RebalanceTarget float64

	Logger *slog.Logger
}

// Scheduler назначает готовые задачи исполнителям и ребалансирует нагрузку.
type Scheduler struct {
	graph *engine.Graph
	pool  *worker.Pool
	sink  events.Sink

	assignThreshold float64
	rebalanceHigh   float64
	rebalanceTarget float64

	logger *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.AssignThreshold <= 0 {
		cfg.AssignThreshold = defaultAssignThreshold
	}
	if cfg.RebalanceHigh <= 0 {
		cfg.RebalanceHigh = defaultRebalanceHigh
	}
	if cfg.RebalanceTarget <= 0 {
		cfg.RebalanceTarget = defaultRebalanceTarget
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		graph:           cfg.Graph,
		pool:            cfg.Pool,
		sink:            cfg.Sink,
		assignThreshold: cfg.AssignThreshold,
		rebalanceHigh:   cfg.RebalanceHigh,
		rebalanceTarget: cfg.RebalanceTarget,
		logger:          cfg.Logger,
	}
}

// ReadyQueue возвращает ожидающие задачи с завершёнными зависимостями,
// упорядоченные по весу приоритета (+10 для критического пути) по убыванию.
// При равном весе сохраняется порядок добавления.
func (s *Scheduler) ReadyQueue() []*domain.Task {
	queue := make([]*domain.Task, 0)
	for _, t := range s.graph.List() {
		if t.Status == domain.TaskStatusPending && s.graph.IsReady(t.ID) {
			queue = append(queue, t)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].SchedulingWeight() > queue[j].SchedulingWeight()
	})
	return queue
}

// Assign назначает задачу исполнителю.
//
// Требует статус pending и завершённые зависимости. Слот исполнителя
// занимается под блокировкой задачи, поэтому два назначения одной задачи
// не могут пройти одновременно. При ошибке ничего не меняется.
func (s *Scheduler) Assign(taskID, workerID string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, t.ID, t.Status)
		}
		if !s.graph.IsReady(t.ID) {
			return fmt.Errorf("%w: %s", ErrDependenciesNotMet, t.ID)
		}

		w, err := s.pool.Get(workerID)
		if err != nil {
			return err
		}
		if !w.HasCapabilities(t.RequiredCapabilities) {
			return fmt.Errorf("%w: %s for %s", ErrCapabilityMismatch, workerID, t.ID)
		}

		if _, err := s.pool.Reserve(workerID, t.ID); err != nil {
			return err
		}

		t.Status = domain.TaskStatusAssigned
		t.Owner = workerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithTaskID(s.logger, taskID).Info("task assigned", "worker_id", workerID)

	ev := domain.NewEvent(domain.EventTaskAssigned)
	ev.TaskID = taskID
	ev.WorkerID = workerID
	s.sink.Emit(ev)

	return task, nil
}

// AssignBest назначает задачу лучшему исполнителю.
// Если подходящих нет, возвращает ErrNoWorker, задача остаётся pending.
func (s *Scheduler) AssignBest(taskID string) (*domain.Task, error) {
	task, err := s.graph.Get(taskID)
	if err != nil {
		return nil, err
	}

	exclude := make([]string, 0, maxAssignAttempts)
	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		ranked := s.pool.Rank(task, s.assignThreshold, exclude...)
		if len(ranked) == 0 {
			break
		}

		workerID := ranked[0].Worker.ID
		assigned, err := s.Assign(taskID, workerID)
		if err == nil {
			return assigned, nil
		}

		// Исполнитель мог заполниться между оценкой и резервированием
		if errors.Is(err, worker.ErrWorkerFull) || errors.Is(err, worker.ErrWorkerUnavailable) {
			exclude = append(exclude, workerID)
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("%w: %s", ErrNoWorker, taskID)
}

// Assignment — результат назначения.
type Assignment struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
}

// ScheduleResult — итог прохода SchedulePending.
type ScheduleResult struct {
	Assigned []Assignment `json:"assigned"`

	// Unassigned — готовые задачи без подходящего исполнителя.
	Unassigned []string `json:"unassigned"`
}

// SchedulePending назначает все готовые задачи в порядке очереди.
// Задачи без подходящего исполнителя остаются pending до следующего прохода.
func (s *Scheduler) SchedulePending() ScheduleResult {
	res := ScheduleResult{
		Assigned:   make([]Assignment, 0),
		Unassigned: make([]string, 0),
	}

	for _, t := range s.ReadyQueue() {
		task, err := s.AssignBest(t.ID)
		switch {
		case err == nil:
			res.Assigned = append(res.Assigned, Assignment{TaskID: task.ID, WorkerID: task.Owner})
		case errors.Is(err, ErrNoWorker):
			res.Unassigned = append(res.Unassigned, t.ID)
		case errors.Is(err, ErrNotPending):
			// задачу уже назначили параллельно
		default:
			telemetry.WithTaskID(s.logger, t.ID).Warn("assign failed", "error", err)
			res.Unassigned = append(res.Unassigned, t.ID)
		}
	}

	if len(res.Assigned) > 0 || len(res.Unassigned) > 0 {
		s.logger.Debug("schedule pass finished",
			"assigned", len(res.Assigned),
			"unassigned", len(res.Unassigned),
		)
	}
	return res
}

// Move — перенос задачи между исполнителями.
type Move struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Rebalance разгружает перегруженных исполнителей.
//
// Для каждого исполнителя с загрузкой выше RebalanceHigh выбирается
// назначенная, но не начатая задача с наименьшим приоритетом вне
// критического пути, и переносится лучшему исполнителю с загрузкой ниже
// RebalanceTarget и нужными навыками. Задачи критического пути не переносятся.
func (s *Scheduler) Rebalance() []Move {
	moves := make([]Move, 0)

	for _, w := range s.pool.List() {
		if w.Workload <= s.rebalanceHigh {
			continue
		}

		task := s.pickMovable(w)
		if task == nil {
			continue
		}

		ranked := s.pool.Rank(task, s.rebalanceTarget, w.ID)
		if len(ranked) == 0 {
			continue
		}
		to := ranked[0].Worker.ID

		if err := s.Reassign(task.ID, w.ID, to); err != nil {
			telemetry.WithTaskID(s.logger, task.ID).Debug("rebalance move skipped", "error", err)
			continue
		}
		moves = append(moves, Move{TaskID: task.ID, From: w.ID, To: to})
	}

	return moves
}

// pickMovable выбирает задачу исполнителя для переноса: назначенная, не на
// критическом пути, с наименьшим весом приоритета. При равном весе берётся
// задача, добавленная позже.
func (s *Scheduler) pickMovable(w *domain.Worker) *domain.Task {
	var best *domain.Task
	for _, id := range w.CurrentTasks {
		t, err := s.graph.Get(id)
		if err != nil {
			continue
		}
		if t.Status != domain.TaskStatusAssigned || t.CriticalPath {
			continue
		}
		if best == nil || t.Priority.Weight() < best.Priority.Weight() ||
			(t.Priority.Weight() == best.Priority.Weight() && t.CreatedAt.After(best.CreatedAt)) {
			best = t
		}
	}
	return best
}

// Reassign переносит назначенную задачу от from к to под блокировкой задачи.
func (s *Scheduler) Reassign(taskID, from, to string) error {
	_, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.CriticalPath {
			return fmt.Errorf("%w: %s", ErrCriticalPath, t.ID)
		}
		if t.Status != domain.TaskStatusAssigned || t.Owner != from {
			return fmt.Errorf("%w: %s is %s (owner %s)", ErrNotAssigned, t.ID, t.Status, t.Owner)
		}

		target, err := s.pool.Get(to)
		if err != nil {
			return err
		}
		if !target.HasCapabilities(t.RequiredCapabilities) {
			return fmt.Errorf("%w: %s for %s", ErrCapabilityMismatch, to, t.ID)
		}

		if err := s.pool.Transfer(t.ID, from, to); err != nil {
			return err
		}
		t.Owner = to
		return nil
	})
	if err != nil {
		return err
	}

	telemetry.WithTaskID(s.logger, taskID).Info("task reassigned", "from", from, "to", to)

	ev := domain.NewEvent(domain.EventTaskMoved)
	ev.TaskID = taskID
	ev.WorkerID = to
	ev.Data = map[string]any{"from": from}
	s.sink.Emit(ev)
	return nil
}

// Defer возвращает назначенную, но не начатую задачу в pending и
// освобождает слот исполнителя.
func (s *Scheduler) Defer(taskID string) error {
	var owner string
	_, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusAssigned {
			return fmt.Errorf("%w: %s is %s", ErrNotAssigned, t.ID, t.Status)
		}
		owner = t.Owner
		s.pool.Release(t.Owner, t.ID)
		t.Owner = ""
		t.Status = domain.TaskStatusPending
		return nil
	})
	if err != nil {
		return err
	}

	telemetry.WithTaskID(s.logger, taskID).Info("task deferred", "worker_id", owner)
	return nil
}

// DeferLowest возвращает в pending назначенную задачу исполнителя с
// наименьшим приоритетом вне критического пути. Возвращает её ID.
func (s *Scheduler) DeferLowest(workerID string) (string, error) {
	w, err := s.pool.Get(workerID)
	if err != nil {
		return "", err
	}
	task := s.pickMovable(w)
	if task == nil {
		return "", fmt.Errorf("%w: no movable task on %s", ErrNotAssigned, workerID)
	}
	if err := s.Defer(task.ID); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Reprioritize меняет приоритет задачи. Терминальные задачи не меняются.
func (s *Scheduler) Reprioritize(taskID string, p domain.Priority) (*domain.Task, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", engine.ErrInvalidPriority, p)
	}
	return s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, t.ID, t.Status)
		}
		t.Priority = p
		return nil
	})
}
