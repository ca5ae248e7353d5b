package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/scheduler"
	"github.com/shaiso/Orchestra/internal/telemetry"
	"github.com/shaiso/Orchestra/internal/worker"
)

const (
	defaultVelocityWindow = 30

	// reworkProgress — прогресс задачи, вернувшейся с ревью.
	reworkProgress = 90

	metaRework      = "rework"
	metaCheckpoints = "checkpoints"
)

// Config — конфигурация Supervisor.
type Config struct {
	Graph     *engine.Graph
	Pool      *worker.Pool
	Scheduler *scheduler.Scheduler
	Sink      events.Sink

	// Gates — quality gates по фазам. Задачи фаз с gate проходят under_review.
	Gates []domain.QualityGate

	// OnGateFailure вызывается, когда задача не прошла ревью.
	OnGateFailure func(sig domain.GateSignal)

	// VelocityWindow — размер тренда скорости (default: 30).
	VelocityWindow int

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger *slog.Logger
}

// Supervisor проводит задачи через состояния выполнения.
type Supervisor struct {
	graph *engine.Graph
	pool  *worker.Pool
	sched *scheduler.Scheduler
	sink  events.Sink

	gates         map[domain.Phase]domain.QualityGate
	onGateFailure func(domain.GateSignal)

	statsMu        sync.Mutex
	completed      int
	failed         int
	avgHours       float64
	velocity       []float64
	velocityWindow int

	now    func() time.Time
	logger *slog.Logger
}

// New создаёт Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = defaultVelocityWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gates := make(map[domain.Phase]domain.QualityGate, len(cfg.Gates))
	for _, g := range cfg.Gates {
		gates[g.Phase] = g
	}

	return &Supervisor{
		graph:          cfg.Graph,
		pool:           cfg.Pool,
		sched:          cfg.Scheduler,
		sink:           cfg.Sink,
		gates:          gates,
		onGateFailure:  cfg.OnGateFailure,
		velocityWindow: cfg.VelocityWindow,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}
}

func (s *Supervisor) emit(t domain.EventType, task *domain.Task, msg string, data map[string]any) {
	ev := domain.NewEvent(t)
	ev.TaskID = task.ID
	ev.WorkerID = task.Owner
	ev.Message = msg
	ev.Data = data
	s.sink.Emit(ev)
}

func invalid(t *domain.Task, action string) error {
	return fmt.Errorf("%w: cannot %s task %s in status %s", ErrInvalidTransition, action, t.ID, t.Status)
}

// Start переводит назначенную задачу в in_progress.
func (s *Supervisor) Start(taskID string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusAssigned {
			return invalid(t, "start")
		}
		now := s.now().UTC()
		t.Status = domain.TaskStatusInProgress
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithTaskID(s.logger, task.ID).Info("task started", "worker_id", task.Owner)
	s.emit(domain.EventTaskStarted, task, "", nil)
	return task, nil
}

// clampProgress ограничивает прогресс диапазоном [0, 100].
func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// UpdateProgress обновляет прогресс задачи в in_progress.
//
// Значение ограничивается [0, 100]. При 100 задача завершается либо,
// если у фазы есть quality gate, переходит в under_review.
func (s *Supervisor) UpdateProgress(taskID string, progress int) (*domain.Task, error) {
	progress = clampProgress(progress)

	var toReview bool
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusInProgress {
			return invalid(t, "update progress of")
		}
		t.Progress = progress
		if progress == 100 {
			if _, gated := s.gates[t.Phase]; gated {
				t.Status = domain.TaskStatusUnderReview
				toReview = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.EventTaskProgress, task, "", map[string]any{"progress": progress})

	switch {
	case toReview:
		telemetry.WithTaskID(s.logger, task.ID).Info("task awaiting review", "phase", task.Phase)
		s.emit(domain.EventTaskReview, task, "", map[string]any{"gate": s.gates[task.Phase].Name})
		return task, nil
	case progress == 100:
		return s.Complete(taskID)
	default:
		return task, nil
	}
}

// Review оценивает задачу в under_review по quality gate её фазы.
//
// Прохождение завершает задачу. Провал возвращает задачу в in_progress
// с пометкой доработки и передаёт сигнал провала детектору конфликтов.
func (s *Supervisor) Review(taskID string, metrics map[string]float64) (*domain.Task, domain.GateResult, error) {
	current, err := s.graph.Get(taskID)
	if err != nil {
		return nil, domain.GateResult{}, err
	}
	gate, ok := s.gates[current.Phase]
	if !ok {
		return nil, domain.GateResult{}, fmt.Errorf("%w: %s", ErrNoGate, current.Phase)
	}

	result := gate.Evaluate(metrics)

	if result.Passed {
		task, err := s.complete(taskID, "review", domain.TaskStatusUnderReview)
		if err != nil {
			return nil, result, err
		}
		telemetry.WithTaskID(s.logger, task.ID).Info("quality gate passed", "gate", gate.Name, "score", result.Score)
		return task, result, nil
	}

	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusUnderReview {
			return invalid(t, "review")
		}
		t.Status = domain.TaskStatusInProgress
		t.Progress = reworkProgress
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[metaRework] = true
		return nil
	})
	if err != nil {
		return nil, result, err
	}

	s.logger.Warn("quality gate failed",
		"task_id", task.ID,
		"gate", gate.Name,
		"score", result.Score,
		"failed_criteria", result.FailedCriteria,
	)
	s.emit(domain.EventTaskProgress, task, "quality gate failed", map[string]any{
		"progress":        task.Progress,
		"gate":            gate.Name,
		"failed_criteria": result.FailedCriteria,
	})

	if s.onGateFailure != nil {
		s.onGateFailure(domain.GateSignal{TaskID: task.ID, Gate: gate.Name, Metrics: metrics})
	}
	return task, result, nil
}

// Complete завершает задачу.
//
// Повторное завершение — no-op: слот исполнителя освобождается ровно один раз.
// После завершения пересчитывается загрузка исполнителя, обновляется
// статистика и зависимые задачи, ставшие готовыми, получают событие task.ready.
func (s *Supervisor) Complete(taskID string) (*domain.Task, error) {
	return s.complete(taskID, "complete", domain.TaskStatusInProgress, domain.TaskStatusUnderReview)
}

// complete завершает задачу, если её статус входит в from. Повторное
// завершение — no-op только для action "complete".
func (s *Supervisor) complete(taskID, action string, from ...domain.TaskStatus) (*domain.Task, error) {
	var already, released bool
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		switch {
		case t.Status == domain.TaskStatusCompleted && action == "complete":
			already = true
			return nil
		case slices.Contains(from, t.Status):
		default:
			return invalid(t, action)
		}

		now := s.now().UTC()
		t.Status = domain.TaskStatusCompleted
		t.Progress = 100
		t.CompletedAt = &now
		if t.Owner != "" {
			released = s.pool.Release(t.Owner, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return task, nil
	}

	hours := task.Duration().Hours()
	s.recordCompletion(task.EstimatedHours, hours)

	if task.Owner != "" {
		rework, _ := task.Metadata[metaRework].(bool)
		if err := s.pool.RecordOutcome(task.Owner, worker.Outcome{Success: true, Hours: hours, Rework: rework}); err != nil {
			telemetry.WithWorkerID(s.logger, task.Owner).Warn("record outcome failed", "error", err)
		}
	}

	s.logger.Info("task completed",
		"task_id", task.ID,
		"worker_id", task.Owner,
		"hours", hours,
		"slot_released", released,
	)
	s.emit(domain.EventTaskCompleted, task, "", map[string]any{"hours": hours})

	for _, id := range s.graph.UnlockDependents(task.ID) {
		ev := domain.NewEvent(domain.EventTaskReady)
		ev.TaskID = id
		ev.Data = map[string]any{"unlocked_by": task.ID}
		s.sink.Emit(ev)
	}

	return task, nil
}

// recordCompletion учитывает длительность в среднем и тренде скорости.
// Скорость — отношение оценки к фактическим часам.
func (s *Supervisor) recordCompletion(estimated, actual float64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.completed++
	s.avgHours += (actual - s.avgHours) / float64(s.completed)

	if actual <= 0 || estimated <= 0 {
		return
	}
	s.velocity = append(s.velocity, estimated/actual)
	if len(s.velocity) > s.velocityWindow {
		s.velocity = s.velocity[len(s.velocity)-s.velocityWindow:]
	}
}

// Fail переводит задачу в failed и освобождает слот исполнителя.
func (s *Supervisor) Fail(taskID, reason string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status.IsTerminal() || t.Status == domain.TaskStatusPending {
			return invalid(t, "fail")
		}
		now := s.now().UTC()
		t.Status = domain.TaskStatusFailed
		t.FailureReason = reason
		t.CompletedAt = &now
		t.Blockers = nil
		t.BlockedFrom = ""
		if t.Owner != "" {
			s.pool.Release(t.Owner, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statsMu.Lock()
	s.failed++
	s.statsMu.Unlock()

	if task.Owner != "" {
		if err := s.pool.RecordOutcome(task.Owner, worker.Outcome{Success: false}); err != nil {
			telemetry.WithWorkerID(s.logger, task.Owner).Warn("record outcome failed", "error", err)
		}
	}

	telemetry.WithTaskID(s.logger, task.ID).Warn("task failed", "worker_id", task.Owner, "reason", reason)
	s.emit(domain.EventTaskFailed, task, reason, nil)
	return task, nil
}

// Block блокирует выполняющуюся задачу конфликтом.
// Повторная блокировка тем же конфликтом — no-op.
func (s *Supervisor) Block(taskID, conflictID string) (*domain.Task, error) {
	var changed bool
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		switch t.Status {
		case domain.TaskStatusInProgress, domain.TaskStatusUnderReview,
			domain.TaskStatusPaused, domain.TaskStatusBlocked:
		default:
			return invalid(t, "block")
		}
		if t.HasBlocker(conflictID) {
			return nil
		}
		if t.Status != domain.TaskStatusBlocked {
			t.BlockedFrom = t.Status
		}
		t.Blockers = append(t.Blockers, conflictID)
		t.Status = domain.TaskStatusBlocked
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		telemetry.WithTaskID(s.logger, task.ID).Info("task blocked", "conflict_id", conflictID)
		ev := domain.NewEvent(domain.EventTaskBlocked)
		ev.TaskID = task.ID
		ev.WorkerID = task.Owner
		ev.ConflictID = conflictID
		s.sink.Emit(ev)
	}
	return task, nil
}

// Unblock снимает блокировку конфликтом. Когда блокировок не остаётся,
// задача возвращается в статус, из которого была заблокирована
// (in_progress, если он неизвестен).
func (s *Supervisor) Unblock(taskID, conflictID string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status.IsTerminal() {
			return invalid(t, "unblock")
		}
		idx := slices.Index(t.Blockers, conflictID)
		if idx < 0 {
			return fmt.Errorf("%w: %s/%s", ErrNotBlockedBy, t.ID, conflictID)
		}
		t.Blockers = slices.Delete(t.Blockers, idx, idx+1)
		if len(t.Blockers) == 0 && t.Status == domain.TaskStatusBlocked {
			t.Status = domain.TaskStatusInProgress
			switch t.BlockedFrom {
			case domain.TaskStatusPaused, domain.TaskStatusUnderReview:
				t.Status = t.BlockedFrom
			}
			t.BlockedFrom = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithTaskID(s.logger, task.ID).Info("task unblocked", "conflict_id", conflictID, "status", task.Status)
	ev := domain.NewEvent(domain.EventTaskUnblocked)
	ev.TaskID = task.ID
	ev.WorkerID = task.Owner
	ev.ConflictID = conflictID
	s.sink.Emit(ev)
	return task, nil
}

// Cancel отменяет нефинальную задачу. Слот исполнителя освобождается
// под той же блокировкой задачи, что и смена статуса.
func (s *Supervisor) Cancel(taskID string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status.IsTerminal() {
			return invalid(t, "cancel")
		}
		if t.Owner != "" {
			s.pool.Release(t.Owner, t.ID)
		}
		now := s.now().UTC()
		t.Status = domain.TaskStatusCancelled
		t.CompletedAt = &now
		t.Blockers = nil
		t.BlockedFrom = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithTaskID(s.logger, task.ID).Info("task cancelled", "worker_id", task.Owner)
	s.emit(domain.EventTaskCancelled, task, "", nil)
	return task, nil
}

// Pause приостанавливает выполняющуюся задачу. Повторная пауза — no-op.
func (s *Supervisor) Pause(taskID string) (*domain.Task, error) {
	var changed bool
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		switch t.Status {
		case domain.TaskStatusPaused:
			return nil
		case domain.TaskStatusInProgress:
			t.Status = domain.TaskStatusPaused
			changed = true
			return nil
		default:
			return invalid(t, "pause")
		}
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.emit(domain.EventTaskPaused, task, "", nil)
	}
	return task, nil
}

// Resume возобновляет приостановленную задачу. Возобновление выполняющейся — no-op.
// Если у задачи остались блокировки, она возвращается в blocked.
func (s *Supervisor) Resume(taskID string) (*domain.Task, error) {
	var changed bool
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		switch t.Status {
		case domain.TaskStatusInProgress:
			return nil
		case domain.TaskStatusPaused:
			t.Status = domain.TaskStatusInProgress
			if len(t.Blockers) > 0 {
				t.Status = domain.TaskStatusBlocked
				t.BlockedFrom = domain.TaskStatusInProgress
			}
			changed = true
			return nil
		default:
			return invalid(t, "resume")
		}
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.emit(domain.EventTaskResumed, task, "", nil)
	}
	return task, nil
}

// Checkpoint — отметка промежуточного состояния задачи.
type Checkpoint struct {
	At       time.Time `json:"at"`
	Note     string    `json:"note"`
	Progress int       `json:"progress"`
}

// Checkpoint записывает чекпоинт выполняющейся задачи в метаданные.
func (s *Supervisor) Checkpoint(taskID, note string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusInProgress {
			return invalid(t, "checkpoint")
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		cps, _ := t.Metadata[metaCheckpoints].([]Checkpoint)
		cps = append(slices.Clone(cps), Checkpoint{At: s.now().UTC(), Note: note, Progress: t.Progress})
		t.Metadata[metaCheckpoints] = cps
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(domain.EventTaskProgress, task, note, map[string]any{
		"progress":   task.Progress,
		"checkpoint": note,
	})
	return task, nil
}

// BatchResult — итог параллельного батча.
type BatchResult struct {
	Started []string `json:"started"`

	// Deferred — задачи, для которых не нашлось исполнителя; остаются pending.
	Deferred []string `json:"deferred"`
}

// ExecuteParallelBatch запускает набор задач параллельно.
//
// Сначала проверяются все задачи: статус pending или assigned,
// parallelizable, зависимости завершены. Если хотя бы одна не проходит,
// батч отклоняется без побочных эффектов. Затем ожидающие задачи
// назначаются, и все назначенные стартуют.
func (s *Supervisor) ExecuteParallelBatch(taskIDs []string) (BatchResult, error) {
	res := BatchResult{Started: make([]string, 0), Deferred: make([]string, 0)}
	if len(taskIDs) == 0 {
		return res, fmt.Errorf("%w: empty batch", ErrBatchInvalid)
	}

	var problems []error
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if seen[id] {
			problems = append(problems, fmt.Errorf("%s: duplicate", id))
			continue
		}
		seen[id] = true

		t, err := s.graph.Get(id)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if t.Status != domain.TaskStatusPending && t.Status != domain.TaskStatusAssigned {
			problems = append(problems, fmt.Errorf("%s: status %s", id, t.Status))
		}
		if !t.Parallelizable {
			problems = append(problems, fmt.Errorf("%s: not parallelizable", id))
		}
		if !s.graph.IsReady(id) {
			problems = append(problems, fmt.Errorf("%s: dependencies not completed", id))
		}
	}
	if len(problems) > 0 {
		return res, fmt.Errorf("%w: %w", ErrBatchInvalid, errors.Join(problems...))
	}

	for _, id := range taskIDs {
		status, _ := s.graph.Status(id)
		if status == domain.TaskStatusPending {
			if _, err := s.sched.AssignBest(id); err != nil {
				if !errors.Is(err, scheduler.ErrNoWorker) {
					telemetry.WithTaskID(s.logger, id).Warn("batch assign failed", "error", err)
				}
				res.Deferred = append(res.Deferred, id)
				continue
			}
		}

		if _, err := s.startBatched(id); err != nil {
			telemetry.WithTaskID(s.logger, id).Warn("batch start failed", "error", err)
			if status == domain.TaskStatusPending {
				// Назначение сделано этим батчем, возвращаем задачу в очередь
				if derr := s.sched.Defer(id); derr != nil {
					telemetry.WithTaskID(s.logger, id).Warn("batch rollback failed", "error", derr)
				}
			}
			res.Deferred = append(res.Deferred, id)
			continue
		}
		res.Started = append(res.Started, id)
	}

	s.logger.Info("parallel batch executed",
		"started", len(res.Started),
		"deferred", len(res.Deferred),
	)
	return res, nil
}

// startBatched стартует задачу батча, повторно проверяя под блокировкой
// задачи то, что проверялось до запуска.
func (s *Supervisor) startBatched(taskID string) (*domain.Task, error) {
	task, err := s.graph.Update(taskID, func(t *domain.Task) error {
		if t.Status != domain.TaskStatusAssigned {
			return invalid(t, "start")
		}
		if !t.Parallelizable {
			return fmt.Errorf("%w: %s: not parallelizable", ErrBatchInvalid, t.ID)
		}
		if !s.graph.IsReady(t.ID) {
			return fmt.Errorf("%w: %s: dependencies not completed", ErrBatchInvalid, t.ID)
		}
		now := s.now().UTC()
		t.Status = domain.TaskStatusInProgress
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.WithTaskID(s.logger, task.ID).Info("task started", "worker_id", task.Owner)
	s.emit(domain.EventTaskStarted, task, "", nil)
	return task, nil
}

// Stats — статистика выполнения.
type Stats struct {
	Completed          int       `json:"completed"`
	Failed             int       `json:"failed"`
	AvgCompletionHours float64   `json:"avg_completion_hours"`
	Velocity           []float64 `json:"velocity"`
	AvgVelocity        float64   `json:"avg_velocity"`
}

// Stats возвращает снимок статистики.
func (s *Supervisor) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st := Stats{
		Completed:          s.completed,
		Failed:             s.failed,
		AvgCompletionHours: s.avgHours,
		Velocity:           slices.Clone(s.velocity),
	}
	if len(s.velocity) > 0 {
		var sum float64
		for _, v := range s.velocity {
			sum += v
		}
		st.AvgVelocity = sum / float64(len(s.velocity))
	}
	if st.Velocity == nil {
		st.Velocity = []float64{}
	}
	return st
}
