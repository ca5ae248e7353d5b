package worker

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Orchestra/internal/domain"
)

// entry — исполнитель под собственным мьютексом.
type entry struct {
	mu  sync.Mutex
	w   *domain.Worker
	seq int
}

// Config — конфигурация пула.
type Config struct {
	Logger *slog.Logger
}

// Pool — реестр исполнителей с ёмкостью и текущей загрузкой.
//
// Каждый исполнитель защищён своим мьютексом, mu защищает только карту.
// Загрузка и статус пересчитываются при каждом изменении списка задач.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     int

	logger *slog.Logger
}

// New создаёт пустой пул.
func New(cfg Config) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{
		entries: make(map[string]*entry),
		logger:  cfg.Logger,
	}
}

// Register добавляет исполнителя в пул. Возвращает его ID.
func (p *Pool) Register(spec domain.WorkerSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidWorker)
	}
	if spec.Type == "" {
		spec.Type = domain.WorkerTypeGeneralist
	}
	if !spec.Type.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidWorker, spec.Type)
	}
	if spec.MaxConcurrentTasks <= 0 {
		return "", fmt.Errorf("%w: max_concurrent_tasks must be positive", ErrInvalidWorker)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	perf := domain.DefaultPerformance()
	if spec.Performance != nil {
		perf = *spec.Performance
	}

	w := &domain.Worker{
		ID:                 spec.ID,
		Name:               spec.Name,
		Type:               spec.Type,
		Capabilities:       normalizeCapabilities(spec.Capabilities),
		MaxConcurrentTasks: spec.MaxConcurrentTasks,
		CurrentTasks:       []string{},
		Status:             domain.WorkerStatusAvailable,
		Performance:        perf,
	}
	recompute(w)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[w.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateWorker, w.ID)
	}
	p.entries[w.ID] = &entry{w: w, seq: p.seq}
	p.seq++

	p.logger.Info("worker registered",
		"worker_id", w.ID,
		"type", w.Type,
		"capacity", w.MaxConcurrentTasks,
	)

	return w.ID, nil
}

// normalizeCapabilities убирает пустые и повторяющиеся навыки.
func normalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// recompute пересчитывает загрузку и статус. Вызывается под мьютексом исполнителя.
//
// offline и maintenance сохраняются: их снимает только SetStatus.
func recompute(w *domain.Worker) {
	n := len(w.CurrentTasks)
	w.Workload = domain.ComputeWorkload(n, w.MaxConcurrentTasks)

	if w.Status.IsManual() {
		return
	}
	switch {
	case n > w.MaxConcurrentTasks:
		w.Status = domain.WorkerStatusOverloaded
	case n == w.MaxConcurrentTasks:
		w.Status = domain.WorkerStatusBusy
	default:
		w.Status = domain.WorkerStatusAvailable
	}
}

func (p *Pool) get(id string) (*entry, error) {
	p.mu.RLock()
	e, ok := p.entries[id]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return e, nil
}

// ordered возвращает записи в порядке регистрации.
func (p *Pool) ordered() []*entry {
	p.mu.RLock()
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get возвращает копию исполнителя.
func (p *Pool) Get(id string) (*domain.Worker, error) {
	e, err := p.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w.Clone(), nil
}

// List возвращает копии всех исполнителей в порядке регистрации.
func (p *Pool) List() []*domain.Worker {
	entries := p.ordered()
	out := make([]*domain.Worker, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.w.Clone())
		e.mu.Unlock()
	}
	return out
}

// Len возвращает количество исполнителей.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Reserve занимает слот исполнителя под задачу.
func (p *Pool) Reserve(workerID, taskID string) (*domain.Worker, error) {
	e, err := p.get(workerID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.w
	if w.Status.IsManual() {
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkerUnavailable, workerID, w.Status)
	}
	if slices.Contains(w.CurrentTasks, taskID) {
		return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyReserved, workerID, taskID)
	}
	if len(w.CurrentTasks) >= w.MaxConcurrentTasks {
		return nil, fmt.Errorf("%w: %s", ErrWorkerFull, workerID)
	}

	w.CurrentTasks = append(w.CurrentTasks, taskID)
	recompute(w)
	return w.Clone(), nil
}

// Release освобождает слот задачи. Возвращает false, если задача
// не занимала слот (повторное освобождение — no-op).
func (p *Pool) Release(workerID, taskID string) bool {
	e, err := p.get(workerID)
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := slices.Index(e.w.CurrentTasks, taskID)
	if idx < 0 {
		return false
	}
	e.w.CurrentTasks = slices.Delete(e.w.CurrentTasks, idx, idx+1)
	recompute(e.w)
	return true
}

// Transfer переносит слот задачи от одного исполнителя к другому.
//
// Блокирует обоих исполнителей в порядке ID. Проверяет, что задача есть
// у from и у to есть свободный слот; при ошибке ничего не меняется.
func (p *Pool) Transfer(taskID, fromID, toID string) error {
	if fromID == toID {
		return nil
	}

	from, err := p.get(fromID)
	if err != nil {
		return err
	}
	to, err := p.get(toID)
	if err != nil {
		return err
	}

	first, second := from, to
	if toID < fromID {
		first, second = to, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	idx := slices.Index(from.w.CurrentTasks, taskID)
	if idx < 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotReserved, fromID, taskID)
	}
	if to.w.Status.IsManual() {
		return fmt.Errorf("%w: %s is %s", ErrWorkerUnavailable, toID, to.w.Status)
	}
	if len(to.w.CurrentTasks) >= to.w.MaxConcurrentTasks {
		return fmt.Errorf("%w: %s", ErrWorkerFull, toID)
	}

	from.w.CurrentTasks = slices.Delete(from.w.CurrentTasks, idx, idx+1)
	to.w.CurrentTasks = append(to.w.CurrentTasks, taskID)
	recompute(from.w)
	recompute(to.w)
	return nil
}

// SetStatus выставляет ручной статус (offline, maintenance)
// или снимает его (available — статус снова вычисляется из загрузки).
func (p *Pool) SetStatus(workerID string, status domain.WorkerStatus) (*domain.Worker, error) {
	switch status {
	case domain.WorkerStatusOffline, domain.WorkerStatusMaintenance, domain.WorkerStatusAvailable:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	e, err := p.get(workerID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.w.Status = status
	recompute(e.w)
	return e.w.Clone(), nil
}

// SetCapacity меняет максимальное число одновременных задач.
// Если текущих задач больше нового лимита, исполнитель становится overloaded.
func (p *Pool) SetCapacity(workerID string, limit int) (*domain.Worker, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: max_concurrent_tasks must be positive", ErrInvalidWorker)
	}

	e, err := p.get(workerID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.w.MaxConcurrentTasks = limit
	recompute(e.w)
	return e.w.Clone(), nil
}

// Outcome — результат выполнения задачи исполнителем.
type Outcome struct {
	Success bool
	Hours   float64

	// Quality — оценка качества [0, 1]; 0 — нет оценки.
	Quality float64

	// Rework — задача потребовала доработки (не прошла gate с первого раза).
	Rework bool
}

// emaAlpha — вес нового наблюдения в экспоненциальном среднем.
const emaAlpha = 0.2

// RecordOutcome учитывает результат задачи в профиле исполнителя.
func (p *Pool) RecordOutcome(workerID string, o Outcome) error {
	e, err := p.get(workerID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	perf := &e.w.Performance
	if o.Success {
		perf.Completed++
		if o.Hours > 0 {
			perf.AvgTaskHours += (o.Hours - perf.AvgTaskHours) / float64(perf.Completed)
		}
	} else {
		perf.Failed++
	}
	perf.CompletionRate = float64(perf.Completed) / float64(perf.Completed+perf.Failed)

	if o.Quality > 0 {
		perf.QualityScore = ema(perf.QualityScore, clamp01(o.Quality))
	}
	if o.Success {
		rework := 0.0
		if o.Rework {
			rework = 1
		}
		perf.ReworkRate = ema(perf.ReworkRate, rework)
	}

	outcome := 0.0
	if o.Success {
		outcome = 1
	}
	perf.Reliability = clamp01(ema(perf.Reliability, outcome))
	return nil
}

func ema(prev, obs float64) float64 {
	return prev + emaAlpha*(obs-prev)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Capacity возвращает суммарную ёмкость и число занятых слотов
// исполнителей, которые не выведены из работы вручную.
func (p *Pool) Capacity() (assigned, capacity int) {
	for _, w := range p.List() {
		if w.Status.IsManual() {
			continue
		}
		assigned += len(w.CurrentTasks)
		capacity += w.MaxConcurrentTasks
	}
	return assigned, capacity
}
