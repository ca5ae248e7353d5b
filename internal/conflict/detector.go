package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/worker"
)

// Значения по умолчанию.
const (
	defaultContentionThreshold = 90.0
	defaultOverrunFactor       = 1.5
	defaultRegressionTolerance = 0.1
	defaultCheckTimeout        = 5 * time.Second
	defaultConcurrency         = 4
)

// DetectorConfig — конфигурация Detector.
type DetectorConfig struct {
	Graph    *engine.Graph
	Pool     *worker.Pool
	Signals  *SignalStore
	Store    *Store
	Patterns PatternStore
	Sink     events.Sink

	// Gates — определения quality gates для оценки gate-сигналов.
	Gates []domain.QualityGate

	// PerformanceThresholds — фиксированные пороги метрик.
	// Метрика без порога не проверяется.
	PerformanceThresholds map[string]float64

	// ContentionThreshold — загрузка исполнителя, с которой фиксируется конфликт (default: 90).
	ContentionThreshold float64

	// OverrunFactor — во сколько раз фактическое время должно превысить оценку (default: 1.5).
	OverrunFactor float64

	// RegressionTolerance — допустимый рост относительно базовой линии (default: 0.1).
	RegressionTolerance float64

	// CheckTimeout — таймаут одной проверки (default: 5s).
	CheckTimeout time.Duration

	// Concurrency — сколько проверок выполняется одновременно (default: 4).
	Concurrency int

	Now    func() time.Time
	Logger *slog.Logger
}

// check — независимая проверка детектора.
type check struct {
	name string
	fn   func(ctx context.Context) []*domain.Conflict
}

// Detector ищет конфликты в графе, пуле и внешних сигналах.
type Detector struct {
	graph    *engine.Graph
	pool     *worker.Pool
	signals  *SignalStore
	store    *Store
	patterns PatternStore
	sink     events.Sink

	gates      map[string]domain.QualityGate
	thresholds map[string]float64

	contention  float64
	overrun     float64
	tolerance   float64
	timeout     time.Duration
	concurrency int

	checks []check

	now    func() time.Time
	logger *slog.Logger
}

// NewDetector создаёт Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Signals == nil {
		cfg.Signals = NewSignalStore()
	}
	if cfg.Store == nil {
		cfg.Store = NewStore(StoreConfig{})
	}
	if cfg.Patterns == nil {
		cfg.Patterns = NewMemoryPatterns()
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.ContentionThreshold <= 0 {
		cfg.ContentionThreshold = defaultContentionThreshold
	}
	if cfg.OverrunFactor <= 0 {
		cfg.OverrunFactor = defaultOverrunFactor
	}
	if cfg.RegressionTolerance <= 0 {
		cfg.RegressionTolerance = defaultRegressionTolerance
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	gates := make(map[string]domain.QualityGate, len(cfg.Gates))
	for _, g := range cfg.Gates {
		gates[g.Name] = g
	}

	d := &Detector{
		graph:       cfg.Graph,
		pool:        cfg.Pool,
		signals:     cfg.Signals,
		store:       cfg.Store,
		patterns:    cfg.Patterns,
		sink:        cfg.Sink,
		gates:       gates,
		thresholds:  cfg.PerformanceThresholds,
		contention:  cfg.ContentionThreshold,
		overrun:     cfg.OverrunFactor,
		tolerance:   cfg.RegressionTolerance,
		timeout:     cfg.CheckTimeout,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}

	d.checks = []check{
		{name: "merge", fn: d.detectMerge},
		{name: "dependency_cycle", fn: d.detectCycles},
		{name: "resource_contention", fn: d.detectContention},
		{name: "interface", fn: d.detectInterface},
		{name: "environment", fn: d.detectEnvironment},
		{name: "timeline", fn: d.detectTimeline},
		{name: "quality_gate", fn: d.detectGates},
		{name: "performance", fn: d.detectPerformance},
		{name: "security", fn: d.detectSecurity},
	}
	return d
}

// Signals возвращает хранилище сигналов.
func (d *Detector) Signals() *SignalStore { return d.signals }

// Store возвращает хранилище конфликтов.
func (d *Detector) Store() *Store { return d.store }

// DetectResult — итог прохода детектора.
type DetectResult struct {
	// New — впервые обнаруженные конфликты.
	New []*domain.Conflict

	// Duplicates — найденные повторно активные конфликты.
	Duplicates int
}

// Detect запускает все проверки параллельно.
//
// Каждая проверка ограничена собственным таймаутом; проверка, не
// уложившаяся в него, даёт ErrDetectorTimeout, остальные результаты
// всё равно учитываются. Возвращаемая ошибка объединяет ошибки проверок.
func (d *Detector) Detect(ctx context.Context) (DetectResult, error) {
	var (
		mu    sync.Mutex
		found = make([][]*domain.Conflict, len(d.checks))
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, c := range d.checks {
		g.Go(func() error {
			out, err := d.run(gctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			found[i] = out
			return nil
		})
	}
	_ = g.Wait()

	res := DetectResult{New: make([]*domain.Conflict, 0)}
	for _, batch := range found {
		for _, c := range batch {
			stored, isNew := d.store.Upsert(c)
			if stored == nil {
				continue
			}
			if !isNew {
				res.Duplicates++
				continue
			}
			res.New = append(res.New, stored)
			d.onDetected(ctx, stored)
		}
	}

	if len(res.New) > 0 {
		d.logger.Info("conflicts detected", "new", len(res.New), "duplicates", res.Duplicates)
	}
	return res, errors.Join(errs...)
}

// run выполняет проверку с таймаутом и перехватом паники.
func (d *Detector) run(ctx context.Context, c check) ([]*domain.Conflict, error) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		out []*domain.Conflict
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("check %s panicked: %v", c.name, r)}
			}
		}()
		done <- result{out: c.fn(cctx)}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-cctx.Done():
		return nil, fmt.Errorf("%w: %s after %s", ErrDetectorTimeout, c.name, d.timeout)
	}
}

func (d *Detector) onDetected(ctx context.Context, c *domain.Conflict) {
	if err := d.patterns.RecordDetection(ctx, c.Type); err != nil {
		d.logger.Warn("record detection failed", "conflict_type", c.Type, "error", err)
	}

	d.logger.Info("conflict detected",
		"conflict_id", c.ID,
		"type", c.Type,
		"severity", c.Severity,
		"tasks", c.AffectedTasks,
		"auto_resolvable", c.AutoResolvable,
	)

	ev := domain.NewEvent(domain.EventConflictDetected)
	ev.ConflictID = c.ID
	ev.Message = c.Title
	ev.Data = map[string]any{
		"type":            string(c.Type),
		"severity":        string(c.Severity),
		"affected_tasks":  c.AffectedTasks,
		"auto_resolvable": c.AutoResolvable,
	}
	d.sink.Emit(ev)
}

// newConflict создаёт конфликт с оценкой последствий.
// Заблокированными считаются затронутые задачи и все, кто от них зависит.
func (d *Detector) newConflict(t domain.ConflictType, title string, tasks, workers []string, extra ...string) *domain.Conflict {
	tasks = uniqueSorted(tasks)
	if len(workers) == 0 {
		workers = d.ownersOf(tasks)
	}
	workers = uniqueSorted(workers)

	blocked := 0
	for _, id := range tasks {
		if d.graph.Has(id) {
			blocked++
		}
	}
	if blocked > 0 {
		blocked += len(d.graph.DependentsClosure(tasks...))
	}

	impact := EstimateImpact(t, blocked, len(workers))

	return &domain.Conflict{
		ID:              uuid.New().String(),
		Type:            t,
		Severity:        domain.SeverityFromScore(impact.SeverityScore),
		Title:           title,
		AffectedTasks:   tasks,
		AffectedWorkers: workers,
		DetectedAt:      d.now().UTC(),
		Impact:          impact,
		Fingerprint:     domain.Fingerprint(t, tasks, workers, extra...),
		Metadata:        make(map[string]any),
	}
}

func (d *Detector) ownersOf(tasks []string) []string {
	owners := make([]string, 0)
	for _, id := range tasks {
		t, err := d.graph.Get(id)
		if err != nil || t.Owner == "" {
			continue
		}
		owners = append(owners, t.Owner)
	}
	return owners
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func withSignal(c *domain.Conflict, kind domain.SignalKind, key string) {
	c.Metadata[MetaSignalKind] = string(kind)
	c.Metadata[MetaSignalKey] = key
}

// --- Проверки ---

func (d *Detector) detectMerge(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, sig := range d.signals.Merges() {
		if ctx.Err() != nil {
			return out
		}
		c := d.newConflict(domain.ConflictMerge,
			fmt.Sprintf("merge conflict %s → %s", sig.Branch, sig.Target),
			sig.TaskIDs, nil, sig.Key())
		c.AutoResolvable = sig.AutoMergeable
		c.Metadata["branch"] = sig.Branch
		c.Metadata["target"] = sig.Target
		c.Metadata["files"] = slices.Clone(sig.Files)
		withSignal(c, domain.SignalMerge, sig.Key())
		out = append(out, c)
	}
	return out
}

// detectCycles превращает каждый цикл графа в конфликт серьёзности high,
// не разрешаемый автоматически.
func (d *Detector) detectCycles(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, cycle := range d.graph.FindCycles() {
		if ctx.Err() != nil {
			return out
		}
		path := append(slices.Clone(cycle), cycle[0])
		c := d.newConflict(domain.ConflictDependencyCycle,
			"dependency cycle "+strings.Join(path, " → "),
			cycle, nil)
		c.Severity = domain.SeverityHigh
		c.AutoResolvable = false
		c.Metadata["cycle"] = slices.Clone(cycle)
		out = append(out, c)
	}
	return out
}

func (d *Detector) detectContention(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, w := range d.pool.List() {
		if ctx.Err() != nil {
			return out
		}
		if w.Status.IsManual() || len(w.CurrentTasks) == 0 || w.Workload < d.contention {
			continue
		}
		// Разгрузить можно только назначенные задачи вне критического пути
		movable := d.movableTasks(w)
		if len(movable) == 0 {
			continue
		}
		c := d.newConflict(domain.ConflictResourceContention,
			fmt.Sprintf("worker %s at %.0f%% workload", w.ID, w.Workload),
			movable, []string{w.ID})
		// Набор задач исполнителя меняется, отпечаток — только по исполнителю
		c.Fingerprint = domain.Fingerprint(domain.ConflictResourceContention, nil, []string{w.ID})
		c.AutoResolvable = true
		c.Metadata["workload"] = w.Workload
		out = append(out, c)
	}
	return out
}

func (d *Detector) movableTasks(w *domain.Worker) []string {
	ids := make([]string, 0, len(w.CurrentTasks))
	for _, id := range w.CurrentTasks {
		t, err := d.graph.Get(id)
		if err != nil || t.Status != domain.TaskStatusAssigned || t.CriticalPath {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (d *Detector) detectInterface(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, sig := range d.signals.Interfaces() {
		if ctx.Err() != nil {
			return out
		}
		tasks := append([]string{sig.ProducerTask}, sig.ConsumerTasks...)
		if sig.ProducerTask == "" {
			tasks = slices.Clone(sig.ConsumerTasks)
		}
		c := d.newConflict(domain.ConflictBreakingInterface,
			"breaking change in contract "+sig.Contract,
			tasks, nil, sig.Contract)
		c.Metadata["contract"] = sig.Contract
		c.Metadata["changes"] = slices.Clone(sig.Changes)
		withSignal(c, domain.SignalInterface, sig.Contract)
		out = append(out, c)
	}
	return out
}

// detectEnvironment сравнивает ожидаемое окружение с фактическим.
// Совпавшие окружения удаляются из хранилища.
func (d *Detector) detectEnvironment(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, sig := range d.signals.Environments() {
		if ctx.Err() != nil {
			return out
		}
		mismatches := sig.Mismatches()
		if len(mismatches) == 0 {
			d.signals.Clear(domain.SignalEnvironment, sig.Environment)
			continue
		}
		c := d.newConflict(domain.ConflictEnvironmentMismatch,
			fmt.Sprintf("environment %s differs: %s", sig.Environment, strings.Join(mismatches, ", ")),
			sig.TaskIDs, nil, sig.Environment)
		c.AutoResolvable = true
		c.Metadata["environment"] = sig.Environment
		c.Metadata["mismatches"] = mismatches
		withSignal(c, domain.SignalEnvironment, sig.Environment)
		out = append(out, c)
	}
	return out
}

// detectTimeline ищет выполняющиеся задачи, превысившие оценку в
// OverrunFactor раз, от которых ждут ожидающие задачи.
func (d *Detector) detectTimeline(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	now := d.now()
	for _, t := range d.graph.List() {
		if ctx.Err() != nil {
			return out
		}
		if t.Status != domain.TaskStatusInProgress || t.StartedAt == nil || t.EstimatedHours <= 0 {
			continue
		}
		elapsed := now.Sub(*t.StartedAt).Hours()
		if elapsed <= t.EstimatedHours*d.overrun {
			continue
		}

		waiting := make([]string, 0)
		for _, dep := range d.graph.Dependents(t.ID) {
			if st, ok := d.graph.Status(dep); ok && st == domain.TaskStatusPending {
				waiting = append(waiting, dep)
			}
		}
		if len(waiting) == 0 {
			continue
		}

		c := d.newConflict(domain.ConflictTimelineCollision,
			fmt.Sprintf("task %s overran its estimate (%.1fh of %.1fh)", t.ID, elapsed, t.EstimatedHours),
			append([]string{t.ID}, waiting...), nil)
		c.Fingerprint = domain.Fingerprint(domain.ConflictTimelineCollision, []string{t.ID}, nil)
		c.AutoResolvable = true
		c.Metadata["task_id"] = t.ID
		c.Metadata["elapsed_hours"] = elapsed
		c.Metadata["estimated_hours"] = t.EstimatedHours
		out = append(out, c)
	}
	return out
}

// detectGates оценивает gate-сигналы. Пройденные удаляются из хранилища.
func (d *Detector) detectGates(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, sig := range d.signals.Gates() {
		if ctx.Err() != nil {
			return out
		}
		gate, ok := d.gates[sig.Gate]
		if !ok {
			d.logger.Debug("unknown quality gate in signal", "gate", sig.Gate, "task_id", sig.TaskID)
			continue
		}

		res := gate.Evaluate(sig.Metrics)
		if res.Passed {
			d.signals.Clear(domain.SignalGate, gateKey(sig.TaskID, sig.Gate))
			continue
		}

		c := d.newConflict(domain.ConflictQualityGateFailure,
			fmt.Sprintf("quality gate %s failed for %s (%s)", gate.Name, sig.TaskID, strings.Join(res.FailedCriteria, ", ")),
			[]string{sig.TaskID}, nil, gate.Name)
		c.AutoResolvable = true
		c.Metadata["gate"] = gate.Name
		c.Metadata["score"] = res.Score
		c.Metadata["failed_criteria"] = res.FailedCriteria
		withSignal(c, domain.SignalGate, gateKey(sig.TaskID, sig.Gate))
		out = append(out, c)
	}
	return out
}

// detectPerformance фиксирует регрессию, если замер выше фиксированного
// порога и выше базовой линии более чем на RegressionTolerance.
// Замеры без регрессии снимаются, история остаётся.
func (d *Detector) detectPerformance(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, r := range d.signals.Performance() {
		if ctx.Err() != nil {
			return out
		}
		metric := r.Sample.Metric
		threshold, ok := d.thresholds[metric]
		if !ok {
			continue
		}

		v := r.Sample.Value
		if v <= threshold || !r.HasBaseline || v <= r.Baseline*(1+d.tolerance) {
			d.signals.Clear(domain.SignalPerformance, metric)
			continue
		}

		c := d.newConflict(domain.ConflictPerformanceRegress,
			fmt.Sprintf("%s regressed to %.2f (baseline %.2f, threshold %.2f)", metric, v, r.Baseline, threshold),
			r.Sample.TaskIDs, nil, metric)
		c.Metadata["metric"] = metric
		c.Metadata["value"] = v
		c.Metadata["baseline"] = r.Baseline
		c.Metadata["threshold"] = threshold
		withSignal(c, domain.SignalPerformance, metric)
		out = append(out, c)
	}
	return out
}

// detectSecurity превращает находки сканера в конфликты.
// Серьёзность находки, если задана, переходит в конфликт.
func (d *Detector) detectSecurity(ctx context.Context) []*domain.Conflict {
	out := make([]*domain.Conflict, 0)
	for _, f := range d.signals.Findings() {
		if ctx.Err() != nil {
			return out
		}
		c := d.newConflict(domain.ConflictSecurityIssue, "security: "+f.Title, f.TaskIDs, nil, f.ID)
		if f.Severity.Rank() > 0 {
			c.Severity = f.Severity
		}
		c.Metadata["finding_id"] = f.ID
		if f.Package != "" {
			c.Metadata["package"] = f.Package
		}
		withSignal(c, domain.SignalSecurity, f.ID)
		out = append(out, c)
	}
	return out
}
