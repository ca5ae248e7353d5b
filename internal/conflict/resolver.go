package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/events"
	"github.com/shaiso/Orchestra/internal/steps"
	"github.com/shaiso/Orchestra/internal/telemetry"
)

const defaultOperatorTimeout = time.Hour

// Mode — режим разрешения.
type Mode string

const (
	// ModeAuto — без участия человека; план с ручным шагом отклоняется.
	ModeAuto Mode = "auto"

	// ModeManual — ручные шаги ждут подтверждения оператора.
	ModeManual Mode = "manual"
)

// ResolveOptions — параметры разрешения.
type ResolveOptions struct {
	Mode Mode

	// Strategy — явный выбор стратегии (например, эскалация после неудачи).
	// Пустая — выбор по SelectStrategy.
	Strategy domain.Strategy
}

// ResolvedHook вызывается после успешного разрешения конфликта.
type ResolvedHook func(ctx context.Context, c *domain.Conflict)

// ResolverConfig — конфигурация Resolver.
type ResolverConfig struct {
	Store    *Store
	Patterns PatternStore
	Executor *steps.Executor
	Sink     events.Sink

	// OperatorTimeout — сколько ручной шаг ждёт оператора (default: 1h).
	OperatorTimeout time.Duration

	// OnResolved — хуки успешного разрешения (разблокировка задач,
	// очистка сигнала, архив).
	OnResolved []ResolvedHook

	Now    func() time.Time
	Logger *slog.Logger
}

// operatorDecision — ответ оператора на ручной шаг.
type operatorDecision struct {
	success bool
	note    string
}

// waiter — ручной шаг, ожидающий оператора.
type waiter struct {
	action domain.PendingAction
	ch     chan operatorDecision
}

// Resolver исполняет планы разрешения конфликтов.
type Resolver struct {
	store    *Store
	patterns PatternStore
	executor *steps.Executor
	sink     events.Sink

	operatorTimeout time.Duration

	hooksMu sync.RWMutex
	hooks   []ResolvedHook

	// Ручные шаги по ID конфликта. У конфликта одновременно ждёт не больше одного шага.
	waitMu  sync.Mutex
	waiting map[string]*waiter

	// Действия, требующие оператора в автоматическом режиме.
	blockedMu sync.Mutex
	blocked   map[string]domain.PendingAction

	now    func() time.Time
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Patterns == nil {
		cfg.Patterns = NewMemoryPatterns()
	}
	if cfg.Executor == nil {
		cfg.Executor = steps.NewExecutor(steps.ExecutorConfig{})
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.OperatorTimeout <= 0 {
		cfg.OperatorTimeout = defaultOperatorTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Resolver{
		store:           cfg.Store,
		patterns:        cfg.Patterns,
		executor:        cfg.Executor,
		sink:            cfg.Sink,
		operatorTimeout: cfg.OperatorTimeout,
		hooks:           cfg.OnResolved,
		waiting:         make(map[string]*waiter),
		blocked:         make(map[string]domain.PendingAction),
		now:             cfg.Now,
		logger:          cfg.Logger,
	}
}

// OnResolved добавляет хук успешного разрешения.
func (r *Resolver) OnResolved(h ResolvedHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Plan строит план без исполнения: стратегия, шаги, уверенность.
func (r *Resolver) Plan(ctx context.Context, conflictID string, strategy domain.Strategy) (*domain.Resolution, error) {
	c, err := r.store.Get(conflictID)
	if err != nil {
		return nil, err
	}
	return r.plan(ctx, c, strategy)
}

func (r *Resolver) plan(ctx context.Context, c *domain.Conflict, strategy domain.Strategy) (*domain.Resolution, error) {
	if strategy != "" {
		if !Applicable(c.Type, strategy) {
			return nil, fmt.Errorf("%w: %s for %s", ErrNoStrategy, strategy, c.Type)
		}
		alternatives := make([]domain.Strategy, 0)
		for _, s := range Candidates(c.Type) {
			if s != strategy {
				alternatives = append(alternatives, s)
			}
		}
		return BuildPlan(c, strategy, alternatives), nil
	}

	pattern, err := r.patterns.Pattern(ctx, c.Type)
	if err != nil {
		r.logger.Warn("load conflict pattern failed", "conflict_type", c.Type, "error", err)
		pattern = domain.ConflictPattern{Type: c.Type}
	}
	chosen, alternatives := SelectStrategy(c, pattern)
	return BuildPlan(c, chosen, alternatives), nil
}

// Resolve разрешает конфликт.
//
// Автоматические шаги выполняются через Executor. Ручные шаги в режиме
// ModeManual ждут CompleteStep не дольше OperatorTimeout. В режиме ModeAuto
// план с ручным шагом сразу отклоняется с ErrOperatorRequired, а действие
// попадает в список ожидающих оператора.
//
// При успехе конфликт переходит в набор разрешённых и вызываются хуки.
// При неудаче конфликт остаётся активным, неудача учитывается в паттернах.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, opts ResolveOptions) (*domain.Conflict, error) {
	if opts.Mode == "" {
		opts.Mode = ModeManual
	}

	c, err := r.store.Begin(conflictID)
	if err != nil {
		return nil, err
	}
	finished := false
	defer func() {
		if !finished {
			r.store.End(conflictID)
		}
	}()

	plan, err := r.plan(ctx, c, opts.Strategy)
	if err != nil {
		return nil, err
	}

	if opts.Mode == ModeAuto && plan.RequiresOperator() {
		r.requireOperator(c, plan)
		return nil, fmt.Errorf("%w: %s needs %s", ErrOperatorRequired, c.ID, plan.Strategy)
	}
	r.clearBlocked(c.ID)

	r.logger.Info("resolving conflict",
		"conflict_id", c.ID,
		"type", c.Type,
		"strategy", plan.Strategy,
		"confidence", plan.Confidence,
		"mode", opts.Mode,
	)

	runErr := r.execute(ctx, c, plan)
	now := r.now().UTC()
	plan.ImplementedAt = &now

	if runErr != nil {
		plan.Success = false
		plan.Error = runErr.Error()
		return nil, r.fail(ctx, c, plan, runErr)
	}

	plan.Success = true
	resolved, err := r.store.MarkResolved(c.ID, plan)
	if err != nil {
		return nil, err
	}
	finished = true

	if err := r.patterns.RecordOutcome(ctx, c.Type, plan.Strategy, true); err != nil {
		telemetry.WithConflictID(r.logger, c.ID).Warn("record outcome failed", "error", err)
	}

	r.hooksMu.RLock()
	hooks := append([]ResolvedHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, resolved)
	}

	telemetry.WithConflictID(r.logger, c.ID).Info("conflict resolved", "strategy", plan.Strategy)
	ev := domain.NewEvent(domain.EventConflictResolved)
	ev.ConflictID = c.ID
	ev.Message = resolved.Title
	ev.Data = map[string]any{"strategy": string(plan.Strategy), "type": string(c.Type)}
	r.sink.Emit(ev)

	return resolved, nil
}

// execute выполняет шаги плана по порядку. Первая ошибка прерывает план,
// оставшиеся шаги помечаются skipped.
func (r *Resolver) execute(ctx context.Context, c *domain.Conflict, plan *domain.Resolution) error {
	mismatches := steps.GetConfigStrings(c.Metadata, "mismatches")
	if mismatches == nil {
		mismatches = []string{}
	}
	vars := map[string]any{
		varConflict:  c,
		"strategy":   string(plan.Strategy),
		"mismatches": mismatches,
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]

		var err error
		if step.Automated {
			req := steps.NewRequest(step.ID, c.ID, step.Config, vars, 0)
			_, err = r.executor.Execute(ctx, step.Action, req)
		} else {
			step.State = domain.StepStateWaiting
			r.saveProgress(c.ID, plan)
			err = r.awaitOperator(ctx, c, plan.Strategy, step)
		}

		if err != nil {
			step.State = domain.StepStateFailed
			step.Error = err.Error()
			for j := i + 1; j < len(plan.Steps); j++ {
				plan.Steps[j].State = domain.StepStateSkipped
			}
			r.logger.Warn("resolution step failed",
				"conflict_id", c.ID,
				"step_id", step.ID,
				"action", step.Action,
				"error", err,
			)
			return fmt.Errorf("step %s (%s): %w", step.ID, step.Type, err)
		}

		step.State = domain.StepStateSucceeded
		telemetry.WithConflictID(r.logger, c.ID).Debug("resolution step succeeded", "step_id", step.ID, "action", step.Action)
	}
	return nil
}

// saveProgress сохраняет текущее состояние плана в конфликте.
func (r *Resolver) saveProgress(conflictID string, plan *domain.Resolution) {
	_, err := r.store.Update(conflictID, func(c *domain.Conflict) error {
		c.Resolution = plan.Clone()
		return nil
	})
	if err != nil {
		telemetry.WithConflictID(r.logger, conflictID).Debug("save resolution progress failed", "error", err)
	}
}

func (r *Resolver) fail(ctx context.Context, c *domain.Conflict, plan *domain.Resolution, cause error) error {
	if _, err := r.store.Update(c.ID, func(stored *domain.Conflict) error {
		stored.Resolution = plan.Clone()
		stored.Attempts++
		return nil
	}); err != nil {
		telemetry.WithConflictID(r.logger, c.ID).Warn("store failed resolution", "error", err)
	}

	if err := r.patterns.RecordOutcome(ctx, c.Type, plan.Strategy, false); err != nil {
		telemetry.WithConflictID(r.logger, c.ID).Warn("record outcome failed", "error", err)
	}

	telemetry.WithConflictID(r.logger, c.ID).Warn("conflict resolution failed", "strategy", plan.Strategy, "error", cause)
	ev := domain.NewEvent(domain.EventConflictResolutionFail)
	ev.ConflictID = c.ID
	ev.Message = cause.Error()
	ev.Data = map[string]any{"strategy": string(plan.Strategy), "type": string(c.Type)}
	r.sink.Emit(ev)

	return fmt.Errorf("%w: %s: %w", ErrResolutionFailed, c.ID, cause)
}

// awaitOperator ждёт решения оператора по ручному шагу.
func (r *Resolver) awaitOperator(ctx context.Context, c *domain.Conflict, s domain.Strategy, step *domain.ResolutionStep) error {
	w := &waiter{
		action: domain.PendingAction{
			ConflictID:   c.ID,
			ConflictType: c.Type,
			Strategy:     s,
			StepID:       step.ID,
			Description:  step.Description,
			Since:        r.now().UTC(),
		},
		ch: make(chan operatorDecision, 1),
	}

	r.waitMu.Lock()
	r.waiting[c.ID] = w
	r.waitMu.Unlock()
	defer func() {
		r.waitMu.Lock()
		if r.waiting[c.ID] == w {
			delete(r.waiting, c.ID)
		}
		r.waitMu.Unlock()
	}()

	r.emitActionRequired(w.action)

	timer := time.NewTimer(r.operatorTimeout)
	defer timer.Stop()

	select {
	case d := <-w.ch:
		if !d.success {
			return fmt.Errorf("%w: %s", ErrStepRejected, d.note)
		}
		telemetry.WithConflictID(r.logger, c.ID).Info("operator step confirmed", "step_id", step.ID, "note", d.note)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: step %s after %s", ErrOperatorTimeout, step.ID, r.operatorTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Resolver) emitActionRequired(a domain.PendingAction) {
	r.logger.Info("operator action required",
		"conflict_id", a.ConflictID,
		"strategy", a.Strategy,
		"step_id", a.StepID,
	)
	ev := domain.NewEvent(domain.EventConflictActionRequired)
	ev.ConflictID = a.ConflictID
	ev.Message = a.Description
	ev.Data = map[string]any{
		"strategy": string(a.Strategy),
		"step_id":  a.StepID,
	}
	r.sink.Emit(ev)
}

// requireOperator запоминает, что автоматическое разрешение упёрлось в ручной шаг.
func (r *Resolver) requireOperator(c *domain.Conflict, plan *domain.Resolution) {
	var step domain.ResolutionStep
	for _, s := range plan.Steps {
		if !s.Automated {
			step = s
			break
		}
	}
	a := domain.PendingAction{
		ConflictID:   c.ID,
		ConflictType: c.Type,
		Strategy:     plan.Strategy,
		StepID:       step.ID,
		Description:  step.Description,
		Since:        r.now().UTC(),
	}

	r.blockedMu.Lock()
	_, seen := r.blocked[c.ID]
	if !seen {
		r.blocked[c.ID] = a
	}
	r.blockedMu.Unlock()

	r.saveProgress(c.ID, plan)
	if !seen {
		r.emitActionRequired(a)
	}
}

func (r *Resolver) clearBlocked(conflictID string) {
	r.blockedMu.Lock()
	delete(r.blocked, conflictID)
	r.blockedMu.Unlock()
}

// CompleteStep передаёт решение оператора по ожидающему шагу.
func (r *Resolver) CompleteStep(conflictID, stepID string, success bool, note string) error {
	r.waitMu.Lock()
	w, ok := r.waiting[conflictID]
	if ok && stepID != "" && w.action.StepID != stepID {
		ok = false
	}
	if ok {
		delete(r.waiting, conflictID)
	}
	r.waitMu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoPendingStep, conflictID, stepID)
	}
	w.ch <- operatorDecision{success: success, note: note}
	return nil
}

// PendingActions возвращает шаги, ожидающие оператора, и конфликты,
// которые не удалось разрешить автоматически, по времени появления.
func (r *Resolver) PendingActions() []domain.PendingAction {
	out := make([]domain.PendingAction, 0)

	r.waitMu.Lock()
	for _, w := range r.waiting {
		out = append(out, w.action)
	}
	r.waitMu.Unlock()

	r.blockedMu.Lock()
	for id, a := range r.blocked {
		if c, err := r.store.Get(id); err != nil || c.IsResolved() {
			delete(r.blocked, id)
			continue
		}
		out = append(out, a)
	}
	r.blockedMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].ConflictID < out[j].ConflictID
	})
	return out
}

// ResolveAuto пытается автоматически разрешить конфликты. Конфликты,
// которым нужен оператор, пропускаются без ошибки.
func (r *Resolver) ResolveAuto(ctx context.Context, conflicts []*domain.Conflict) (resolved []*domain.Conflict, err error) {
	var errs []error
	for _, c := range conflicts {
		if !c.AutoResolvable {
			continue
		}
		res, rerr := r.Resolve(ctx, c.ID, ResolveOptions{Mode: ModeAuto})
		switch {
		case rerr == nil:
			resolved = append(resolved, res)
		case errors.Is(rerr, ErrOperatorRequired), errors.Is(rerr, ErrResolutionInProgress), errors.Is(rerr, ErrAlreadyResolved):
		default:
			errs = append(errs, rerr)
		}
	}
	return resolved, errors.Join(errs...)
}
