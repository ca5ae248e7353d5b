package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy — политика повторов автоматического шага.
type RetryPolicy struct {
	// MaxAttempts — общее число попыток (default: 1, без повторов).
	MaxAttempts int

	// InitialDelay — задержка перед второй попыткой (default: 1s).
	InitialDelay time.Duration

	// MaxDelay — верхняя граница задержки (default: 30s).
	MaxDelay time.Duration
}

// Backoff вычисляет задержку перед попыткой attempt+1:
// InitialDelay * 2^(attempt-1), но не больше MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// ExecutorConfig — конфигурация Executor.
type ExecutorConfig struct {
	Registry *Registry
	Retry    RetryPolicy

	// StepTimeout — таймаут одной попытки (default: 30s).
	StepTimeout time.Duration

	Logger *slog.Logger
}

// Executor выполняет действия из реестра с таймаутом и повторами.
type Executor struct {
	registry *Registry
	retry    RetryPolicy
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor создаёт Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		registry: cfg.Registry,
		retry:    cfg.Retry,
		timeout:  cfg.StepTimeout,
		logger:   cfg.Logger,
	}
}

// Registry возвращает реестр действий.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute выполняет действие.
//
// Конфигурация рендерится с req.Vars. Каждая попытка ограничена таймаутом;
// ошибки конфигурации и проверок не повторяются.
func (e *Executor) Execute(ctx context.Context, action string, req *Request) (*Response, error) {
	step, err := e.registry.Get(action)
	if err != nil {
		return nil, err
	}

	cfg, err := RenderConfig(req.Config, req.Vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	attemptReq := *req
	attemptReq.Config = cfg

	timeout := e.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		resp, err := e.attempt(ctx, step, &attemptReq, timeout)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) || attempt == e.retry.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := e.retry.Backoff(attempt)
		e.logger.Debug("retrying step",
			"action", action,
			"step_id", req.StepID,
			"conflict_id", req.ConflictID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
	}

	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, step Step, req *Request, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := step.Execute(attemptCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s after %s", ErrStepTimeout, step.Type(), timeout)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = NewResponse(nil)
	}
	return resp, nil
}

func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidConfig) &&
		!errors.Is(err, ErrCheckFailed) &&
		!errors.Is(err, ErrStepNotFound) &&
		!errors.Is(err, ErrStepCancelled)
}
