package steps

import (
	"context"
	"fmt"
	"time"
)

const (
	// ActionCooldown — пауза между шагами плана (например, перед повторной проверкой).
	ActionCooldown = "cooldown"

	configDuration   = "duration"
	configDurationMs = "duration_ms"
)

// CooldownStep — пауза.
//
// Конфигурация:
//
//	{"duration": "30s"}   // или
//	{"duration_ms": 500}
type CooldownStep struct{}

// NewCooldownStep создаёт CooldownStep.
func NewCooldownStep() *CooldownStep {
	return &CooldownStep{}
}

// Type возвращает имя действия.
func (s *CooldownStep) Type() string {
	return ActionCooldown
}

// Execute ждёт указанное время или отмену контекста.
func (s *CooldownStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	d, err := parseCooldown(req.Config)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	case <-timer.C:
		return NewResponse(map[string]any{"duration_ms": d.Milliseconds()}), nil
	}
}

func parseCooldown(config map[string]any) (time.Duration, error) {
	if s := GetConfigString(config, configDuration); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("%w: %s: bad duration %q", ErrInvalidConfig, ActionCooldown, s)
		}
		return d, nil
	}

	if ms := GetConfigInt(config, configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return 0, fmt.Errorf("%w: %s: duration or duration_ms required", ErrInvalidConfig, ActionCooldown)
}
