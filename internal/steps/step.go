package steps

import (
	"context"
	"errors"
	"time"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — действие не найдено в реестре.
	ErrStepNotFound = errors.New("step action not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrCheckFailed — проверка шага (validate/verify) не прошла.
	// Такие ошибки не повторяются.
	ErrCheckFailed = errors.New("step check failed")
)

// Step — действие, которое выполняет автоматический шаг плана разрешения.
type Step interface {
	// Type возвращает имя действия в реестре.
	Type() string

	// Execute выполняет действие.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Func — Step из функции. Используется для действий, которым нужны
// зависимости оркестратора (граф, пул, хранилище сигналов).
type Func struct {
	Name string
	Fn   func(ctx context.Context, req *Request) (*Response, error)
}

// Type возвращает имя действия.
func (f Func) Type() string { return f.Name }

// Execute вызывает функцию.
func (f Func) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f.Fn(ctx, req)
}

// Request — входные данные шага.
type Request struct {
	// StepID — идентификатор шага внутри плана.
	StepID string

	// ConflictID — конфликт, который разрешается.
	ConflictID string

	// Config — параметры действия.
	Config map[string]any

	// Vars — данные для шаблонов сообщений (конфликт, стратегия).
	Vars map[string]any

	// Timeout — таймаут выполнения. Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	Outputs map[string]any
}

// NewRequest создаёт новый Request.
func NewRequest(stepID, conflictID string, config, vars map[string]any, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Request{
		StepID:     stepID,
		ConflictID: conflictID,
		Config:     config,
		Vars:       vars,
		Timeout:    timeout,
	}
}

// NewResponse создаёт Response с outputs.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Response{Outputs: outputs}
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	switch n := config[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetConfigStrings извлекает список строк ([]string или []any).
func GetConfigStrings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	switch m := config[key].(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return nil
}
