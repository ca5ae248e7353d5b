package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/engine"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Task DTOs

// TaskResponse — задача с состоянием в графе.
type TaskResponse struct {
	*domain.Task
	Ready      bool     `json:"ready"`
	Dependents []string `json:"dependents"`
}

// TaskFromDomain дополняет задачу готовностью и зависимыми задачами.
func TaskFromDomain(g *engine.Graph, t *domain.Task) TaskResponse {
	deps := g.Dependents(t.ID)
	if deps == nil {
		deps = make([]string, 0)
	}
	return TaskResponse{
		Task:       t,
		Ready:      t.Status == domain.TaskStatusPending && g.IsReady(t.ID),
		Dependents: deps,
	}
}

// CreateTasksResponse — ID добавленных задач.
type CreateTasksResponse struct {
	IDs []string `json:"ids"`
}

// AssignRequest — назначение задачи. Пустой WorkerID — лучший исполнитель.
type AssignRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
}

// ReassignRequest — перенос задачи к другому исполнителю.
type ReassignRequest struct {
	WorkerID string `json:"worker_id"`
}

// ProgressRequest — отчёт о прогрессе.
type ProgressRequest struct {
	Progress int    `json:"progress"`
	Note     string `json:"note,omitempty"`
}

// MetricsRequest — метрики для quality gate.
type MetricsRequest struct {
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// ReviewResponse — итог ревью.
type ReviewResponse struct {
	Task   TaskResponse      `json:"task"`
	Result domain.GateResult `json:"result"`
}

// FailRequest — причина провала.
type FailRequest struct {
	Reason string `json:"reason"`
}

// BlockRequest — блокировка или разблокировка конфликтом.
type BlockRequest struct {
	ConflictID string `json:"conflict_id"`
}

// CheckpointRequest — заметка исполнителя.
type CheckpointRequest struct {
	Note string `json:"note"`
}

// PriorityRequest — новый приоритет.
type PriorityRequest struct {
	Priority domain.Priority `json:"priority"`
}

// DependencyRequest — новая зависимость задачи.
type DependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

// BatchRequest — параллельный запуск набора задач.
type BatchRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// Worker DTOs

// WorkerStatusRequest — ручной статус исполнителя.
type WorkerStatusRequest struct {
	Status domain.WorkerStatus `json:"status"`
}

// CapacityRequest — новый лимит задач исполнителя.
type CapacityRequest struct {
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`
}

// Conflict DTOs

// ResolveRequest — запуск разрешения конфликта.
type ResolveRequest struct {
	Mode     conflict.Mode   `json:"mode,omitempty"`
	Strategy domain.Strategy `json:"strategy,omitempty"`
}

// CompleteStepRequest — решение оператора по ручному шагу.
type CompleteStepRequest struct {
	Success bool   `json:"success"`
	Note    string `json:"note,omitempty"`
}

// DetectResponse — итог обнаружения по запросу.
type DetectResponse struct {
	New      []*domain.Conflict `json:"new"`
	Blocked  []string           `json:"blocked"`
	Resolved []*domain.Conflict `json:"resolved"`
	Error    string             `json:"error,omitempty"`
}

// decodeTaskSpecs принимает одну спецификацию или массив.
func decodeTaskSpecs(r io.Reader) ([]domain.TaskSpec, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var specs []domain.TaskSpec
		if err := json.Unmarshal(trimmed, &specs); err != nil {
			return nil, err
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("empty task list")
		}
		return specs, nil
	}
	var spec domain.TaskSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, err
	}
	return []domain.TaskSpec{spec}, nil
}

// queryLimit разбирает limit из query с ограничением сверху.
func queryLimit(value string) (int, error) {
	if value == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", value)
	}
	return min(n, maxListLimit), nil
}
