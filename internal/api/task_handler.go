package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shaiso/Orchestra/internal/domain"
)

// ListTasks возвращает задачи с фильтрацией.
// GET /api/v1/tasks?status=...&phase=...&worker_id=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := domain.TaskStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		BadRequest(w, "invalid status")
		return
	}
	phase := domain.Phase(q.Get("phase"))
	if phase != "" && !phase.Valid() {
		BadRequest(w, "invalid phase")
		return
	}
	owner := q.Get("worker_id")

	g := h.orch.Graph()
	result := make([]TaskResponse, 0)
	for _, t := range g.List() {
		if status != "" && t.Status != status {
			continue
		}
		if phase != "" && t.Phase != phase {
			continue
		}
		if owner != "" && t.Owner != owner {
			continue
		}
		result = append(result, TaskFromDomain(g, t))
	}

	List(w, result, len(result))
}

// CreateTasks добавляет одну задачу или набор атомарно.
// POST /api/v1/tasks
func (h *Handler) CreateTasks(w http.ResponseWriter, r *http.Request) {
	specs, err := decodeTaskSpecs(r.Body)
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	ids, err := h.orch.AddTasks(specs)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}

	h.logger.Info("tasks created", "count", len(ids))
	Created(w, CreateTasksResponse{IDs: ids})
}

// GetTask возвращает задачу по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Graph().Get(r.PathValue("id"))
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, TaskFromDomain(h.orch.Graph(), t))
}

// DeleteTask удаляет задачу без зависимых и без исполнителя.
// DELETE /api/v1/tasks/{id}
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if HandleError(w, h.reqLogger(r), h.orch.Graph().RemoveTask(r.PathValue("id"))) {
		return
	}
	NoContent(w)
}

// AddDependency добавляет зависимость. Цикл не отклоняется, а
// обнаруживается детектором как конфликт.
// POST /api/v1/tasks/{id}/dependencies
func (h *Handler) AddDependency(w http.ResponseWriter, r *http.Request) {
	var req DependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DependsOn == "" {
		BadRequest(w, "depends_on is required")
		return
	}
	id := r.PathValue("id")
	if HandleError(w, h.reqLogger(r), h.orch.Graph().AddDependency(id, req.DependsOn)) {
		return
	}
	h.respondTask(w, r, id)
}

// RemoveDependency удаляет зависимость.
// DELETE /api/v1/tasks/{id}/dependencies/{dep}
func (h *Handler) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if HandleError(w, h.reqLogger(r), h.orch.Graph().RemoveDependency(id, r.PathValue("dep"))) {
		return
	}
	h.respondTask(w, r, id)
}

// AssignTask назначает задачу исполнителю или лучшему подходящему.
// POST /api/v1/tasks/{id}/assign
func (h *Handler) AssignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	var (
		t   *domain.Task
		err error
	)
	if req.WorkerID != "" {
		t, err = h.orch.Scheduler().Assign(id, req.WorkerID)
	} else {
		t, err = h.orch.Scheduler().AssignBest(id)
	}
	h.respondTransition(w, r, t, err)
}

// ReassignTask переносит назначенную задачу к другому исполнителю.
// POST /api/v1/tasks/{id}/reassign
func (h *Handler) ReassignTask(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		BadRequest(w, "worker_id is required")
		return
	}

	id := r.PathValue("id")
	t, err := h.orch.Graph().Get(id)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	if HandleError(w, h.reqLogger(r), h.orch.Scheduler().Reassign(id, t.Owner, req.WorkerID)) {
		return
	}
	h.respondTask(w, r, id)
}

// StartTask переводит назначенную задачу в работу.
// POST /api/v1/tasks/{id}/start
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Supervisor().Start(r.PathValue("id"))
	h.respondTransition(w, r, t, err)
}

// ReportProgress обновляет прогресс задачи.
// POST /api/v1/tasks/{id}/progress
func (h *Handler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	t, err := h.orch.ReportProgress(r.PathValue("id"), req.Progress, req.Note)
	h.respondTransition(w, r, t, err)
}

// CompleteTask завершает задачу; для фаз с quality gate проводит ревью.
// POST /api/v1/tasks/{id}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req MetricsRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	t, err := h.orch.ReportCompleted(r.PathValue("id"), req.Metrics)
	h.respondTransition(w, r, t, err)
}

// ReviewTask оценивает задачу в under_review по quality gate.
// POST /api/v1/tasks/{id}/review
func (h *Handler) ReviewTask(w http.ResponseWriter, r *http.Request) {
	var req MetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	t, result, err := h.orch.Supervisor().Review(r.PathValue("id"), req.Metrics)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, ReviewResponse{Task: TaskFromDomain(h.orch.Graph(), t), Result: result})
}

// FailTask переводит задачу в failed.
// POST /api/v1/tasks/{id}/fail
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	t, err := h.orch.Supervisor().Fail(r.PathValue("id"), req.Reason)
	h.respondTransition(w, r, t, err)
}

// BlockTask блокирует задачу конфликтом.
// POST /api/v1/tasks/{id}/block
func (h *Handler) BlockTask(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConflictID == "" {
		BadRequest(w, "conflict_id is required")
		return
	}
	t, err := h.orch.Supervisor().Block(r.PathValue("id"), req.ConflictID)
	h.respondTransition(w, r, t, err)
}

// UnblockTask снимает блокировку конфликта.
// POST /api/v1/tasks/{id}/unblock
func (h *Handler) UnblockTask(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConflictID == "" {
		BadRequest(w, "conflict_id is required")
		return
	}
	t, err := h.orch.Supervisor().Unblock(r.PathValue("id"), req.ConflictID)
	h.respondTransition(w, r, t, err)
}

// ReleaseTask снимает карантин с задачи.
// POST /api/v1/tasks/{id}/release
func (h *Handler) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.ReleaseQuarantine(r.PathValue("id"))
	h.respondTransition(w, r, t, err)
}

// CancelTask отменяет задачу.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Supervisor().Cancel(r.PathValue("id"))
	h.respondTransition(w, r, t, err)
}

// PauseTask приостанавливает задачу.
// POST /api/v1/tasks/{id}/pause
func (h *Handler) PauseTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Supervisor().Pause(r.PathValue("id"))
	h.respondTransition(w, r, t, err)
}

// ResumeTask возобновляет задачу.
// POST /api/v1/tasks/{id}/resume
func (h *Handler) ResumeTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.orch.Supervisor().Resume(r.PathValue("id"))
	h.respondTransition(w, r, t, err)
}

// CheckpointTask сохраняет заметку исполнителя.
// POST /api/v1/tasks/{id}/checkpoint
func (h *Handler) CheckpointTask(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Note == "" {
		BadRequest(w, "note is required")
		return
	}
	t, err := h.orch.Supervisor().Checkpoint(r.PathValue("id"), req.Note)
	h.respondTransition(w, r, t, err)
}

// SetPriority меняет приоритет задачи.
// PUT /api/v1/tasks/{id}/priority
func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Priority.Valid() {
		BadRequest(w, "invalid priority")
		return
	}
	t, err := h.orch.Scheduler().Reprioritize(r.PathValue("id"), req.Priority)
	h.respondTransition(w, r, t, err)
}

// DeferTask возвращает назначенную задачу в pending.
// POST /api/v1/tasks/{id}/defer
func (h *Handler) DeferTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if HandleError(w, h.reqLogger(r), h.orch.Scheduler().Defer(id)) {
		return
	}
	h.respondTask(w, r, id)
}

// StartBatch запускает набор независимых задач параллельно.
// POST /api/v1/batches
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.TaskIDs) == 0 {
		BadRequest(w, "task_ids is required")
		return
	}
	res, err := h.orch.Supervisor().ExecuteParallelBatch(req.TaskIDs)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, res)
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, t *domain.Task, err error) {
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, TaskFromDomain(h.orch.Graph(), t))
}

func (h *Handler) respondTask(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.orch.Graph().Get(id)
	h.respondTransition(w, r, t, err)
}

// decodeOptional разбирает тело, если оно есть. Пустое тело допустимо.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}
