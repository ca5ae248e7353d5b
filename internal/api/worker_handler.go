package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Orchestra/internal/domain"
)

// ListWorkers возвращает исполнителей.
// GET /api/v1/workers?status=...&type=...
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status domain.WorkerStatus
	if s := q.Get("status"); s != "" {
		parsed, ok := domain.ParseWorkerStatus(s)
		if !ok {
			BadRequest(w, "unknown worker status: "+s)
			return
		}
		status = parsed
	}
	typ := domain.WorkerType(q.Get("type"))

	result := make([]*domain.Worker, 0)
	for _, wk := range h.orch.Pool().List() {
		if status != "" && wk.Status != status {
			continue
		}
		if typ != "" && wk.Type != typ {
			continue
		}
		result = append(result, wk)
	}

	List(w, result, len(result))
}

// RegisterWorker регистрирует исполнителя.
// POST /api/v1/workers
func (h *Handler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var spec domain.WorkerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	id, err := h.orch.Register(spec)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}

	wk, err := h.orch.Pool().Get(id)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Created(w, wk)
}

// GetWorker возвращает исполнителя по ID.
// GET /api/v1/workers/{id}
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	wk, err := h.orch.Pool().Get(r.PathValue("id"))
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, wk)
}

// SetWorkerStatus выставляет ручной статус: offline, maintenance или available.
// PUT /api/v1/workers/{id}/status
func (h *Handler) SetWorkerStatus(w http.ResponseWriter, r *http.Request) {
	var req WorkerStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		BadRequest(w, "status is required")
		return
	}

	wk, err := h.orch.Pool().SetStatus(r.PathValue("id"), req.Status)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}

	ev := domain.NewEvent(domain.EventWorkerStatus)
	ev.WorkerID = wk.ID
	ev.Data = map[string]any{"status": wk.Status}
	h.orch.Emit(ev)

	Success(w, wk)
}

// SetWorkerCapacity меняет лимит одновременных задач.
// PUT /api/v1/workers/{id}/capacity
func (h *Handler) SetWorkerCapacity(w http.ResponseWriter, r *http.Request) {
	var req CapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxConcurrentTasks <= 0 {
		BadRequest(w, "max_concurrent_tasks must be positive")
		return
	}

	wk, err := h.orch.Pool().SetCapacity(r.PathValue("id"), req.MaxConcurrentTasks)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, wk)
}
