package api

import (
	"net/http"
)

// maxRequestBody — предел тела запроса.
const maxRequestBody = 4 << 20

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	middlewares := []Middleware{
		Recovery(h.logger),
		Logging(h.logger),
		MaxBody(maxRequestBody),
	}
	if h.metrics != nil {
		middlewares = append([]Middleware{h.metrics.InstrumentHandler}, middlewares...)
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	chain := Chain(middlewares...)

	mux.Handle("GET /healthz", chain(http.HandlerFunc(h.Healthz)))

	// Dashboard & report
	mux.Handle("GET /api/v1/dashboard", chain(http.HandlerFunc(h.GetDashboard)))
	mux.Handle("GET /api/v1/report", chain(http.HandlerFunc(h.GetReport)))
	mux.Handle("GET /api/v1/events", chain(http.HandlerFunc(h.ListEvents)))
	mux.Handle("GET /api/v1/snapshots", chain(http.HandlerFunc(h.ListSnapshots)))
	mux.Handle("POST /api/v1/cycle", chain(http.HandlerFunc(h.RunCycle)))
	mux.Handle("POST /api/v1/detect", chain(http.HandlerFunc(h.Detect)))

	// Tasks
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTasks)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("DELETE /api/v1/tasks/{id}", chain(http.HandlerFunc(h.DeleteTask)))
	mux.Handle("POST /api/v1/tasks/{id}/dependencies", chain(http.HandlerFunc(h.AddDependency)))
	mux.Handle("DELETE /api/v1/tasks/{id}/dependencies/{dep}", chain(http.HandlerFunc(h.RemoveDependency)))
	mux.Handle("PUT /api/v1/tasks/{id}/priority", chain(http.HandlerFunc(h.SetPriority)))

	// Task transitions
	mux.Handle("POST /api/v1/tasks/{id}/assign", chain(http.HandlerFunc(h.AssignTask)))
	mux.Handle("POST /api/v1/tasks/{id}/reassign", chain(http.HandlerFunc(h.ReassignTask)))
	mux.Handle("POST /api/v1/tasks/{id}/defer", chain(http.HandlerFunc(h.DeferTask)))
	mux.Handle("POST /api/v1/tasks/{id}/start", chain(http.HandlerFunc(h.StartTask)))
	mux.Handle("POST /api/v1/tasks/{id}/progress", chain(http.HandlerFunc(h.ReportProgress)))
	mux.Handle("POST /api/v1/tasks/{id}/complete", chain(http.HandlerFunc(h.CompleteTask)))
	mux.Handle("POST /api/v1/tasks/{id}/review", chain(http.HandlerFunc(h.ReviewTask)))
	mux.Handle("POST /api/v1/tasks/{id}/fail", chain(http.HandlerFunc(h.FailTask)))
	mux.Handle("POST /api/v1/tasks/{id}/block", chain(http.HandlerFunc(h.BlockTask)))
	mux.Handle("POST /api/v1/tasks/{id}/unblock", chain(http.HandlerFunc(h.UnblockTask)))
	mux.Handle("POST /api/v1/tasks/{id}/release", chain(http.HandlerFunc(h.ReleaseTask)))
	mux.Handle("POST /api/v1/tasks/{id}/cancel", chain(http.HandlerFunc(h.CancelTask)))
	mux.Handle("POST /api/v1/tasks/{id}/pause", chain(http.HandlerFunc(h.PauseTask)))
	mux.Handle("POST /api/v1/tasks/{id}/resume", chain(http.HandlerFunc(h.ResumeTask)))
	mux.Handle("POST /api/v1/tasks/{id}/checkpoint", chain(http.HandlerFunc(h.CheckpointTask)))
	mux.Handle("POST /api/v1/batches", chain(http.HandlerFunc(h.StartBatch)))

	// Workers
	mux.Handle("GET /api/v1/workers", chain(http.HandlerFunc(h.ListWorkers)))
	mux.Handle("POST /api/v1/workers", chain(http.HandlerFunc(h.RegisterWorker)))
	mux.Handle("GET /api/v1/workers/{id}", chain(http.HandlerFunc(h.GetWorker)))
	mux.Handle("PUT /api/v1/workers/{id}/status", chain(http.HandlerFunc(h.SetWorkerStatus)))
	mux.Handle("PUT /api/v1/workers/{id}/capacity", chain(http.HandlerFunc(h.SetWorkerCapacity)))

	// Conflicts
	mux.Handle("GET /api/v1/conflicts", chain(http.HandlerFunc(h.ListConflicts)))
	mux.Handle("GET /api/v1/conflicts/history", chain(http.HandlerFunc(h.ListConflictHistory)))
	mux.Handle("GET /api/v1/conflicts/{id}", chain(http.HandlerFunc(h.GetConflict)))
	mux.Handle("GET /api/v1/conflicts/{id}/plan", chain(http.HandlerFunc(h.PlanConflict)))
	mux.Handle("POST /api/v1/conflicts/{id}/resolve", chain(http.HandlerFunc(h.ResolveConflict)))
	mux.Handle("POST /api/v1/conflicts/{id}/steps/{step}/complete", chain(http.HandlerFunc(h.CompleteStep)))
	mux.Handle("GET /api/v1/actions", chain(http.HandlerFunc(h.ListPendingActions)))
	mux.Handle("GET /api/v1/patterns", chain(http.HandlerFunc(h.ListPatterns)))

	// Signals
	mux.Handle("POST /api/v1/signals/{kind}", chain(http.HandlerFunc(h.PostSignal)))
}
