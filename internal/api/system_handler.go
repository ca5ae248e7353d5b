package api

import (
	"io"
	"net/http"

	"github.com/shaiso/Orchestra/internal/domain"
)

const maxSignalBody = 1 << 20

// Healthz — проверка живости.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.orch.IsStopped() {
		Unavailable(w, "orchestrator stopped")
		return
	}
	resp := map[string]any{
		"status":  "ok",
		"tasks":   h.orch.Graph().Len(),
		"workers": h.orch.Pool().Len(),
	}
	if last, ok := h.orch.LastCycle(); ok {
		resp["last_cycle"] = last.StartedAt
	}
	Success(w, resp)
}

// GetDashboard возвращает снимок состояния. cached=true — снимок
// последнего цикла, если он был.
// GET /api/v1/dashboard?cached=true
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") == "true" {
		if d, ok := h.orch.LastDashboard(); ok {
			Success(w, d)
			return
		}
	}
	Success(w, h.orch.Dashboard())
}

// GetReport возвращает отчёт. format=text — текстом.
// GET /api/v1/report?format=text
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.orch.Report(r.Context())
	if HandleError(w, h.reqLogger(r), err) {
		return
	}

	if r.URL.Query().Get("format") != "text" {
		Success(w, report)
		return
	}

	text, err := report.Text()
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

// PostSignal принимает сигнал внешней системы.
// POST /api/v1/signals/{kind}
func (h *Handler) PostSignal(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxSignalBody))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	kind := domain.SignalKind(r.PathValue("kind"))
	if HandleError(w, h.reqLogger(r), h.orch.IngestSignal(kind, payload)) {
		return
	}
	Accepted(w, map[string]any{"kind": kind})
}

// RunCycle запускает цикл оркестрации вне расписания.
// POST /api/v1/cycle
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	Success(w, h.orch.RunCycle(r.Context()))
}

// Detect запускает обнаружение конфликтов вне расписания.
// POST /api/v1/detect
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.DetectNow(r.Context())
	resp := DetectResponse{New: res.New, Blocked: res.Blocked, Resolved: res.Resolved}
	if resp.New == nil {
		resp.New = make([]*domain.Conflict, 0)
	}
	if err != nil {
		h.logger.Warn("on-demand detection finished with errors", "error", err)
		resp.Error = err.Error()
	}
	Success(w, resp)
}

// ListEvents возвращает последние события.
// GET /api/v1/events?limit=...&type=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	typ := domain.EventType(r.URL.Query().Get("type"))

	all := h.orch.RecentEvents(0)
	result := make([]domain.Event, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if typ != "" && all[i].Type != typ {
			continue
		}
		result = append(result, all[i])
	}
	List(w, result, len(result))
}

// ListSnapshots возвращает сохранённые снимки дашборда.
// GET /api/v1/snapshots?limit=...
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		Unavailable(w, "snapshot storage is not configured")
		return
	}
	limit, err := queryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	snapshots, err := h.snapshots.List(r.Context(), limit)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	List(w, snapshots, len(snapshots))
}
