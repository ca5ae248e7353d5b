package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/repo"
	"github.com/shaiso/Orchestra/internal/telemetry"
)

// ListConflicts возвращает активные конфликты.
// GET /api/v1/conflicts?type=...
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	typ := domain.ConflictType(r.URL.Query().Get("type"))

	result := make([]*domain.Conflict, 0)
	for _, c := range h.orch.Conflicts().Active() {
		if typ != "" && c.Type != typ {
			continue
		}
		result = append(result, c)
	}

	List(w, result, len(result))
}

// ListConflictHistory возвращает разрешённые конфликты, новые первыми.
// Без базы данных — из памяти процесса.
// GET /api/v1/conflicts/history?type=...&limit=...
func (h *Handler) ListConflictHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	typ := domain.ConflictType(r.URL.Query().Get("type"))

	if h.history != nil {
		conflicts, err := h.history.List(r.Context(), repo.ConflictFilter{Type: typ, Limit: limit})
		if HandleError(w, h.reqLogger(r), err) {
			return
		}
		List(w, conflicts, len(conflicts))
		return
	}

	result := make([]*domain.Conflict, 0)
	resolved := h.orch.Conflicts().Resolved(0)
	for i := len(resolved) - 1; i >= 0 && len(result) < limit; i-- {
		if typ != "" && resolved[i].Type != typ {
			continue
		}
		result = append(result, resolved[i])
	}
	List(w, result, len(result))
}

// GetConflict возвращает конфликт по ID: активный, разрешённый в памяти
// или из архива.
// GET /api/v1/conflicts/{id}
func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	c, err := h.orch.Conflicts().Get(id)
	if errors.Is(err, conflict.ErrConflictNotFound) && h.history != nil {
		c, err = h.history.GetByID(r.Context(), id)
	}
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, c)
}

// PlanConflict строит план разрешения без выполнения.
// GET /api/v1/conflicts/{id}/plan?strategy=...
func (h *Handler) PlanConflict(w http.ResponseWriter, r *http.Request) {
	strategy := domain.Strategy(r.URL.Query().Get("strategy"))

	plan, err := h.orch.Resolver().Plan(r.Context(), r.PathValue("id"), strategy)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	Success(w, plan)
}

// ResolveConflict запускает разрешение конфликта.
//
// В режиме auto разрешение выполняется синхронно. В режиме manual
// (по умолчанию) план может ждать оператора, поэтому разрешение идёт в фоне,
// а ответ 202 содержит план; ручные шаги появляются в /api/v1/actions.
// POST /api/v1/conflicts/{id}/resolve
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	switch req.Mode {
	case "":
		req.Mode = conflict.ModeManual
	case conflict.ModeAuto, conflict.ModeManual:
	default:
		BadRequest(w, "mode must be auto or manual")
		return
	}

	id := r.PathValue("id")
	opts := conflict.ResolveOptions{Mode: req.Mode, Strategy: req.Strategy}

	if req.Mode == conflict.ModeAuto {
		c, err := h.orch.Resolver().Resolve(r.Context(), id, opts)
		if HandleError(w, h.reqLogger(r), err) {
			return
		}
		Success(w, c)
		return
	}

	plan, err := h.orch.Resolver().Plan(r.Context(), id, req.Strategy)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.orch.Resolver().Resolve(ctx, id, opts); err != nil {
			telemetry.WithConflictID(h.logger, id).Warn("manual resolution failed", "error", err)
		}
	}()

	Accepted(w, plan)
}

// CompleteStep подтверждает или отклоняет ручной шаг.
// POST /api/v1/conflicts/{id}/steps/{step}/complete
func (h *Handler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	var req CompleteStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	err := h.orch.Resolver().CompleteStep(r.PathValue("id"), r.PathValue("step"), req.Success, req.Note)
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	NoContent(w)
}

// ListPendingActions возвращает шаги, ожидающие оператора.
// GET /api/v1/actions
func (h *Handler) ListPendingActions(w http.ResponseWriter, r *http.Request) {
	actions := h.orch.Resolver().PendingActions()
	if actions == nil {
		actions = make([]domain.PendingAction, 0)
	}
	List(w, actions, len(actions))
}

// ListPatterns возвращает историю конфликтов по типам.
// GET /api/v1/patterns
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.orch.Patterns().Patterns(r.Context())
	if HandleError(w, h.reqLogger(r), err) {
		return
	}
	List(w, patterns, len(patterns))
}
