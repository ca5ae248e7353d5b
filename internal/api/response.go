package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/engine"
	"github.com/shaiso/Orchestra/internal/orchestrator"
	"github.com/shaiso/Orchestra/internal/repo"
	"github.com/shaiso/Orchestra/internal/scheduler"
	"github.com/shaiso/Orchestra/internal/supervisor"
	"github.com/shaiso/Orchestra/internal/worker"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable    ErrorCode = "UNAVAILABLE"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет ответ о принятой асинхронной операции (202).
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// NoContent отправляет ответ без тела (204).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// Unavailable отправляет ошибку 503.
func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// errorMapping — соответствие ошибки HTTP статусу.
type errorMapping struct {
	err    error
	status int
	code   ErrorCode
}

// errorMappings проверяются по порядку через errors.Is.
var errorMappings = []errorMapping{
	// 404
	{engine.ErrTaskNotFound, http.StatusNotFound, ErrCodeNotFound},
	{worker.ErrWorkerNotFound, http.StatusNotFound, ErrCodeNotFound},
	{conflict.ErrConflictNotFound, http.StatusNotFound, ErrCodeNotFound},
	{conflict.ErrNoPendingStep, http.StatusNotFound, ErrCodeNotFound},
	{repo.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},

	// 400
	{engine.ErrSelfDependency, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrUnknownDependency, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrEmptyName, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrInvalidPhase, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrInvalidPriority, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrInvalidComplexity, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrInvalidEstimate, http.StatusBadRequest, ErrCodeBadRequest},
	{engine.ErrDuplicateDependency, http.StatusBadRequest, ErrCodeBadRequest},
	{worker.ErrInvalidWorker, http.StatusBadRequest, ErrCodeBadRequest},
	{worker.ErrInvalidStatus, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrUnknownSignal, http.StatusBadRequest, ErrCodeBadRequest},
	{orchestrator.ErrInvalidSignal, http.StatusBadRequest, ErrCodeBadRequest},
	{conflict.ErrInvalidSignal, http.StatusBadRequest, ErrCodeBadRequest},

	// 409
	{engine.ErrDuplicateTask, http.StatusConflict, ErrCodeConflict},
	{engine.ErrHasDependents, http.StatusConflict, ErrCodeConflict},
	{engine.ErrTaskActive, http.StatusConflict, ErrCodeConflict},
	{worker.ErrDuplicateWorker, http.StatusConflict, ErrCodeConflict},
	{worker.ErrAlreadyReserved, http.StatusConflict, ErrCodeConflict},
	{scheduler.ErrNotPending, http.StatusConflict, ErrCodeConflict},
	{scheduler.ErrNotAssigned, http.StatusConflict, ErrCodeConflict},
	{conflict.ErrAlreadyResolved, http.StatusConflict, ErrCodeConflict},
	{conflict.ErrResolutionInProgress, http.StatusConflict, ErrCodeConflict},
	{conflict.ErrOperatorRequired, http.StatusConflict, ErrCodeConflict},

	// 422
	{supervisor.ErrInvalidTransition, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{supervisor.ErrBatchInvalid, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{supervisor.ErrNoGate, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{supervisor.ErrNotBlockedBy, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{scheduler.ErrDependenciesNotMet, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{scheduler.ErrCapabilityMismatch, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{scheduler.ErrNoWorker, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{scheduler.ErrCriticalPath, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{worker.ErrWorkerUnavailable, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{worker.ErrWorkerFull, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{worker.ErrNotReserved, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{conflict.ErrNoStrategy, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{conflict.ErrResolutionFailed, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{conflict.ErrStepRejected, http.StatusUnprocessableEntity, ErrCodeInvalidState},
	{conflict.ErrOperatorTimeout, http.StatusUnprocessableEntity, ErrCodeInvalidState},
}

// HandleError преобразует ошибку ядра в HTTP ответ.
// Возвращает true, если ошибка была и ответ отправлен.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			Error(w, m.status, m.code, err.Error())
			return true
		}
	}

	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		BadRequest(w, err.Error())
		return true
	}

	InternalError(w, logger, err)
	return true
}
