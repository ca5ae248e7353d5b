package supervisor

import "errors"

// Ошибки переходов состояния задачи.
var (
	// ErrInvalidTransition — переход недопустим из текущего статуса.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrBatchInvalid — хотя бы одна задача батча не прошла проверку.
	ErrBatchInvalid = errors.New("parallel batch validation failed")

	// ErrNoGate — для фазы задачи не определён quality gate.
	ErrNoGate = errors.New("no quality gate for phase")

	// ErrNotBlockedBy — задача не заблокирована указанным конфликтом.
	ErrNotBlockedBy = errors.New("task is not blocked by conflict")
)
