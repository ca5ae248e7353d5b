package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrAlreadyStarted — Start вызван повторно.
	ErrAlreadyStarted = errors.New("orchestrator already started")

	// ErrUnknownSignal — вид сигнала не поддерживается.
	ErrUnknownSignal = errors.New("unknown signal kind")

	// ErrInvalidSignal — сигнал не удалось разобрать.
	ErrInvalidSignal = errors.New("invalid signal payload")
)
