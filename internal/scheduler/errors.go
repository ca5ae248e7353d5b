package scheduler

import "errors"

// Ошибки назначения.
var (
	// ErrNotPending — задача не в статусе pending.
	ErrNotPending = errors.New("task is not pending")

	// ErrNotAssigned — задача не в статусе assigned.
	ErrNotAssigned = errors.New("task is not assigned")

	// ErrDependenciesNotMet — не все зависимости задачи завершены.
	ErrDependenciesNotMet = errors.New("task dependencies not completed")

	// ErrCapabilityMismatch — у исполнителя нет требуемых навыков.
	ErrCapabilityMismatch = errors.New("worker lacks required capabilities")

	// ErrNoWorker — нет подходящего исполнителя; задача остаётся pending.
	ErrNoWorker = errors.New("no eligible worker")

	// ErrCriticalPath — задачу критического пути нельзя перемещать.
	ErrCriticalPath = errors.New("task is on critical path")

	// ErrInvalidCadence — некорректное выражение периодичности.
	ErrInvalidCadence = errors.New("invalid cadence")
)
