package worker

import "errors"

// Ошибки пула исполнителей.
var (
	// ErrWorkerNotFound — исполнитель с указанным ID не зарегистрирован.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrDuplicateWorker — исполнитель с таким ID уже зарегистрирован.
	ErrDuplicateWorker = errors.New("duplicate worker ID")

	// ErrInvalidWorker — некорректная спецификация исполнителя.
	ErrInvalidWorker = errors.New("invalid worker spec")

	// ErrWorkerUnavailable — исполнитель offline или на обслуживании.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrWorkerFull — у исполнителя нет свободных слотов.
	ErrWorkerFull = errors.New("worker has no free slots")

	// ErrAlreadyReserved — задача уже занимает слот у этого исполнителя.
	ErrAlreadyReserved = errors.New("task already reserved by worker")

	// ErrNotReserved — задача не занимает слот у этого исполнителя.
	ErrNotReserved = errors.New("task not reserved by worker")

	// ErrInvalidStatus — статус нельзя выставить вручную.
	ErrInvalidStatus = errors.New("status cannot be set manually")
)
