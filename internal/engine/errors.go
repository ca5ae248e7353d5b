package engine

import "errors"

// Ошибки графа зависимостей.
var (
	// ErrTaskNotFound — задача с указанным ID не существует.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask — задача с таким ID уже есть в графе.
	ErrDuplicateTask = errors.New("duplicate task ID")

	// ErrSelfDependency — задача зависит от самой себя.
	ErrSelfDependency = errors.New("task depends on itself")

	// ErrUnknownDependency — зависимость ссылается на несуществующую задачу.
	ErrUnknownDependency = errors.New("task depends on unknown task")

	// ErrHasDependents — задачу нельзя удалить, от неё зависят другие.
	ErrHasDependents = errors.New("task has dependents")

	// ErrTaskActive — задачу нельзя удалить, она занимает исполнителя.
	ErrTaskActive = errors.New("task is active")
)

// Ошибки валидации TaskSpec.
var (
	// ErrEmptyName — задача без имени.
	ErrEmptyName = errors.New("task has empty name")

	// ErrInvalidPhase — неизвестная фаза.
	ErrInvalidPhase = errors.New("unknown phase")

	// ErrInvalidPriority — неизвестный приоритет.
	ErrInvalidPriority = errors.New("unknown priority")

	// ErrInvalidComplexity — неизвестная сложность.
	ErrInvalidComplexity = errors.New("unknown complexity")

	// ErrInvalidEstimate — отрицательная оценка трудозатрат.
	ErrInvalidEstimate = errors.New("estimated hours must be non-negative")

	// ErrDuplicateDependency — зависимость указана дважды.
	ErrDuplicateDependency = errors.New("duplicate dependency")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	TaskID  string // ID или имя задачи, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return "task " + e.TaskID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(taskID, field, message string, err error) *ValidationError {
	return &ValidationError{
		TaskID:  taskID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
