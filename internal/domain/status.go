package domain

// TaskStatus — статус задачи.
//
// Жизненный цикл:
//
//	pending → assigned → in_progress → completed
//	                               ↘ under_review → completed (для фаз с quality gate)
//	                               ↘ failed
//	                               ↘ blocked → in_progress (после разрешения конфликта)
//	          (из любого нефинального) → cancelled
//	          in_progress ⇄ paused
type TaskStatus string

const (
	// TaskStatusPending — задача ждёт назначения.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusAssigned — задача назначена исполнителю, но ещё не начата.
	TaskStatusAssigned TaskStatus = "assigned"

	// TaskStatusInProgress — задача выполняется.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusUnderReview — работа закончена, ждёт прохождения quality gate.
	TaskStatusUnderReview TaskStatus = "under_review"

	// TaskStatusBlocked — задача заблокирована активным конфликтом.
	TaskStatusBlocked TaskStatus = "blocked"

	// TaskStatusPaused — выполнение приостановлено оператором.
	TaskStatusPaused TaskStatus = "paused"

	// TaskStatusCompleted — задача завершена.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed — задача завершилась неудачей.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled — задача отменена.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive возвращает true, если задача занимает слот исполнителя.
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusUnderReview,
		TaskStatusBlocked, TaskStatusPaused:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус входит в известный набор.
func (s TaskStatus) Valid() bool {
	for _, st := range AllTaskStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// AllTaskStatuses — все статусы задач в порядке жизненного цикла.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusAssigned,
	TaskStatusInProgress,
	TaskStatusUnderReview,
	TaskStatusBlocked,
	TaskStatusPaused,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// WorkerStatus — статус исполнителя.
//
// available/busy/overloaded вычисляются из загрузки,
// offline/maintenance выставляются вручную и сохраняются до снятия.
type WorkerStatus string

const (
	// WorkerStatusAvailable — есть свободные слоты.
	WorkerStatusAvailable WorkerStatus = "available"

	// WorkerStatusBusy — все слоты заняты.
	WorkerStatusBusy WorkerStatus = "busy"

	// WorkerStatusOverloaded — задач больше, чем слотов (после снижения лимита).
	WorkerStatusOverloaded WorkerStatus = "overloaded"

	// WorkerStatusOffline — исполнитель недоступен.
	WorkerStatusOffline WorkerStatus = "offline"

	// WorkerStatusMaintenance — исполнитель на обслуживании.
	WorkerStatusMaintenance WorkerStatus = "maintenance"
)

// IsManual возвращает true для статусов, которые не пересчитываются из загрузки.
func (s WorkerStatus) IsManual() bool {
	return s == WorkerStatusOffline || s == WorkerStatusMaintenance
}

// ParseWorkerStatus парсит строку в WorkerStatus.
// Возвращает false для неизвестных значений.
func ParseWorkerStatus(s string) (WorkerStatus, bool) {
	switch WorkerStatus(s) {
	case WorkerStatusAvailable, WorkerStatusBusy, WorkerStatusOverloaded,
		WorkerStatusOffline, WorkerStatusMaintenance:
		return WorkerStatus(s), true
	default:
		return "", false
	}
}
