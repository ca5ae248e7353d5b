package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события оркестратора.
// Значение используется как routing key при публикации в RabbitMQ.
type EventType string

const (
	EventTaskAdded     EventType = "task.added"
	EventTaskReady     EventType = "task.ready"
	EventTaskAssigned  EventType = "task.assigned"
	EventTaskStarted   EventType = "task.started"
	EventTaskProgress  EventType = "task.progress"
	EventTaskReview    EventType = "task.review"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskBlocked   EventType = "task.blocked"
	EventTaskUnblocked EventType = "task.unblocked"
	EventTaskPaused    EventType = "task.paused"
	EventTaskResumed   EventType = "task.resumed"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskMoved     EventType = "task.reassigned"

	EventWorkerRegistered EventType = "worker.registered"
	EventWorkerStatus     EventType = "worker.status"

	EventConflictDetected       EventType = "conflict.detected"
	EventConflictResolved       EventType = "conflict.resolved"
	EventConflictResolutionFail EventType = "conflict.resolution_failed"
	EventConflictActionRequired EventType = "conflict.action_required"

	EventSystemHeartbeat EventType = "system.heartbeat"
	EventSystemError     EventType = "system.error"
)

// Event — событие оркестратора.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	TaskID     string `json:"task_id,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
	ConflictID string `json:"conflict_id,omitempty"`

	// Message — человекочитаемое описание.
	Message string `json:"message,omitempty"`

	Data map[string]any `json:"data,omitempty"`
}

// NewEvent создаёт событие с новым ID и текущим временем.
func NewEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}
