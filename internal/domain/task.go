package domain

import (
	"maps"
	"slices"
	"time"
)

// Phase — фаза проекта, к которой относится задача.
type Phase string

const (
	PhaseDiscovery      Phase = "discovery"
	PhaseDesign         Phase = "design"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseReview         Phase = "review"
	PhaseDeployment     Phase = "deployment"
	PhaseMaintenance    Phase = "maintenance"
)

// AllPhases — фазы в порядке прохождения проекта.
var AllPhases = []Phase{
	PhaseDiscovery,
	PhaseDesign,
	PhaseImplementation,
	PhaseTesting,
	PhaseReview,
	PhaseDeployment,
	PhaseMaintenance,
}

// Valid проверяет, что фаза входит в известный набор.
func (p Phase) Valid() bool {
	return slices.Contains(AllPhases, p)
}

// Priority — приоритет задачи.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight возвращает числовой вес приоритета (critical=4 … low=1).
// Неизвестный приоритет весит как low.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// Valid проверяет, что приоритет входит в известный набор.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Complexity — уровень сложности задачи.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// Valid проверяет, что сложность входит в известный набор.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityExpert:
		return true
	default:
		return false
	}
}

// Task — единица работы в графе зависимостей.
//
// Запись задачи принадлежит графу. При назначении в Owner
// записывается ID исполнителя, но сама задача остаётся в графе.
type Task struct {
	// ID — уникальный идентификатор задачи.
	ID string `json:"id"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Phase — фаза проекта.
	Phase Phase `json:"phase"`

	Priority   Priority   `json:"priority"`
	Complexity Complexity `json:"complexity"`

	// EstimatedHours — оценка трудозатрат в часах.
	EstimatedHours float64 `json:"estimated_hours"`

	// Dependencies — ID задач, которые должны быть завершены до старта.
	Dependencies []string `json:"dependencies,omitempty"`

	// RequiredCapabilities — навыки, которыми должен обладать исполнитель.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	// Parallelizable — задачу можно запускать в параллельном батче.
	Parallelizable bool `json:"parallelizable"`

	// CriticalPath — задача лежит на критическом пути и не участвует в ребалансировке.
	CriticalPath bool `json:"critical_path"`

	Status TaskStatus `json:"status"`

	// Progress — процент выполнения [0, 100].
	Progress int `json:"progress"`

	// Blockers — ID конфликтов, блокирующих задачу.
	Blockers []string `json:"blockers,omitempty"`

	// BlockedFrom — статус до блокировки, в него задача возвращается
	// после снятия последней блокировки.
	BlockedFrom TaskStatus `json:"blocked_from,omitempty"`

	// Owner — ID исполнителя (пусто, пока задача не назначена).
	Owner string `json:"owner,omitempty"`

	// FailureReason — причина неудачи (для failed).
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Metadata — произвольные данные (чекпоинты, ссылки на ветки и т.п.).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone возвращает глубокую копию задачи.
// Снаружи графа отдаются только копии.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	c.RequiredCapabilities = slices.Clone(t.RequiredCapabilities)
	c.Blockers = slices.Clone(t.Blockers)
	c.Metadata = maps.Clone(t.Metadata)
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	return &c
}

// Duration возвращает фактическую продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// HasBlocker проверяет, заблокирована ли задача указанным конфликтом.
func (t *Task) HasBlocker(conflictID string) bool {
	return slices.Contains(t.Blockers, conflictID)
}

// SchedulingWeight — вес задачи в очереди назначения:
// вес приоритета + 10 для критического пути.
func (t *Task) SchedulingWeight() int {
	w := t.Priority.Weight()
	if t.CriticalPath {
		w += 10
	}
	return w
}

// TaskSpec — входная спецификация задачи (API, seed-файл, каталог intake).
type TaskSpec struct {
	ID                   string         `json:"id,omitempty" yaml:"id"`
	Name                 string         `json:"name" yaml:"name"`
	Description          string         `json:"description,omitempty" yaml:"description"`
	Phase                Phase          `json:"phase" yaml:"phase"`
	Priority             Priority       `json:"priority" yaml:"priority"`
	Complexity           Complexity     `json:"complexity" yaml:"complexity"`
	EstimatedHours       float64        `json:"estimated_hours" yaml:"estimated_hours"`
	Dependencies         []string       `json:"dependencies,omitempty" yaml:"dependencies"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty" yaml:"required_capabilities"`
	Parallelizable       bool           `json:"parallelizable" yaml:"parallelizable"`
	CriticalPath         bool           `json:"critical_path" yaml:"critical_path"`
	Metadata             map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}
