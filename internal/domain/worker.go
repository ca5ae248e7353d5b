package domain

import (
	"slices"
)

// WorkerType — специализация исполнителя.
type WorkerType string

const (
	WorkerTypeFrontend   WorkerType = "frontend"
	WorkerTypeBackend    WorkerType = "backend"
	WorkerTypeDatabase   WorkerType = "database"
	WorkerTypeDevOps     WorkerType = "devops"
	WorkerTypeQA         WorkerType = "qa"
	WorkerTypeSecurity   WorkerType = "security"
	WorkerTypeDesign     WorkerType = "design"
	WorkerTypeContent    WorkerType = "content"
	WorkerTypeGeneralist WorkerType = "generalist"
)

// AllWorkerTypes — все специализации.
var AllWorkerTypes = []WorkerType{
	WorkerTypeFrontend,
	WorkerTypeBackend,
	WorkerTypeDatabase,
	WorkerTypeDevOps,
	WorkerTypeQA,
	WorkerTypeSecurity,
	WorkerTypeDesign,
	WorkerTypeContent,
	WorkerTypeGeneralist,
}

// Valid проверяет, что тип входит в известный набор.
func (t WorkerType) Valid() bool {
	return slices.Contains(AllWorkerTypes, t)
}

// Performance — профиль эффективности исполнителя.
// Все коэффициенты в диапазоне [0, 1], AvgTaskHours — в часах.
type Performance struct {
	CompletionRate float64 `json:"completion_rate" yaml:"completion_rate"`
	QualityScore   float64 `json:"quality_score" yaml:"quality_score"`
	AvgTaskHours   float64 `json:"avg_task_hours" yaml:"avg_task_hours"`
	ReworkRate     float64 `json:"rework_rate" yaml:"rework_rate"`
	Reliability    float64 `json:"reliability" yaml:"reliability"`

	// Completed и Failed — счётчики исходов, из которых пересчитывается профиль.
	Completed int `json:"completed" yaml:"-"`
	Failed    int `json:"failed" yaml:"-"`
}

// DefaultPerformance — профиль нового исполнителя без истории.
func DefaultPerformance() Performance {
	return Performance{
		CompletionRate: 1,
		QualityScore:   0.8,
		Reliability:    0.8,
	}
}

// Worker — исполнитель с набором навыков и ограниченной ёмкостью.
type Worker struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type WorkerType `json:"type"`

	// Capabilities — навыки исполнителя.
	Capabilities []string `json:"capabilities"`

	// MaxConcurrentTasks — максимальное число одновременных задач.
	MaxConcurrentTasks int `json:"max_concurrent_tasks"`

	// CurrentTasks — ID задач, занимающих слоты.
	CurrentTasks []string `json:"current_tasks"`

	// Workload — загрузка в процентах, всегда пересчитывается из CurrentTasks.
	Workload float64 `json:"workload"`

	Status      WorkerStatus `json:"status"`
	Performance Performance  `json:"performance"`
}

// Clone возвращает глубокую копию исполнителя.
func (w *Worker) Clone() *Worker {
	c := *w
	c.Capabilities = slices.Clone(w.Capabilities)
	c.CurrentTasks = slices.Clone(w.CurrentTasks)
	return &c
}

// HasCapabilities проверяет, что набор навыков исполнителя
// является надмножеством required.
func (w *Worker) HasCapabilities(required []string) bool {
	for _, r := range required {
		if !slices.Contains(w.Capabilities, r) {
			return false
		}
	}
	return true
}

// SkillMatch — доля требуемых навыков, которыми обладает исполнитель.
// Для задачи без требований возвращает 1.
func (w *Worker) SkillMatch(required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	matched := 0
	for _, r := range required {
		if slices.Contains(w.Capabilities, r) {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// ComputeWorkload возвращает загрузку: 100 × current / max, ограниченную [0, 100].
func ComputeWorkload(current, capacity int) float64 {
	if capacity <= 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	w := 100 * float64(current) / float64(capacity)
	if w > 100 {
		return 100
	}
	return w
}

// WorkerSpec — входная спецификация исполнителя.
type WorkerSpec struct {
	ID                 string       `json:"id,omitempty" yaml:"id"`
	Name               string       `json:"name" yaml:"name"`
	Type               WorkerType   `json:"type" yaml:"type"`
	Capabilities       []string     `json:"capabilities" yaml:"capabilities"`
	MaxConcurrentTasks int          `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	Performance        *Performance `json:"performance,omitempty" yaml:"performance"`
}
