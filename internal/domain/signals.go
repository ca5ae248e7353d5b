package domain

import (
	"sort"
	"time"
)

// SignalKind — вид внешнего сигнала (VCS, CI, сканер, исполнитель задач).
type SignalKind string

const (
	SignalMerge       SignalKind = "merge"
	SignalGate        SignalKind = "gate"
	SignalPerformance SignalKind = "performance"
	SignalSecurity    SignalKind = "security"
	SignalInterface   SignalKind = "interface"
	SignalEnvironment SignalKind = "environment"
)

// MergeSignal — конфликт слияния веток из системы контроля версий.
type MergeSignal struct {
	Branch  string   `json:"branch"`
	Target  string   `json:"target"`
	Files   []string `json:"files"`
	TaskIDs []string `json:"task_ids"`

	// AutoMergeable — VCS сообщает, что конфликт разрешим автоматически
	// (например, непересекающиеся hunks).
	AutoMergeable bool `json:"auto_mergeable"`
}

// Key — ключ сигнала в хранилище.
func (s MergeSignal) Key() string { return s.Branch + "→" + s.Target }

// GateSignal — значения критериев quality gate для задачи.
type GateSignal struct {
	TaskID  string             `json:"task_id"`
	Gate    string             `json:"gate"`
	Metrics map[string]float64 `json:"metrics"`
}

// PerformanceSample — замер метрики производительности.
type PerformanceSample struct {
	Metric  string    `json:"metric"`
	Value   float64   `json:"value"`
	TaskIDs []string  `json:"task_ids,omitempty"`
	At      time.Time `json:"at"`
}

// SecurityFinding — находка сканера безопасности.
type SecurityFinding struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	TaskIDs  []string `json:"task_ids,omitempty"`
	Package  string   `json:"package,omitempty"`
}

// InterfaceSignal — несовместимое изменение контракта API.
type InterfaceSignal struct {
	Contract string   `json:"contract"`
	Changes  []string `json:"changes"`

	// ProducerTask — задача, изменившая контракт.
	ProducerTask string `json:"producer_task"`

	// ConsumerTasks — задачи, использующие контракт.
	ConsumerTasks []string `json:"consumer_tasks"`
}

// EnvironmentSignal — ожидаемые и фактические параметры окружения.
type EnvironmentSignal struct {
	Environment string            `json:"environment"`
	Expected    map[string]string `json:"expected"`
	Actual      map[string]string `json:"actual"`
	TaskIDs     []string          `json:"task_ids,omitempty"`
}

// Mismatches возвращает ключи, у которых фактическое значение
// отличается от ожидаемого (или отсутствует).
func (s EnvironmentSignal) Mismatches() []string {
	var out []string
	for k, want := range s.Expected {
		if got, ok := s.Actual[k]; !ok || got != want {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
