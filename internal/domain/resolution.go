package domain

import (
	"slices"
	"time"
)

// Strategy — стратегия разрешения конфликта.
type Strategy string

const (
	StrategyAutomaticMerge      Strategy = "automatic_merge"
	StrategyManualMerge         Strategy = "manual_merge"
	StrategyRollback            Strategy = "rollback"
	StrategyEscalation          Strategy = "escalation"
	StrategyReorderDependencies Strategy = "reorder_dependencies"
	StrategyForceParallel       Strategy = "force_parallel"
	StrategyManualIntervention  Strategy = "manual_intervention"
	StrategyRebalanceWorkload   Strategy = "rebalance_workload"
	StrategyDeferTasks          Strategy = "defer_tasks"
	StrategySyncEnvironment     Strategy = "sync_environment"
	StrategyReprioritize        Strategy = "reprioritize"
	StrategyRerunChecks         Strategy = "rerun_checks"
	StrategyQuarantine          Strategy = "quarantine"
)

// StepType — тип шага плана разрешения.
type StepType string

const (
	StepValidate StepType = "validate"
	StepExecute  StepType = "execute"
	StepVerify   StepType = "verify"
	StepRollback StepType = "rollback"
	StepNotify   StepType = "notify"
)

// StepState — состояние шага при исполнении плана.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateWaiting   StepState = "waiting"
	StepStateSucceeded StepState = "succeeded"
	StepStateFailed    StepState = "failed"
	StepStateSkipped   StepState = "skipped"
)

// ResolutionStep — шаг плана разрешения.
type ResolutionStep struct {
	// ID — идентификатор шага внутри плана ("1", "2", ...).
	ID string `json:"id"`

	Type StepType `json:"type"`

	// Action — имя действия в реестре шагов.
	Action string `json:"action"`

	Description string `json:"description"`

	// Automated — шаг выполняется без участия оператора.
	Automated bool `json:"automated"`

	EstimatedDuration time.Duration `json:"estimated_duration"`
	Rollbackable      bool          `json:"rollbackable"`

	SuccessCriteria string `json:"success_criteria,omitempty"`
	FailureCriteria string `json:"failure_criteria,omitempty"`

	// Config — параметры действия.
	Config map[string]any `json:"config,omitempty"`

	State StepState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Resolution — план разрешения конфликта и его результат.
type Resolution struct {
	Strategy Strategy         `json:"strategy"`
	Steps    []ResolutionStep `json:"steps"`

	EstimatedTime time.Duration `json:"estimated_time"`

	// Confidence — уверенность в успехе [0, 1].
	Confidence float64 `json:"confidence"`

	Risks        []string   `json:"risks,omitempty"`
	Alternatives []Strategy `json:"alternatives,omitempty"`

	Success       bool       `json:"success"`
	ImplementedAt *time.Time `json:"implemented_at,omitempty"`

	// Error — причина неудачи.
	Error string `json:"error,omitempty"`
}

// Clone возвращает глубокую копию плана.
func (r *Resolution) Clone() *Resolution {
	c := *r
	c.Steps = slices.Clone(r.Steps)
	c.Risks = slices.Clone(r.Risks)
	c.Alternatives = slices.Clone(r.Alternatives)
	if r.ImplementedAt != nil {
		t := *r.ImplementedAt
		c.ImplementedAt = &t
	}
	return &c
}

// RequiresOperator возвращает true, если в плане есть шаг,
// требующий участия человека.
func (r *Resolution) RequiresOperator() bool {
	for _, s := range r.Steps {
		if !s.Automated {
			return true
		}
	}
	return false
}

// PendingAction — шаг плана, ожидающий подтверждения оператора.
type PendingAction struct {
	ConflictID   string       `json:"conflict_id"`
	ConflictType ConflictType `json:"conflict_type"`
	Strategy     Strategy     `json:"strategy"`
	StepID       string       `json:"step_id"`
	Description  string       `json:"description"`
	Since        time.Time    `json:"since"`
}
