package domain

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"
)

// ConflictType — вид конфликта.
type ConflictType string

const (
	ConflictMerge               ConflictType = "merge_conflict"
	ConflictDependencyCycle     ConflictType = "dependency_cycle"
	ConflictResourceContention  ConflictType = "resource_contention"
	ConflictBreakingInterface   ConflictType = "breaking_interface_change"
	ConflictEnvironmentMismatch ConflictType = "environment_mismatch"
	ConflictTimelineCollision   ConflictType = "timeline_collision"
	ConflictQualityGateFailure  ConflictType = "quality_gate_failure"
	ConflictPerformanceRegress  ConflictType = "performance_regression"
	ConflictSecurityIssue       ConflictType = "security_issue"
)

// AllConflictTypes — все виды конфликтов.
var AllConflictTypes = []ConflictType{
	ConflictMerge,
	ConflictDependencyCycle,
	ConflictResourceContention,
	ConflictBreakingInterface,
	ConflictEnvironmentMismatch,
	ConflictTimelineCollision,
	ConflictQualityGateFailure,
	ConflictPerformanceRegress,
	ConflictSecurityIssue,
}

// Severity — серьёзность конфликта.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityBlocking Severity = "blocking"
)

// Rank возвращает порядковый номер серьёзности (low=1 … blocking=5).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	case SeverityBlocking:
		return 5
	default:
		return 0
	}
}

// SeverityFromScore переводит оценку 1–100 в уровень серьёзности.
func SeverityFromScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 65:
		return SeverityHigh
	case score >= 35:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Impact — оценка последствий конфликта.
type Impact struct {
	BlockedTasks    int     `json:"blocked_tasks"`
	AffectedWorkers int     `json:"affected_workers"`
	DelayHours      float64 `json:"delay_hours"`

	// SeverityScore — оценка 1–100.
	SeverityScore int `json:"severity_score"`

	// CascadeRisk — вероятность каскадного эффекта [0, 1].
	CascadeRisk float64 `json:"cascade_risk"`
}

// Conflict — обнаруженная проблема, требующая разрешения.
//
// Создаётся детектором, изменяется только resolver'ом.
// После закрытия хранится в наборе разрешённых для анализа паттернов.
type Conflict struct {
	ID       string       `json:"id"`
	Type     ConflictType `json:"type"`
	Severity Severity     `json:"severity"`

	// Title — краткое описание для дашборда.
	Title string `json:"title"`

	AffectedTasks   []string `json:"affected_tasks"`
	AffectedWorkers []string `json:"affected_workers"`

	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Resolution — последний план разрешения (успешный или нет).
	Resolution *Resolution `json:"resolution,omitempty"`

	Impact         Impact `json:"impact"`
	AutoResolvable bool   `json:"auto_resolvable"`

	// Attempts — число попыток разрешения.
	Attempts int `json:"attempts"`

	// Fingerprint — ключ дедупликации (тип + отсортированные затронутые ID).
	Fingerprint string `json:"fingerprint"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone возвращает глубокую копию конфликта.
func (c *Conflict) Clone() *Conflict {
	cp := *c
	cp.AffectedTasks = slices.Clone(c.AffectedTasks)
	cp.AffectedWorkers = slices.Clone(c.AffectedWorkers)
	cp.Metadata = maps.Clone(c.Metadata)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	if c.Resolution != nil {
		cp.Resolution = c.Resolution.Clone()
	}
	return &cp
}

// IsResolved возвращает true, если конфликт закрыт.
func (c *Conflict) IsResolved() bool {
	return c.ResolvedAt != nil
}

// MetaString возвращает строковое значение из Metadata.
func (c *Conflict) MetaString(key string) string {
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Fingerprint строит ключ дедупликации конфликта.
// extra позволяет различать конфликты одного типа над одними задачами
// (например, разные ветки или метрики).
func Fingerprint(t ConflictType, tasks, workers []string, extra ...string) string {
	parts := make([]string, 0, len(tasks)+len(workers)+len(extra))
	ts := slices.Clone(tasks)
	sort.Strings(ts)
	ws := slices.Clone(workers)
	sort.Strings(ws)
	parts = append(parts, ts...)
	parts = append(parts, "|")
	parts = append(parts, ws...)
	parts = append(parts, "|")
	parts = append(parts, extra...)
	return string(t) + ":" + strings.Join(parts, ",")
}

// ConflictPattern — история конфликтов одного типа.
type ConflictPattern struct {
	Type ConflictType `json:"type"`

	// Frequency — сколько раз конфликт этого типа обнаруживался.
	Frequency int `json:"frequency"`

	// Successes — сколько раз стратегия успешно разрешила конфликт этого типа.
	Successes map[Strategy]int `json:"successes"`

	// Failures — сколько раз стратегия не справилась.
	Failures map[Strategy]int `json:"failures"`
}

// SuccessfulStrategies возвращает стратегии с хотя бы одним успехом,
// по убыванию числа успехов.
func (p *ConflictPattern) SuccessfulStrategies() []Strategy {
	out := make([]Strategy, 0, len(p.Successes))
	for s, n := range p.Successes {
		if n > 0 {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if p.Successes[out[i]] != p.Successes[out[j]] {
			return p.Successes[out[i]] > p.Successes[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
