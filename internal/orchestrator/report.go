package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/steps"
)

// Пороги рекомендаций.
const (
	overloadedUtilization  = 0.85
	idleUtilization        = 0.3
	slowVelocity           = 0.8
	highFailureRate        = 0.2
	lowQualityScore        = 0.7
	lowResolutionRate      = 0.5
	recurringConflictCount = 3
)

// Report — отчёт о производительности и конфликтах.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	// Throughput — завершённые задачи в день с момента первого старта.
	Throughput         float64 `json:"throughput"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	AvgCompletionHours float64 `json:"avg_completion_hours"`
	AvgVelocity        float64 `json:"avg_velocity"`

	Utilization         float64       `json:"utilization"`
	AvgQualityScore     float64       `json:"avg_quality_score"`
	Workers             []WorkerScore `json:"workers"`
	RemainingHours      float64       `json:"remaining_hours"`
	ProjectedCompletion *time.Time    `json:"projected_completion,omitempty"`

	ActiveConflicts   int              `json:"active_conflicts"`
	ResolvedConflicts int              `json:"resolved_conflicts"`
	ResolutionRate    float64          `json:"resolution_rate"`
	Patterns          []PatternSummary `json:"patterns"`

	Recommendations []string `json:"recommendations"`
}

// WorkerScore — качество одного исполнителя.
type WorkerScore struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	QualityScore   float64 `json:"quality_score"`
	CompletionRate float64 `json:"completion_rate"`
	Reliability    float64 `json:"reliability"`
	Completed      int     `json:"completed"`
}

// PatternSummary — история одного типа конфликтов.
type PatternSummary struct {
	Type         domain.ConflictType `json:"type"`
	Frequency    int                 `json:"frequency"`
	Successes    int                 `json:"successes"`
	Failures     int                 `json:"failures"`
	SuccessRate  float64             `json:"success_rate"`
	BestStrategy domain.Strategy     `json:"best_strategy,omitempty"`
}

// Report собирает отчёт. Ошибка — только при чтении истории конфликтов.
func (o *Orchestrator) Report(ctx context.Context) (*Report, error) {
	now := o.now()
	stats := o.sup.Stats()
	dash := o.Dashboard()

	r := &Report{
		GeneratedAt:         now,
		Completed:           stats.Completed,
		Failed:              stats.Failed,
		AvgCompletionHours:  stats.AvgCompletionHours,
		AvgVelocity:         stats.AvgVelocity,
		Utilization:         dash.Workers.Utilization,
		Workers:             make([]WorkerScore, 0, dash.Workers.Total),
		RemainingHours:      dash.RemainingHours,
		ProjectedCompletion: dash.ProjectedCompletion,
		ActiveConflicts:     len(dash.ActiveConflicts),
		ResolvedConflicts:   len(o.store.Resolved(0)),
		Patterns:            make([]PatternSummary, 0),
		Recommendations:     make([]string, 0),
	}
	r.Throughput = throughput(o.graph.List(), now)

	var qualitySum float64
	for _, w := range o.pool.List() {
		r.Workers = append(r.Workers, WorkerScore{
			ID:             w.ID,
			Name:           w.Name,
			QualityScore:   w.Performance.QualityScore,
			CompletionRate: w.Performance.CompletionRate,
			Reliability:    w.Performance.Reliability,
			Completed:      w.Performance.Completed,
		})
		qualitySum += w.Performance.QualityScore
	}
	if len(r.Workers) > 0 {
		r.AvgQualityScore = qualitySum / float64(len(r.Workers))
	}

	patterns, err := o.patterns.Patterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conflict patterns: %w", err)
	}
	var succ, fail int
	for i := range patterns {
		s := summarizePattern(&patterns[i])
		succ += s.Successes
		fail += s.Failures
		r.Patterns = append(r.Patterns, s)
	}
	if succ+fail > 0 {
		r.ResolutionRate = float64(succ) / float64(succ+fail)
	}

	r.Recommendations = recommend(r, len(dash.PendingActions), dash.Tasks.ByStatus[domain.TaskStatusPending])
	return r, nil
}

func summarizePattern(p *domain.ConflictPattern) PatternSummary {
	s := PatternSummary{Type: p.Type, Frequency: p.Frequency}
	for _, n := range p.Successes {
		s.Successes += n
	}
	for _, n := range p.Failures {
		s.Failures += n
	}
	if total := s.Successes + s.Failures; total > 0 {
		s.SuccessRate = float64(s.Successes) / float64(total)
	}
	if best := p.SuccessfulStrategies(); len(best) > 0 {
		s.BestStrategy = best[0]
	}
	return s
}

// throughput — завершённые задачи в день. Отсчёт от самого раннего старта.
func throughput(tasks []*domain.Task, now time.Time) float64 {
	var first time.Time
	completed := 0
	for _, t := range tasks {
		if t.StartedAt != nil && (first.IsZero() || t.StartedAt.Before(first)) {
			first = *t.StartedAt
		}
		if t.Status == domain.TaskStatusCompleted {
			completed++
		}
	}
	if completed == 0 || first.IsZero() {
		return 0
	}
	days := now.Sub(first).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(completed) / days
}

// recommend выводит рекомендации из показателей отчёта.
func recommend(r *Report, pendingActions, pendingTasks int) []string {
	out := make([]string, 0)

	switch {
	case r.Utilization >= overloadedUtilization:
		out = append(out, fmt.Sprintf("worker pool is %.0f%% utilized: add workers or defer low-priority tasks", r.Utilization*100))
	case r.Utilization < idleUtilization && pendingTasks > 0:
		out = append(out, fmt.Sprintf("%d pending tasks with pool at %.0f%% utilization: check worker capabilities", pendingTasks, r.Utilization*100))
	}

	if r.AvgVelocity > 0 && r.AvgVelocity < slowVelocity {
		out = append(out, fmt.Sprintf("average velocity %.2f: estimates are optimistic, add buffer to remaining tasks", r.AvgVelocity))
	}

	if total := r.Completed + r.Failed; total > 0 {
		if rate := float64(r.Failed) / float64(total); rate > highFailureRate {
			out = append(out, fmt.Sprintf("failure rate %.0f%%: review task breakdown and acceptance criteria", rate*100))
		}
	}

	low := make([]string, 0)
	for _, w := range r.Workers {
		if w.Completed > 0 && w.QualityScore < lowQualityScore {
			low = append(low, w.ID)
		}
	}
	sort.Strings(low)
	for _, id := range low {
		out = append(out, fmt.Sprintf("worker %s quality below %.0f%%: pair on reviews", id, lowQualityScore*100))
	}

	for _, p := range r.Patterns {
		if p.Frequency < recurringConflictCount {
			continue
		}
		if p.Successes+p.Failures > 0 && p.SuccessRate < lowResolutionRate {
			out = append(out, fmt.Sprintf("%s conflicts resolve in %.0f%% of attempts: revisit strategy", p.Type, p.SuccessRate*100))
		} else {
			out = append(out, fmt.Sprintf("%s conflicts recur (%d times): address the root cause", p.Type, p.Frequency))
		}
	}

	if pendingActions > 0 {
		out = append(out, fmt.Sprintf("%d resolution steps wait for an operator", pendingActions))
	}
	return out
}

const reportTemplate = `Orchestra report {{date .GeneratedAt}}

Throughput:      {{printf "%.2f" .Throughput}} tasks/day
Completed:       {{.Completed}} (failed {{.Failed}})
Avg completion:  {{hours .AvgCompletionHours}}
Avg velocity:    {{printf "%.2f" .AvgVelocity}}
Utilization:     {{pct .Utilization}}
Avg quality:     {{pct .AvgQualityScore}}
Remaining:       {{hours .RemainingHours}}
Projected:       {{if .ProjectedCompletion}}{{date .ProjectedCompletion}}{{else}}n/a{{end}}

Conflicts: {{.ActiveConflicts}} active, {{.ResolvedConflicts}} resolved, success rate {{pct .ResolutionRate}}
{{- range .Patterns}}
  {{.Type}}: seen {{.Frequency}}, success {{pct .SuccessRate}}{{if .BestStrategy}}, best {{.BestStrategy}}{{end}}
{{- end}}
{{if .Workers}}
Workers:
{{- range .Workers}}
  {{.ID}} {{.Name}}: quality {{pct .QualityScore}}, completed {{.Completed}}
{{- end}}
{{end}}
Recommendations:
{{- range .Recommendations}}
  - {{.}}
{{- else}}
  none
{{- end}}
`

// Text рендерит отчёт в текст.
func (r *Report) Text() (string, error) {
	return steps.Render(reportTemplate, r)
}
