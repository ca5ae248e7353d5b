package conflict

import (
	"slices"
	"sort"

	"github.com/shaiso/Orchestra/internal/domain"
)

// candidates — применимые стратегии по типу конфликта в порядке предпочтения.
var candidates = map[domain.ConflictType][]domain.Strategy{
	domain.ConflictMerge: {
		domain.StrategyAutomaticMerge, domain.StrategyManualMerge,
		domain.StrategyRollback, domain.StrategyEscalation,
	},
	domain.ConflictDependencyCycle: {
		domain.StrategyReorderDependencies, domain.StrategyForceParallel,
		domain.StrategyManualIntervention,
	},
	domain.ConflictResourceContention: {
		domain.StrategyRebalanceWorkload, domain.StrategyDeferTasks,
		domain.StrategyEscalation,
	},
	domain.ConflictBreakingInterface: {
		domain.StrategyRollback, domain.StrategyManualIntervention,
		domain.StrategyEscalation,
	},
	domain.ConflictEnvironmentMismatch: {
		domain.StrategySyncEnvironment, domain.StrategyRollback,
		domain.StrategyManualIntervention,
	},
	domain.ConflictTimelineCollision: {
		domain.StrategyReprioritize, domain.StrategyForceParallel,
		domain.StrategyEscalation,
	},
	domain.ConflictQualityGateFailure: {
		domain.StrategyRerunChecks, domain.StrategyRollback,
		domain.StrategyManualIntervention,
	},
	domain.ConflictPerformanceRegress: {
		domain.StrategyRollback, domain.StrategyEscalation,
	},
	domain.ConflictSecurityIssue: {
		domain.StrategyQuarantine, domain.StrategyEscalation,
		domain.StrategyRollback,
	},
}

// Candidates возвращает стратегии, применимые к типу конфликта.
func Candidates(t domain.ConflictType) []domain.Strategy {
	return slices.Clone(candidates[t])
}

// Applicable проверяет, применима ли стратегия к типу конфликта.
func Applicable(t domain.ConflictType, s domain.Strategy) bool {
	return slices.Contains(candidates[t], s)
}

// SelectStrategy выбирает стратегию разрешения.
//
//  1. Автоматически разрешимый конфликт с кандидатом automatic_merge → automatic_merge.
//  2. Критический конфликт с кандидатом escalation → escalation.
//  3. Иначе первый кандидат после устойчивой сортировки по числу
//     прошлых успехов (по убыванию).
//
// Возвращает также остальные кандидаты в порядке ранжирования.
func SelectStrategy(c *domain.Conflict, pattern domain.ConflictPattern) (domain.Strategy, []domain.Strategy) {
	ranked := Candidates(c.Type)
	if len(ranked) == 0 {
		return domain.StrategyEscalation, nil
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return pattern.Successes[ranked[i]] > pattern.Successes[ranked[j]]
	})

	var chosen domain.Strategy
	switch {
	case c.AutoResolvable && slices.Contains(ranked, domain.StrategyAutomaticMerge):
		chosen = domain.StrategyAutomaticMerge
	case c.Severity == domain.SeverityCritical && slices.Contains(ranked, domain.StrategyEscalation):
		chosen = domain.StrategyEscalation
	default:
		chosen = ranked[0]
	}

	alternatives := make([]domain.Strategy, 0, len(ranked)-1)
	for _, s := range ranked {
		if s != chosen {
			alternatives = append(alternatives, s)
		}
	}
	return chosen, alternatives
}

// Confidence оценивает уверенность в успехе плана:
// 0.7 база, +0.2 для автоматически разрешимого конфликта,
// +0.1 для низкой серьёзности, +0.1 для automatic_merge; не больше 1.
func Confidence(c *domain.Conflict, s domain.Strategy) float64 {
	conf := 0.7
	if c.AutoResolvable {
		conf += 0.2
	}
	if c.Severity == domain.SeverityLow {
		conf += 0.1
	}
	if s == domain.StrategyAutomaticMerge {
		conf += 0.1
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}
