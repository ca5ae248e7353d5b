package conflict

import (
	"math"

	"github.com/shaiso/Orchestra/internal/domain"
)

// impactModel — базовая оценка типа и коэффициенты роста.
type impactModel struct {
	base       int
	perTask    float64
	perWorker  float64
	delayBase  float64
	delayTask  float64
	cascadeMul float64
}

var impactModels = map[domain.ConflictType]impactModel{
	domain.ConflictMerge:               {base: 30, perTask: 5, perWorker: 3, delayBase: 2, delayTask: 1, cascadeMul: 0.05},
	domain.ConflictDependencyCycle:     {base: 65, perTask: 4, perWorker: 2, delayBase: 8, delayTask: 2, cascadeMul: 0.1},
	domain.ConflictResourceContention:  {base: 35, perTask: 3, perWorker: 8, delayBase: 4, delayTask: 1, cascadeMul: 0.05},
	domain.ConflictBreakingInterface:   {base: 50, perTask: 6, perWorker: 3, delayBase: 6, delayTask: 2, cascadeMul: 0.1},
	domain.ConflictEnvironmentMismatch: {base: 40, perTask: 4, perWorker: 2, delayBase: 3, delayTask: 1, cascadeMul: 0.05},
	domain.ConflictTimelineCollision:   {base: 30, perTask: 5, perWorker: 2, delayBase: 4, delayTask: 2, cascadeMul: 0.08},
	domain.ConflictQualityGateFailure:  {base: 40, perTask: 5, perWorker: 2, delayBase: 3, delayTask: 1, cascadeMul: 0.05},
	domain.ConflictPerformanceRegress:  {base: 45, perTask: 4, perWorker: 2, delayBase: 4, delayTask: 1, cascadeMul: 0.05},
	domain.ConflictSecurityIssue:       {base: 60, perTask: 6, perWorker: 2, delayBase: 8, delayTask: 2, cascadeMul: 0.1},
}

// EstimateImpact оценивает последствия конфликта.
//
// Оценка неубывающая по числу заблокированных задач и затронутых
// исполнителей: все коэффициенты неотрицательны, результат ограничен [1, 100].
func EstimateImpact(t domain.ConflictType, blockedTasks, affectedWorkers int) domain.Impact {
	m, ok := impactModels[t]
	if !ok {
		m = impactModel{base: 40, perTask: 4, perWorker: 2, delayBase: 4, delayTask: 1, cascadeMul: 0.05}
	}
	if blockedTasks < 0 {
		blockedTasks = 0
	}
	if affectedWorkers < 0 {
		affectedWorkers = 0
	}

	score := float64(m.base) + m.perTask*float64(blockedTasks) + m.perWorker*float64(affectedWorkers)
	score = math.Min(100, math.Max(1, score))

	return domain.Impact{
		BlockedTasks:    blockedTasks,
		AffectedWorkers: affectedWorkers,
		DelayHours:      m.delayBase + m.delayTask*float64(blockedTasks),
		SeverityScore:   int(math.Round(score)),
		CascadeRisk:     math.Min(1, m.cascadeMul*float64(blockedTasks)),
	}
}
