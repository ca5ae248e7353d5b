package worker

import (
	"slices"
	"sort"

	"github.com/shaiso/Orchestra/internal/domain"
)

// Веса и пороги оценки исполнителя.
const (
	weightSkill       = 0.4
	weightHeadroom    = 0.3
	weightReliability = 0.3

	// DefaultAssignThreshold — исполнители с загрузкой от этого порога не рассматриваются.
	DefaultAssignThreshold = 90.0
)

// Candidate — исполнитель с оценкой пригодности для задачи.
type Candidate struct {
	Worker *domain.Worker `json:"worker"`
	Score  float64        `json:"score"`
}

// Score вычисляет оценку исполнителя для задачи:
// 0.4 × доля навыков + 0.3 × (1 − загрузка/100) + 0.3 × надёжность.
func Score(w *domain.Worker, task *domain.Task) float64 {
	return weightSkill*w.SkillMatch(task.RequiredCapabilities) +
		weightHeadroom*(1-w.Workload/100) +
		weightReliability*w.Performance.Reliability
}

// Eligible проверяет, может ли исполнитель взять задачу:
// статус available, загрузка ниже threshold, все требуемые навыки есть.
func Eligible(w *domain.Worker, task *domain.Task, threshold float64) bool {
	return w.Status == domain.WorkerStatusAvailable &&
		w.Workload < threshold &&
		w.HasCapabilities(task.RequiredCapabilities)
}

// Rank возвращает подходящих исполнителей по убыванию оценки.
// При равной оценке сохраняется порядок регистрации.
func (p *Pool) Rank(task *domain.Task, threshold float64, exclude ...string) []Candidate {
	if threshold <= 0 {
		threshold = DefaultAssignThreshold
	}

	candidates := make([]Candidate, 0)
	for _, w := range p.List() {
		if slices.Contains(exclude, w.ID) {
			continue
		}
		if !Eligible(w, task, threshold) {
			continue
		}
		candidates = append(candidates, Candidate{Worker: w, Score: Score(w, task)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// FindBestWorker выбирает лучшего исполнителя для задачи.
// Если подходящих нет, возвращает (nil, false), а не ошибку.
func (p *Pool) FindBestWorker(task *domain.Task, exclude ...string) (*domain.Worker, bool) {
	ranked := p.Rank(task, DefaultAssignThreshold, exclude...)
	if len(ranked) == 0 {
		return nil, false
	}
	return ranked[0].Worker, true
}
