package domain

// GateCriterion — взвешенный критерий quality gate.
type GateCriterion struct {
	Name      string  `json:"name" yaml:"name" mapstructure:"name"`
	Weight    float64 `json:"weight" yaml:"weight" mapstructure:"weight"`
	Threshold float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	Automated bool    `json:"automated" yaml:"automated" mapstructure:"automated"`
}

// QualityGate — контрольная точка фазы.
//
// Определение неизменяемо: gate только оценивается против метрик.
type QualityGate struct {
	Name     string          `json:"name" yaml:"name" mapstructure:"name"`
	Phase    Phase           `json:"phase" yaml:"phase" mapstructure:"phase"`
	Criteria []GateCriterion `json:"criteria" yaml:"criteria" mapstructure:"criteria"`

	// PassThreshold — минимальная взвешенная доля пройденных критериев [0, 1].
	PassThreshold float64 `json:"pass_threshold" yaml:"pass_threshold" mapstructure:"pass_threshold"`
}

// GateResult — результат оценки quality gate.
type GateResult struct {
	Gate   string  `json:"gate"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`

	// FailedCriteria — критерии ниже порога (или без значения).
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}

// Evaluate оценивает метрики по критериям gate.
//
// Критерий пройден, если metrics[name] >= threshold; отсутствующая метрика
// считается непройденной. Score — доля веса пройденных критериев.
// Gate пройден, если Score >= PassThreshold.
func (g QualityGate) Evaluate(metrics map[string]float64) GateResult {
	res := GateResult{Gate: g.Name}

	var total, passed float64
	for _, c := range g.Criteria {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w

		v, ok := metrics[c.Name]
		if ok && v >= c.Threshold {
			passed += w
		} else {
			res.FailedCriteria = append(res.FailedCriteria, c.Name)
		}
	}

	if total == 0 {
		res.Score = 1
	} else {
		res.Score = passed / total
	}
	res.Passed = res.Score >= g.PassThreshold
	return res
}
