package conflict

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

// Ключи метаданных конфликта, связывающие его с исходным сигналом.
const (
	MetaSignalKind = "signal_kind"
	MetaSignalKey  = "signal_key"
)

// defaultHistorySize — сколько замеров метрики хранится для базовой линии.
const defaultHistorySize = 50

// PerformanceReading — последний замер метрики и базовая линия до него.
type PerformanceReading struct {
	Sample domain.PerformanceSample

	// Baseline — среднее предыдущих замеров. HasBaseline=false, если истории нет.
	Baseline    float64
	HasBaseline bool
}

type perfSeries struct {
	history []float64
	latest  *PerformanceReading
}

// SignalStore хранит внешние сигналы до их разрешения.
//
// Сигналы одного вида с тем же ключом заменяют друг друга: ветка для merge,
// задача и gate для gate, контракт для interface, окружение для environment,
// ID находки для security, метрика для performance.
type SignalStore struct {
	mu sync.RWMutex

	merges       map[string]domain.MergeSignal
	gates        map[string]domain.GateSignal
	interfaces   map[string]domain.InterfaceSignal
	environments map[string]domain.EnvironmentSignal
	findings     map[string]domain.SecurityFinding
	perf         map[string]*perfSeries

	historySize int
}

// NewSignalStore создаёт пустое хранилище.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		merges:       make(map[string]domain.MergeSignal),
		gates:        make(map[string]domain.GateSignal),
		interfaces:   make(map[string]domain.InterfaceSignal),
		environments: make(map[string]domain.EnvironmentSignal),
		findings:     make(map[string]domain.SecurityFinding),
		perf:         make(map[string]*perfSeries),
		historySize:  defaultHistorySize,
	}
}

func gateKey(taskID, gate string) string { return taskID + "/" + gate }

// AddMerge сохраняет сигнал конфликта слияния.
func (s *SignalStore) AddMerge(sig domain.MergeSignal) error {
	if sig.Branch == "" || sig.Target == "" {
		return fmt.Errorf("%w: merge signal needs branch and target", ErrInvalidSignal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges[sig.Key()] = sig
	return nil
}

// AddGate сохраняет результаты проверок quality gate.
func (s *SignalStore) AddGate(sig domain.GateSignal) error {
	if sig.TaskID == "" || sig.Gate == "" {
		return fmt.Errorf("%w: gate signal needs task_id and gate", ErrInvalidSignal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[gateKey(sig.TaskID, sig.Gate)] = sig
	return nil
}

// AddInterface сохраняет сигнал изменения контракта.
func (s *SignalStore) AddInterface(sig domain.InterfaceSignal) error {
	if sig.Contract == "" {
		return fmt.Errorf("%w: interface signal needs contract", ErrInvalidSignal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfaces[sig.Contract] = sig
	return nil
}

// AddEnvironment сохраняет сравнение окружения.
func (s *SignalStore) AddEnvironment(sig domain.EnvironmentSignal) error {
	if sig.Environment == "" {
		return fmt.Errorf("%w: environment signal needs environment", ErrInvalidSignal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments[sig.Environment] = sig
	return nil
}

// AddFinding сохраняет находку сканера безопасности.
func (s *SignalStore) AddFinding(f domain.SecurityFinding) error {
	if f.ID == "" {
		return fmt.Errorf("%w: security finding needs id", ErrInvalidSignal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings[f.ID] = f
	return nil
}

// AddSample добавляет замер метрики.
//
// Базовая линия замера — среднее предыдущей истории, сам замер затем
// добавляется в историю (не больше historySize значений).
func (s *SignalStore) AddSample(sample domain.PerformanceSample) error {
	if sample.Metric == "" {
		return fmt.Errorf("%w: performance sample needs metric", ErrInvalidSignal)
	}
	if sample.At.IsZero() {
		sample.At = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.perf[sample.Metric]
	if !ok {
		series = &perfSeries{}
		s.perf[sample.Metric] = series
	}

	reading := PerformanceReading{Sample: sample}
	if n := len(series.history); n > 0 {
		var sum float64
		for _, v := range series.history {
			sum += v
		}
		reading.Baseline = sum / float64(n)
		reading.HasBaseline = true
	}
	series.latest = &reading

	series.history = append(series.history, sample.Value)
	if len(series.history) > s.historySize {
		series.history = series.history[len(series.history)-s.historySize:]
	}
	return nil
}

// Merges возвращает сигналы слияния, отсортированные по ключу.
func (s *SignalStore) Merges() []domain.MergeSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.merges)
}

// Gates возвращает сигналы quality gate.
func (s *SignalStore) Gates() []domain.GateSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.gates)
}

// Interfaces возвращает сигналы изменения контрактов.
func (s *SignalStore) Interfaces() []domain.InterfaceSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.interfaces)
}

// Environments возвращает сравнения окружений.
func (s *SignalStore) Environments() []domain.EnvironmentSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.environments)
}

// Findings возвращает находки сканера.
func (s *SignalStore) Findings() []domain.SecurityFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.findings)
}

// Performance возвращает последние замеры метрик, ещё не снятые Clear.
func (s *SignalStore) Performance() []PerformanceReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]string, 0, len(s.perf))
	for m, series := range s.perf {
		if series.latest != nil {
			metrics = append(metrics, m)
		}
	}
	sort.Strings(metrics)

	out := make([]PerformanceReading, 0, len(metrics))
	for _, m := range metrics {
		r := *s.perf[m].latest
		r.Sample.TaskIDs = slices.Clone(r.Sample.TaskIDs)
		out = append(out, r)
	}
	return out
}

// Clear удаляет сигнал. Для performance снимается только последний замер,
// история базовой линии сохраняется.
func (s *SignalStore) Clear(kind domain.SignalKind, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case domain.SignalMerge:
		return deleteKey(s.merges, key)
	case domain.SignalGate:
		return deleteKey(s.gates, key)
	case domain.SignalInterface:
		return deleteKey(s.interfaces, key)
	case domain.SignalEnvironment:
		return deleteKey(s.environments, key)
	case domain.SignalSecurity:
		return deleteKey(s.findings, key)
	case domain.SignalPerformance:
		series, ok := s.perf[key]
		if !ok || series.latest == nil {
			return false
		}
		series.latest = nil
		return true
	default:
		return false
	}
}

// ClearFor удаляет сигнал, породивший конфликт.
func (s *SignalStore) ClearFor(c *domain.Conflict) bool {
	kind := c.MetaString(MetaSignalKind)
	key := c.MetaString(MetaSignalKey)
	if kind == "" || key == "" {
		return false
	}
	return s.Clear(domain.SignalKind(kind), key)
}

// Counts возвращает число хранимых сигналов по видам.
func (s *SignalStore) Counts() map[domain.SignalKind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perf := 0
	for _, series := range s.perf {
		if series.latest != nil {
			perf++
		}
	}
	return map[domain.SignalKind]int{
		domain.SignalMerge:       len(s.merges),
		domain.SignalGate:        len(s.gates),
		domain.SignalInterface:   len(s.interfaces),
		domain.SignalEnvironment: len(s.environments),
		domain.SignalSecurity:    len(s.findings),
		domain.SignalPerformance: perf,
	}
}

func deleteKey[V any](m map[string]V, key string) bool {
	if _, ok := m[key]; !ok {
		return false
	}
	delete(m, key)
	return true
}

func sortedValues[V any](m map[string]V) []V {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
