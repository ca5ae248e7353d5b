package conflict

import (
	"context"
	"maps"
	"sync"

	"github.com/shaiso/Orchestra/internal/domain"
)

// PatternStore — история конфликтов по типам: частота и исходы стратегий.
// Реализации: MemoryPatterns и repo.ConflictRepo (PostgreSQL).
type PatternStore interface {
	// RecordDetection увеличивает частоту типа.
	RecordDetection(ctx context.Context, t domain.ConflictType) error

	// RecordOutcome учитывает успех или неудачу стратегии.
	RecordOutcome(ctx context.Context, t domain.ConflictType, s domain.Strategy, success bool) error

	// Pattern возвращает историю типа. Для неизвестного типа — пустую.
	Pattern(ctx context.Context, t domain.ConflictType) (domain.ConflictPattern, error)

	// Patterns возвращает историю всех встреченных типов.
	Patterns(ctx context.Context) ([]domain.ConflictPattern, error)
}

// MemoryPatterns — PatternStore в памяти процесса.
type MemoryPatterns struct {
	mu       sync.Mutex
	patterns map[domain.ConflictType]*domain.ConflictPattern
}

// NewMemoryPatterns создаёт пустое хранилище.
func NewMemoryPatterns() *MemoryPatterns {
	return &MemoryPatterns{patterns: make(map[domain.ConflictType]*domain.ConflictPattern)}
}

func (m *MemoryPatterns) get(t domain.ConflictType) *domain.ConflictPattern {
	p, ok := m.patterns[t]
	if !ok {
		p = &domain.ConflictPattern{
			Type:      t,
			Successes: make(map[domain.Strategy]int),
			Failures:  make(map[domain.Strategy]int),
		}
		m.patterns[t] = p
	}
	return p
}

// RecordDetection реализует PatternStore.
func (m *MemoryPatterns) RecordDetection(_ context.Context, t domain.ConflictType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(t).Frequency++
	return nil
}

// RecordOutcome реализует PatternStore.
func (m *MemoryPatterns) RecordOutcome(_ context.Context, t domain.ConflictType, s domain.Strategy, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.get(t)
	if success {
		p.Successes[s]++
	} else {
		p.Failures[s]++
	}
	return nil
}

// Pattern реализует PatternStore.
func (m *MemoryPatterns) Pattern(_ context.Context, t domain.ConflictType) (domain.ConflictPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePattern(m.get(t)), nil
}

// Patterns реализует PatternStore. Порядок — как в domain.AllConflictTypes.
func (m *MemoryPatterns) Patterns(_ context.Context) ([]domain.ConflictPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ConflictPattern, 0, len(m.patterns))
	for _, t := range domain.AllConflictTypes {
		if p, ok := m.patterns[t]; ok {
			out = append(out, clonePattern(p))
		}
	}
	return out, nil
}

func clonePattern(p *domain.ConflictPattern) domain.ConflictPattern {
	return domain.ConflictPattern{
		Type:      p.Type,
		Frequency: p.Frequency,
		Successes: maps.Clone(p.Successes),
		Failures:  maps.Clone(p.Failures),
	}
}
