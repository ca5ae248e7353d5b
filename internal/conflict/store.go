package conflict

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

const defaultResolvedLimit = 1000

type entry struct {
	mu        sync.Mutex
	c         *domain.Conflict
	resolving bool
}

// StoreConfig — конфигурация Store.
type StoreConfig struct {
	// Cooldown — сколько после разрешения конфликт с тем же отпечатком
	// не создаётся повторно. 0 — без паузы.
	Cooldown time.Duration

	// ResolvedLimit — сколько разрешённых конфликтов хранится в памяти (default: 1000).
	ResolvedLimit int

	Now func() time.Time
}

// Store хранит активные и разрешённые конфликты.
//
// Активные конфликты дедуплицируются по отпечатку. Каждый конфликт
// изменяется под собственным мьютексом; мьютекс хранилища держится
// только для доступа к индексам.
type Store struct {
	mu sync.RWMutex

	active        map[string]*entry
	byFingerprint map[string]string
	resolved      []*domain.Conflict
	resolvedByID  map[string]*domain.Conflict
	suppressed    map[string]time.Time

	cooldown      time.Duration
	resolvedLimit int
	now           func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore(cfg StoreConfig) *Store {
	if cfg.ResolvedLimit <= 0 {
		cfg.ResolvedLimit = defaultResolvedLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		active:        make(map[string]*entry),
		byFingerprint: make(map[string]string),
		resolvedByID:  make(map[string]*domain.Conflict),
		suppressed:    make(map[string]time.Time),
		cooldown:      cfg.Cooldown,
		resolvedLimit: cfg.ResolvedLimit,
		now:           cfg.Now,
	}
}

// Upsert добавляет конфликт, если активного конфликта с тем же отпечатком нет.
// Возвращает сохранённую копию и true для нового конфликта; для дубликата —
// копию существующего и false. Конфликт в паузе после разрешения возвращает (nil, false).
func (s *Store) Upsert(c *domain.Conflict) (*domain.Conflict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byFingerprint[c.Fingerprint]; ok {
		e := s.active[id]
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.c.Clone(), false
	}

	if until, ok := s.suppressed[c.Fingerprint]; ok {
		if s.now().Before(until) {
			return nil, false
		}
		delete(s.suppressed, c.Fingerprint)
	}

	stored := c.Clone()
	s.active[stored.ID] = &entry{c: stored}
	s.byFingerprint[stored.Fingerprint] = stored.ID
	return stored.Clone(), true
}

// Get возвращает конфликт по ID (активный или разрешённый).
func (s *Store) Get(id string) (*domain.Conflict, error) {
	s.mu.RLock()
	e, ok := s.active[id]
	res, resolved := s.resolvedByID[id]
	s.mu.RUnlock()

	switch {
	case ok:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.c.Clone(), nil
	case resolved:
		return res.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
}

// Active возвращает активные конфликты по времени обнаружения.
func (s *Store) Active() []*domain.Conflict {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.active))
	for _, e := range s.active {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*domain.Conflict, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.c.Clone())
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount возвращает число активных конфликтов.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Resolved возвращает последние limit разрешённых конфликтов (0 — все),
// от старых к новым.
func (s *Store) Resolved(limit int) []*domain.Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.resolved
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]*domain.Conflict, len(src))
	for i, c := range src {
		out[i] = c.Clone()
	}
	return out
}

// Update изменяет активный конфликт под его мьютексом.
// fn получает копию; изменения фиксируются, только если fn вернула nil.
func (s *Store) Update(id string, fn func(c *domain.Conflict) error) (*domain.Conflict, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	draft := e.c.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	e.c = draft
	return draft.Clone(), nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.active[id]; ok {
		return e, nil
	}
	if _, ok := s.resolvedByID[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, id)
}

// Begin отмечает начало разрешения. Одновременно конфликт разрешается
// не больше одного раза.
func (s *Store) Begin(id string) (*domain.Conflict, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolving {
		return nil, fmt.Errorf("%w: %s", ErrResolutionInProgress, id)
	}
	e.resolving = true
	return e.c.Clone(), nil
}

// End снимает отметку разрешения.
func (s *Store) End(id string) {
	e, err := s.lookup(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.resolving = false
	e.mu.Unlock()
}

// Resolving возвращает true, если конфликт сейчас разрешается.
func (s *Store) Resolving(id string) bool {
	e, err := s.lookup(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolving
}

// MarkResolved переводит конфликт в набор разрешённых.
func (s *Store) MarkResolved(id string, res *domain.Resolution) (*domain.Conflict, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	now := s.now().UTC()
	c := e.c.Clone()
	c.ResolvedAt = &now
	if res != nil {
		c.Resolution = res.Clone()
	}
	e.c = c
	e.resolving = false
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, id)
	delete(s.byFingerprint, c.Fingerprint)
	if s.cooldown > 0 {
		s.suppressed[c.Fingerprint] = now.Add(s.cooldown)
	}
	s.appendResolved(c)

	return c.Clone(), nil
}

// Restore добавляет в набор разрешённых конфликт из архива. Если пауза
// после разрешения ещё не истекла, отпечаток снова подавляется.
func (s *Store) Restore(c *domain.Conflict) {
	if !c.IsResolved() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolvedByID[c.ID]; ok {
		return
	}
	s.appendResolved(c.Clone())

	if s.cooldown <= 0 || c.Fingerprint == "" {
		return
	}
	until := c.ResolvedAt.Add(s.cooldown)
	if until.After(s.now()) && until.After(s.suppressed[c.Fingerprint]) {
		s.suppressed[c.Fingerprint] = until
	}
}

func (s *Store) appendResolved(c *domain.Conflict) {
	s.resolved = append(s.resolved, c)
	s.resolvedByID[c.ID] = c
	if len(s.resolved) > s.resolvedLimit {
		evicted := s.resolved[0]
		s.resolved = s.resolved[1:]
		delete(s.resolvedByID, evicted.ID)
	}
}
