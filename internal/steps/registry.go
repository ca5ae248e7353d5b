package steps

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry сопоставляет имени действия его реализацию. Потокобезопасен.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Step)}
}

// DefaultRegistry — реестр с notify и cooldown. Действия над графом и
// пулом регистрирует пакет conflict.
func DefaultRegistry(notify NotifyConfig) *Registry {
	r := NewRegistry()
	r.Register(NewNotifyStep(notify), NewCooldownStep())
	return r
}

// Register добавляет действия, заменяя одноимённые.
func (r *Registry) Register(steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range steps {
		r.actions[s.Type()] = s
	}
}

// Get возвращает действие по имени.
func (r *Registry) Get(action string) (Step, error) {
	r.mu.RLock()
	s, ok := r.actions[action]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, action)
	}
	return s, nil
}

// Actions возвращает имена зарегистрированных действий по алфавиту.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.actions))
}
