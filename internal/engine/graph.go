package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Orchestra/internal/domain"
)

// node — узел графа.
//
// mu защищает task. status дублирует task.Status и читается атомарно,
// чтобы проверка готовности не требовала блокировки задач-зависимостей.
type node struct {
	mu     sync.Mutex
	task   *domain.Task
	status atomic.Value // domain.TaskStatus
	seq    int
}

func (n *node) loadStatus() domain.TaskStatus {
	return n.status.Load().(domain.TaskStatus)
}

// Config — конфигурация графа.
type Config struct {
	Logger *slog.Logger
}

// Graph — граф зависимостей задач.
//
// Прямые рёбра (задача → её зависимости) и обратные (задача → зависимые)
// всегда симметричны. Структура графа защищена mu, каждая задача — своим
// мьютексом. Порядок блокировок: задача → структура (mu берётся только
// на короткие чтения), никогда наоборот.
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]*node
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
	seq        int

	logger *slog.Logger
}

// New создаёт пустой граф.
func New(cfg Config) *Graph {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Graph{
		nodes:      make(map[string]*node),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		logger:     cfg.Logger,
	}
}

// AddTask валидирует спецификацию и добавляет задачу в граф.
//
// Отклоняет зависимость от самой себя и ссылки на несуществующие задачи.
// Если ID не задан, генерируется UUID. Возвращает ID задачи.
func (g *Graph) AddTask(spec domain.TaskSpec) (string, error) {
	if err := ValidateSpec(&spec); err != nil {
		return "", err
	}

	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[spec.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTask, spec.ID)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := g.nodes[dep]; !ok {
			return "", fmt.Errorf("%w: %s → %s", ErrUnknownDependency, spec.ID, dep)
		}
	}

	task := newTask(spec)

	n := &node{task: task, seq: g.seq}
	n.status.Store(task.Status)
	g.seq++

	g.nodes[task.ID] = n
	g.deps[task.ID] = make(map[string]struct{})
	g.dependents[task.ID] = make(map[string]struct{})
	for _, dep := range spec.Dependencies {
		g.addEdge(task.ID, dep)
	}

	g.logger.Debug("task added to graph",
		"task_id", task.ID,
		"dependencies", len(spec.Dependencies),
	)

	return task.ID, nil
}

// AddTasks добавляет набор задач. Набор валидируется целиком до первой
// вставки: при ошибке граф не меняется.
func (g *Graph) AddTasks(specs []domain.TaskSpec) ([]string, error) {
	if err := ValidateBatch(specs, g.Has); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id, err := g.AddTask(spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// newTask создаёт задачу из спецификации с значениями по умолчанию.
func newTask(spec domain.TaskSpec) *domain.Task {
	if spec.Phase == "" {
		spec.Phase = domain.PhaseImplementation
	}
	if spec.Priority == "" {
		spec.Priority = domain.PriorityMedium
	}
	if spec.Complexity == "" {
		spec.Complexity = domain.ComplexityModerate
	}

	return &domain.Task{
		ID:                   spec.ID,
		Name:                 spec.Name,
		Description:          spec.Description,
		Phase:                spec.Phase,
		Priority:             spec.Priority,
		Complexity:           spec.Complexity,
		EstimatedHours:       spec.EstimatedHours,
		RequiredCapabilities: slices.Clone(spec.RequiredCapabilities),
		Parallelizable:       spec.Parallelizable,
		CriticalPath:         spec.CriticalPath,
		Status:               domain.TaskStatusPending,
		CreatedAt:            time.Now().UTC(),
		Metadata:             spec.Metadata,
	}
}

// AddDependency добавляет ребро "taskID зависит от depID".
//
// Циклы не отклоняются: они обнаруживаются детектором как конфликт.
func (g *Graph) AddDependency(taskID, depID string) error {
	if taskID == depID {
		return fmt.Errorf("%w: %s", ErrSelfDependency, taskID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if _, ok := g.nodes[depID]; !ok {
		return fmt.Errorf("%w: %s → %s", ErrUnknownDependency, taskID, depID)
	}

	g.addEdge(taskID, depID)
	return nil
}

// RemoveDependency удаляет ребро "taskID зависит от depID".
func (g *Graph) RemoveDependency(taskID, depID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[taskID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if _, ok := g.nodes[depID]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, depID)
	}

	delete(g.deps[taskID], depID)
	delete(g.dependents[depID], taskID)
	return nil
}

// addEdge добавляет ребро в обе карты. Вызывается под g.mu.
func (g *Graph) addEdge(taskID, depID string) {
	g.deps[taskID][depID] = struct{}{}
	g.dependents[depID][taskID] = struct{}{}
}

// RemoveTask удаляет задачу, от которой никто не зависит и которая
// не занимает исполнителя.
func (g *Graph) RemoveTask(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if len(g.dependents[id]) > 0 {
		return fmt.Errorf("%w: %s", ErrHasDependents, id)
	}
	if n.loadStatus().IsActive() {
		return fmt.Errorf("%w: %s", ErrTaskActive, id)
	}

	for dep := range g.deps[id] {
		delete(g.dependents[dep], id)
	}
	delete(g.deps, id)
	delete(g.dependents, id)
	delete(g.nodes, id)
	return nil
}

// Has проверяет наличие задачи.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Len возвращает количество задач.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// lookup возвращает узел и отсортированный список зависимостей.
func (g *Graph) lookup(id string) (*node, []string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, nil, false
	}
	return n, sortedKeys(g.deps[id]), true
}

// Get возвращает копию задачи.
func (g *Graph) Get(id string) (*domain.Task, error) {
	n, deps, ok := g.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	n.mu.Lock()
	t := n.task.Clone()
	n.mu.Unlock()

	t.Dependencies = deps
	return t, nil
}

// Status возвращает текущий статус задачи без блокировки задачи.
func (g *Graph) Status(id string) (domain.TaskStatus, bool) {
	g.mu.RLock()
	n, ok := g.nodes[id]
	g.mu.RUnlock()
	if !ok {
		return "", false
	}
	return n.loadStatus(), true
}

// List возвращает копии всех задач в порядке добавления.
func (g *Graph) List() []*domain.Task {
	type entry struct {
		n    *node
		deps []string
	}

	g.mu.RLock()
	entries := make([]entry, 0, len(g.nodes))
	for id, n := range g.nodes {
		entries = append(entries, entry{n: n, deps: sortedKeys(g.deps[id])})
	}
	g.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].n.seq < entries[j].n.seq })

	out := make([]*domain.Task, 0, len(entries))
	for _, e := range entries {
		e.n.mu.Lock()
		t := e.n.task.Clone()
		e.n.mu.Unlock()
		t.Dependencies = e.deps
		out = append(out, t)
	}
	return out
}

// Update изменяет задачу под её мьютексом.
//
// fn получает копию задачи; изменения фиксируются, только если fn вернула nil.
// Зависимости меняются только через AddDependency/RemoveDependency, правки
// t.Dependencies внутри fn игнорируются. Возвращает зафиксированную копию.
func (g *Graph) Update(id string, fn func(t *domain.Task) error) (*domain.Task, error) {
	n, deps, ok := g.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	draft := n.task.Clone()
	draft.Dependencies = deps
	if err := fn(draft); err != nil {
		return nil, err
	}

	draft.Dependencies = nil
	n.task = draft
	n.status.Store(draft.Status)

	out := draft.Clone()
	out.Dependencies = deps
	return out, nil
}

// Dependencies возвращает ID прямых зависимостей задачи.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.deps[id])
}

// Dependents возвращает ID задач, напрямую зависящих от id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[id])
}

// DependentsClosure возвращает все задачи, транзитивно зависящие от ids.
// Сами ids в результат не входят.
func (g *Graph) DependentsClosure(ids ...string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := make(map[string]bool, len(ids))
	for _, id := range ids {
		start[id] = true
	}

	seen := make(map[string]bool)
	queue := slices.Clone(ids)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for dep := range g.dependents[id] {
			if seen[dep] || start[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)
		}
	}

	return sortedKeys(seen)
}

// IsReady возвращает true, если все зависимости задачи завершены.
// Для неизвестной задачи возвращает false.
func (g *Graph) IsReady(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for dep := range g.deps[id] {
		if g.nodes[dep].loadStatus() != domain.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UnlockDependents возвращает ожидающие задачи, зависящие от id,
// которые стали готовыми (все их зависимости завершены).
func (g *Graph) UnlockDependents(id string) []string {
	ready := make([]string, 0)
	for _, dep := range g.Dependents(id) {
		st, ok := g.Status(dep)
		if !ok || st != domain.TaskStatusPending {
			continue
		}
		if g.IsReady(dep) {
			ready = append(ready, dep)
		}
	}
	return ready
}

// FindCycles ищет циклы поиском в глубину со стеком рекурсии.
//
// Обход идёт по рёбрам "задача → зависимость" в порядке сортировки ID,
// поэтому результат детерминирован. Когда обход встречает узел, который
// уже в стеке, путь от этого узла до текущего возвращается как один цикл.
// Повороты одного цикла сводятся к форме, начинающейся с минимального ID.
func (g *Graph) FindCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.nodes))
	stack := make([]string, 0)
	index := make(map[string]int)
	seen := make(map[string]bool)
	cycles := make([][]string, 0)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		index[id] = len(stack)
		stack = append(stack, id)

		for _, dep := range sortedKeys(g.deps[id]) {
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				cycle := canonicalCycle(stack[index[dep]:])
				key := fmt.Sprint(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(index, id)
		color[id] = black
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}

	return cycles
}

// canonicalCycle поворачивает цикл так, чтобы он начинался с минимального ID.
func canonicalCycle(path []string) []string {
	minIdx := 0
	for i, id := range path {
		if id < path[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(path))
	out = append(out, path[minIdx:]...)
	out = append(out, path[:minIdx]...)
	return out
}

// CriticalPath — самая длинная по оставшимся часам цепочка зависимостей.
type CriticalPath struct {
	Tasks []string `json:"tasks"`
	Hours float64  `json:"hours"`
}

// CriticalPath вычисляет критический путь по оставшимся трудозатратам.
//
// Вес задачи — оценка × (100 − прогресс) / 100; завершённые и отменённые
// задачи весят 0. Порядок строится алгоритмом Кана. Если в графе есть цикл,
// возвращаются задачи с флагом critical_path.
func (g *Graph) CriticalPath() CriticalPath {
	tasks := g.List()
	byID := make(map[string]*domain.Task, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		inDegree[t.ID] = len(t.Dependencies)
	}

	// Очередь узлов без зависимостей, в порядке добавления
	queue := make([]string, 0)
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	order := make([]string, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dep := range g.Dependents(id) {
			if _, ok := inDegree[dep]; !ok {
				continue
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(tasks) {
		var flagged CriticalPath
		for _, t := range tasks {
			if t.CriticalPath && !t.Status.IsTerminal() {
				flagged.Tasks = append(flagged.Tasks, t.ID)
				flagged.Hours += remainingHours(t)
			}
		}
		return flagged
	}

	dist := make(map[string]float64, len(order))
	prev := make(map[string]string, len(order))
	var best string
	for _, id := range order {
		t := byID[id]
		d := remainingHours(t)
		for _, dep := range t.Dependencies {
			if dist[dep]+remainingHours(t) > d {
				d = dist[dep] + remainingHours(t)
				prev[id] = dep
			}
		}
		dist[id] = d
		if best == "" || d > dist[best] {
			best = id
		}
	}

	if best == "" || dist[best] == 0 {
		return CriticalPath{Tasks: []string{}}
	}

	path := make([]string, 0)
	for id := best; id != ""; id = prev[id] {
		path = append(path, id)
	}
	slices.Reverse(path)

	return CriticalPath{Tasks: path, Hours: dist[best]}
}

// remainingHours возвращает оставшиеся часы работы по задаче.
func remainingHours(t *domain.Task) float64 {
	switch t.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusCancelled:
		return 0
	}
	return t.EstimatedHours * float64(100-t.Progress) / 100
}

// RemainingHours — сумма оставшихся часов по всем нефинальным задачам.
func (g *Graph) RemainingHours() float64 {
	var total float64
	for _, t := range g.List() {
		if t.Status.IsTerminal() {
			continue
		}
		total += remainingHours(t)
	}
	return total
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
