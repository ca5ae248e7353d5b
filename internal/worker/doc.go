// Package worker содержит пул исполнителей и оценку назначения.
//
// # Pool
//
// Pool — единственный владелец записей исполнителей. Каждый исполнитель
// защищён собственным мьютексом, поэтому операции над разными
// исполнителями не блокируют друг друга.
//
//	pool := worker.New(worker.Config{Logger: logger})
//	id, err := pool.Register(domain.WorkerSpec{
//	    Name:               "backend-1",
//	    Type:               domain.WorkerTypeBackend,
//	    Capabilities:       []string{"go", "sql"},
//	    MaxConcurrentTasks: 3,
//	})
//
// Загрузка всегда равна min(100, 100 × len(CurrentTasks) / MaxConcurrentTasks)
// и пересчитывается в Reserve, Release, Transfer и SetCapacity.
//
// # Статусы
//
//   - available  — есть свободные слоты
//   - busy       — все слоты заняты
//   - overloaded — задач больше лимита (после SetCapacity)
//   - offline, maintenance — выставляются вручную и не пересчитываются
//
// # Оценка
//
// FindBestWorker отбирает исполнителей со статусом available, загрузкой
// ниже 90% и полным набором навыков, затем выбирает максимум
//
//	0.4 × skillMatch + 0.3 × (1 − workload/100) + 0.3 × reliability
//
// При равенстве побеждает исполнитель, зарегистрированный раньше.
package worker
