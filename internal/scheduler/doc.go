// Package scheduler назначает задачи исполнителям.
//
// Структура:
//   - scheduler.go — очередь готовых задач, Assign/AssignBest, Rebalance
//   - cron.go      — разбор периодичности циклов (robfig/cron)
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Graph:  graph,
//	    Pool:   pool,
//	    Sink:   bus,
//	    Logger: logger,
//	})
//
//	res := sched.SchedulePending()
//	moves := sched.Rebalance()
//
// Порядок блокировок: задача → исполнитель(и). Assign резервирует слот
// внутри graph.Update, поэтому смена статуса задачи и загрузки исполнителя
// происходят атомарно относительно других назначений этой задачи.
// События отправляются после снятия блокировок.
package scheduler
