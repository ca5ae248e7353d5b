// Package api содержит HTTP API оркестратора.
//
// Структура:
//   - handler.go          — Handler с DI (оркестратор, архив, метрики, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, ограничение тела)
//   - response.go         — унифицированные JSON-ответы и отображение ошибок в статусы
//   - dto.go              — Data Transfer Objects (request/response)
//   - task_handler.go     — обработчики для /tasks и /batches
//   - worker_handler.go   — обработчики для /workers
//   - conflict_handler.go — обработчики для /conflicts, /actions, /patterns
//   - system_handler.go   — дашборд, отчёт, сигналы, события, цикл по запросу
//
// Ошибки ядра отображаются так: неизвестная сущность — 404, некорректный
// запрос — 400, конфликт состояния (уже назначена, уже разрешён) — 409,
// недопустимый переход или невыполненное условие — 422.
package api
