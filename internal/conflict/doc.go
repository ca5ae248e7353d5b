// Package conflict обнаруживает и разрешает конфликты оркестрации.
//
// Включает:
//   - signals.go    — хранилище внешних сигналов (VCS, CI, сканер, метрики)
//   - detector.go   — девять параллельных проверок с таймаутом на каждую
//   - store.go      — активные и разрешённые конфликты, дедупликация по отпечатку
//   - strategies.go — выбор стратегии и оценка уверенности
//   - plan.go       — шаблоны планов разрешения
//   - actions.go    — автоматические шаги планов над графом и пулом
//   - resolver.go   — исполнение плана, ожидание оператора, учёт исходов
//   - patterns.go   — история конфликтов по типам
//
// Конфликт создаётся детектором и изменяется только resolver'ом.
// Повторное обнаружение активного конфликта с тем же отпечатком
// не создаёт новый конфликт.
package conflict
