// Package steps выполняет автоматические шаги планов разрешения конфликтов.
//
// # Действия
//
// Каждый автоматический шаг плана ссылается на действие (Step) по имени.
// Registry хранит действия; стандартные:
//
//   - notify   — JSON-сообщение во внешний webhook, текст из шаблона
//   - cooldown — пауза перед повторной проверкой
//
// Действия, которым нужен граф задач или пул исполнителей (перебалансировка,
// перестройка зависимостей, очистка сигналов), регистрирует пакет conflict
// через Func.
//
// # Executor
//
// Executor рендерит конфигурацию шага через text/template (данные из
// Request.Vars), ограничивает попытку таймаутом и повторяет её с
// экспоненциальной задержкой:
//
//	delay = InitialDelay * 2^(attempt-1), не больше MaxDelay
//
// Не повторяются ошибки конфигурации (ErrInvalidConfig), проваленные
// проверки (ErrCheckFailed) и отмена контекста.
//
// # Шаблоны
//
// Render и TemplateFuncs (json, default, join, upper, pct, hours, date)
// используются также для текстового отчёта оркестратора.
package steps
