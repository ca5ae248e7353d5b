// Package telemetry — логирование и метрики Orchestra.
//
// SetupLogger строит slog.Logger из секции log конфигурации (уровень и
// формат json/text), WithTaskID/WithWorkerID/WithConflictID добавляют
// атрибуты. Metrics — Prometheus реестр: счётчики событий, число задач
// по статусам, активные конфликты, длительность цикла. Metrics реализует
// events.Sink и подписывается на шину событий.
package telemetry
