// Package orchestrator связывает граф задач, пул исполнителей, планировщик,
// супервизор и подсистему конфликтов в один цикл оркестрации.
//
// Цикл по расписанию (cron или @every):
//   - назначает готовые задачи (scheduler.SchedulePending)
//   - обнаруживает конфликты, блокирует выполняющиеся задачи и
//     запускает авторазрешение
//   - перебалансирует перегруженных исполнителей
//   - обновляет метрики Prometheus и снимок дашборда
//
// Ошибка или паника любого подшага становится событием system.error,
// цикл продолжается. Каждый цикл публикует system.heartbeat.
//
// Сигналы внешних систем и отчёты исполнителей принимаются через
// IngestSignal, ReportProgress и ReportCompleted (HTTP) или из очереди
// RabbitMQ signals.inbound. Разрешённый конфликт снимает блокировки задач,
// удаляет породивший его сигнал и сохраняется в архив.
package orchestrator
