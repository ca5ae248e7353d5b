// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий и сигналов, EventSink для шины событий
//   - consumer.go   — потребление сообщений с ack/nack/DLQ
//
// Exchanges:
//   - orchestra.events  — события оркестратора (task.*, conflict.*, system.*)
//   - orchestra.signals — входящие сигналы (signal.*) и отчёты исполнителей (task.*)
//   - orchestra.dlq     — dead letter queue
package mq
