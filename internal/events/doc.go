// Package events — исходящий поток событий оркестратора.
//
// Компоненты ядра не знают о конкретном транспорте: они получают Sink
// и вызывают Emit. Bus буферизует события и раздаёт их подписчикам
// (лог, RabbitMQ, метрики, журнал последних событий для API) в отдельной
// горутине, поэтому Emit никогда не блокирует вызывающего дольше таймаута.
package events
