package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	// ExchangeEvents — события оркестратора, routing key = тип события.
	ExchangeEvents Exchange = "orchestra.events"

	// ExchangeSignals — входящие сигналы (VCS, CI, сканеры, исполнители задач).
	ExchangeSignals Exchange = "orchestra.signals"

	ExchangeDLQ Exchange = "orchestra.dlq"
)

const (
	QueueSignals    Queue = "signals.inbound"
	QueueDLQSignals Queue = "dlq.signals"
)

// route — очередь и её единственная привязка.
type route struct {
	queue    Queue
	exchange Exchange
	key      RoutingKey

	// deadLetter — куда уходят отклонённые сообщения (пусто — никуда).
	deadLetter Exchange
}

var exchanges = []struct {
	name Exchange
	kind string
}{
	{ExchangeEvents, amqp.ExchangeTopic},
	{ExchangeSignals, amqp.ExchangeTopic},
	{ExchangeDLQ, amqp.ExchangeDirect},
}

var routes = []route{
	{queue: QueueSignals, exchange: ExchangeSignals, key: "#", deadLetter: ExchangeDLQ},
	{queue: QueueDLQSignals, exchange: ExchangeDLQ, key: "signals"},
}

// dlqKey возвращает ключ, с которым сообщения r попадают в DLQ.
func dlqKey(r route) RoutingKey {
	for _, d := range routes {
		if d.exchange == r.deadLetter {
			return d.key
		}
	}
	return ""
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			// durable, без auto-delete
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, r := range routes {
			var args amqp.Table
			if r.deadLetter != "" {
				args = amqp.Table{
					"x-dead-letter-exchange":    string(r.deadLetter),
					"x-dead-letter-routing-key": string(dlqKey(r)),
				}
			}
			if _, err := ch.QueueDeclare(string(r.queue), true, false, false, false, args); err != nil {
				return fmt.Errorf("declare queue %s: %w", r.queue, err)
			}
			if err := ch.QueueBind(string(r.queue), string(r.key), string(r.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", r.queue, r.exchange, err)
			}
		}
		return nil
	})
}
