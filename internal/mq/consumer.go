package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformed — сообщение нельзя обработать ни при каком повторе.
// Handler возвращает его (обёрнутым), чтобы сообщение ушло в DLQ без requeue.
var ErrMalformed = errors.New("malformed message")

// Handler — обработчик сообщения.
// nil — ack; ошибка с ErrMalformed — nack в DLQ; иная ошибка — nack с requeue.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer читает очередь и передаёт сообщения обработчику.
type Consumer struct {
	conn *Connection
	cfg  ConsumerConfig
	log  *slog.Logger

	stop context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держит брокер (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer поверх соединения.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn: conn,
		cfg:  cfg,
		log:  logger.With("queue", cfg.Queue),
	}
}

// Start читает очередь до отмены ctx или Stop. После разрыва соединения
// чтение возобновляется, когда Connection переподключится.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.stop = context.WithCancel(ctx)

	for {
		if err := c.consume(ctx); err != nil {
			c.log.Error("failed to setup consume", "error", err)
		} else if ctx.Err() == nil {
			c.log.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Reconnected():
		}
	}
}

// consume подписывается на очередь и обрабатывает доставки, пока канал
// доставок открыт.
func (c *Consumer) consume(ctx context.Context) error {
	ch := c.conn.Channel()
	if ch == nil {
		return ErrNoChannel
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	// ручной ack, без эксклюзивности
	deliveries, err := ch.Consume(string(c.cfg.Queue), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.log.Error("failed to unmarshal message", "error", err)
		raw.Nack(false, false)
		return
	}
	if msg.Type == "" {
		msg.Type = MessageType(raw.RoutingKey)
	}

	err := c.cfg.Handler(ctx, &Delivery{Message: msg, Raw: raw})
	switch ack := Decide(err); ack {
	case AckOK:
		raw.Ack(false)
	default:
		c.log.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		// повторно доставленное сообщение уходит в DLQ
		raw.Nack(false, ack == AckRequeue && !raw.Redelivered)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.stop != nil {
		c.stop()
	}
}

// AckDecision — судьба сообщения после обработки.
type AckDecision int

const (
	AckOK AckDecision = iota
	AckRequeue
	AckDeadLetter
)

// Decide переводит результат обработчика в решение ack/nack.
func Decide(err error) AckDecision {
	switch {
	case err == nil:
		return AckOK
	case errors.Is(err, ErrMalformed):
		return AckDeadLetter
	default:
		return AckRequeue
	}
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// после json.Unmarshal в Message payload — map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("%w: marshal payload: %w", ErrMalformed, err)
	}
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("%w: unmarshal payload: %w", ErrMalformed, err)
	}
	return result, nil
}
