package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Orchestra/internal/domain"
)

// MessageType — тип сообщения. Совпадает с routing key.
type MessageType string

// Типы входящих сигналов.
const (
	MessageSignalMerge       MessageType = "signal.merge"
	MessageSignalGate        MessageType = "signal.gate"
	MessageSignalPerformance MessageType = "signal.performance"
	MessageSignalSecurity    MessageType = "signal.security"
	MessageSignalInterface   MessageType = "signal.interface"
	MessageSignalEnvironment MessageType = "signal.environment"

	// Отчёты исполнителя задач.
	MessageTaskProgress  MessageType = "task.progress"
	MessageTaskCompleted MessageType = "task.completed"
	MessageTaskFailed    MessageType = "task.failed"
)

// SignalMessageType возвращает тип сообщения для вида сигнала.
func SignalMessageType(kind domain.SignalKind) MessageType {
	return MessageType("signal." + string(kind))
}

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(t MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// TaskProgressPayload — прогресс задачи от исполнителя.
type TaskProgressPayload struct {
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
	Note     string `json:"note,omitempty"`
}

// TaskResultPayload — завершение или отказ задачи.
type TaskResultPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`

	// Metrics — значения критериев quality gate, если фаза с проверкой.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishEvent публикует событие оркестратора в orchestra.events.
func (p *Publisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKey(ev.Type), EventMessage(ev))
}

// EventMessage заворачивает событие в конверт. ID сообщения = ID события.
func EventMessage(ev domain.Event) *Message {
	return &Message{
		ID:        ev.ID,
		Type:      MessageType(ev.Type),
		Payload:   ev,
		Timestamp: ev.Timestamp,
	}
}

// EventSink — events.Sink, публикующий события в RabbitMQ.
//
// Ошибки публикации логируются и не прерывают раздачу событий.
type EventSink struct {
	Publisher *Publisher

	// Timeout — ограничение на публикацию одного события (default: 5s).
	Timeout time.Duration
}

// Emit реализует events.Sink.
func (s *EventSink) Emit(ev domain.Event) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Publisher.PublishEvent(ctx, ev); err != nil {
		s.Publisher.logger.Warn("failed to publish event",
			"event", ev.Type,
			"event_id", ev.ID,
			"error", err,
		)
	}
}
