package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — канал недоступен (соединение разорвано или закрыто).
var ErrNoChannel = errors.New("no channel available")

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Connection держит AMQP соединение и один канал к RabbitMQ.
// При разрыве соединение восстанавливается в фоне, а потребители узнают
// об этом через Reconnected.
type Connection struct {
	url    string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel

	done        chan struct{}
	closeOnce   sync.Once
	reconnected chan struct{}
}

// NewConnection подключается к RabbitMQ. Первая попытка синхронная:
// ошибка возвращается вызывающему.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         url,
		logger:      logger.With("component", "mq"),
		done:        make(chan struct{}),
		reconnected: make(chan struct{}, 1),
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	c.logger.Info("connected to rabbitmq")

	go c.keepAlive()
	return c, nil
}

func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	return nil
}

// keepAlive ждёт разрыва соединения и переподключается до Close.
func (c *Connection) keepAlive() {
	for {
		c.mu.RLock()
		lost := c.conn.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.RUnlock()

		select {
		case <-c.done:
			return
		case err := <-lost:
			c.logger.Warn("connection closed", "error", err)
		}

		if !c.redial() {
			return
		}
		c.logger.Info("reconnected to rabbitmq")
		select {
		case c.reconnected <- struct{}{}:
		default:
		}
	}
}

// redial повторяет dial с растущей паузой. false — соединение закрыто.
func (c *Connection) redial() bool {
	delay := minReconnectDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return false
		case <-timer.C:
		}

		err := c.dial()
		if err == nil {
			return true
		}
		delay = nextDelay(delay)
		c.logger.Warn("reconnect failed", "error", err, "next_delay", delay)
		timer.Reset(delay)
	}
}

func nextDelay(d time.Duration) time.Duration {
	return min(d*2, maxReconnectDelay)
}

// Channel возвращает текущий канал (nil, если соединения ещё не было).
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ch
}

// Reconnected сигнализирует о восстановлении соединения.
func (c *Connection) Reconnected() <-chan struct{} {
	return c.reconnected
}

// WithChannel выполняет fn с текущим открытым каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает канал и соединение. Повторный вызов — no-op.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch != nil {
			if cerr := c.ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = errors.Join(err, fmt.Errorf("close channel: %w", cerr))
			}
		}
		if c.conn != nil {
			if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = errors.Join(err, fmt.Errorf("close connection: %w", cerr))
			}
		}
		c.logger.Info("rabbitmq connection closed")
	})
	return err
}
