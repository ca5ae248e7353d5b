package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

// Значения по умолчанию.
const (
	defaultBufferSize  = 1024
	defaultSendTimeout = 100 * time.Millisecond
)

// BusConfig — конфигурация шины событий.
type BusConfig struct {
	// BufferSize — размер буфера канала (default: 1024).
	BufferSize int

	// SendTimeout — сколько Emit ждёт места в полном буфере перед сбросом (default: 100ms).
	SendTimeout time.Duration

	// OnDrop вызывается при сбросе события (например, счётчик метрик).
	OnDrop func(ev domain.Event)

	Logger *slog.Logger
}

// Bus — буферизованная шина событий.
//
// Emit кладёт событие в канал; если канал полон, ждёт SendTimeout и
// сбрасывает событие. Отдельная горутина раздаёт события подписчикам.
type Bus struct {
	events      chan domain.Event
	sendTimeout time.Duration
	onDrop      func(domain.Event)

	subsMu sync.RWMutex
	subs   []Sink

	closeMu sync.RWMutex
	closed  bool

	dropped atomic.Uint64
	done    chan struct{}
	logger  *slog.Logger
}

// NewBus создаёт шину. Раздача начинается после Run.
func NewBus(cfg BusConfig) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		events:      make(chan domain.Event, cfg.BufferSize),
		sendTimeout: cfg.SendTimeout,
		onDrop:      cfg.OnDrop,
		done:        make(chan struct{}),
		logger:      cfg.Logger,
	}
}

// Subscribe добавляет подписчика.
func (b *Bus) Subscribe(s Sink) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.subs = append(b.subs, s)
}

// Emit реализует Sink. После Close события молча отбрасываются.
func (b *Bus) Emit(ev domain.Event) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	select {
	case b.events <- ev:
	case <-timer.C:
		count := b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(ev)
		}
		// Логируем каждый десятый сброс
		if count%10 == 1 {
			b.logger.Warn("event buffer full, event dropped",
				"type", ev.Type,
				"dropped_total", count,
			)
		}
	}
}

// Dropped возвращает число сброшенных событий.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run раздаёт события подписчикам до закрытия шины.
// Оставшиеся в буфере события доставляются перед выходом.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.dispatch(ev)
		case <-ctx.Done():
			b.Close()
			for ev := range b.events {
				b.dispatch(ev)
			}
			return
		}
	}
}

// dispatch доставляет событие всем подписчикам.
// Паника подписчика не останавливает раздачу.
func (b *Bus) dispatch(ev domain.Event) {
	b.subsMu.RLock()
	subs := b.subs
	b.subsMu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event subscriber panicked", "type", ev.Type, "panic", r)
				}
			}()
			s.Emit(ev)
		}()
	}
}

// Close закрывает шину для новых событий. Повторный вызов безопасен.
func (b *Bus) Close() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}

// Done закрывается, когда Run завершился.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}
