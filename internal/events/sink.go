package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/Orchestra/internal/domain"
)

// Sink принимает события оркестратора.
// Реализации должны быть безопасны для конкурентного вызова.
type Sink interface {
	Emit(ev domain.Event)
}

// SinkFunc — адаптер функции к Sink.
type SinkFunc func(ev domain.Event)

// Emit реализует Sink.
func (f SinkFunc) Emit(ev domain.Event) { f(ev) }

// Discard — Sink, отбрасывающий все события.
var Discard Sink = SinkFunc(func(domain.Event) {})

// Fanout раздаёт событие нескольким Sink по очереди.
type Fanout []Sink

// Emit реализует Sink.
func (f Fanout) Emit(ev domain.Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}

// LogSink пишет события в slog.
type LogSink struct {
	Logger *slog.Logger
}

// Emit реализует Sink.
func (s LogSink) Emit(ev domain.Event) {
	level := slog.LevelDebug
	switch ev.Type {
	case domain.EventSystemError, domain.EventConflictResolutionFail:
		level = slog.LevelWarn
	case domain.EventConflictDetected, domain.EventConflictResolved,
		domain.EventConflictActionRequired, domain.EventTaskFailed:
		level = slog.LevelInfo
	}

	attrs := []any{"event", ev.Type}
	if ev.TaskID != "" {
		attrs = append(attrs, "task_id", ev.TaskID)
	}
	if ev.WorkerID != "" {
		attrs = append(attrs, "worker_id", ev.WorkerID)
	}
	if ev.ConflictID != "" {
		attrs = append(attrs, "conflict_id", ev.ConflictID)
	}

	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	s.Logger.Log(context.Background(), level, msg, attrs...)
}

// Recorder хранит последние события в кольцевом буфере.
type Recorder struct {
	mu     sync.RWMutex
	buf    []domain.Event
	next   int
	filled bool
}

// NewRecorder создаёт Recorder на size событий.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 256
	}
	return &Recorder{buf: make([]domain.Event, size)}
}

// Emit реализует Sink.
func (r *Recorder) Emit(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// Recent возвращает до limit последних событий, от старых к новым.
// limit <= 0 — все сохранённые.
func (r *Recorder) Recent(limit int) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Event
	if r.filled {
		all = append(all, r.buf[r.next:]...)
	}
	all = append(all, r.buf[:r.next]...)

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Count возвращает количество событий данного типа среди сохранённых.
func (r *Recorder) Count(t domain.EventType) int {
	n := 0
	for _, ev := range r.Recent(0) {
		if ev.Type == t {
			n++
		}
	}
	return n
}
