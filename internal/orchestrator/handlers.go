package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Orchestra/internal/domain"
	"github.com/shaiso/Orchestra/internal/mq"
)

// --- Задачи и исполнители ---

// AddTasks добавляет набор задач атомарно и публикует task.added.
// Реализует intake.TaskSink.
func (o *Orchestrator) AddTasks(specs []domain.TaskSpec) ([]string, error) {
	ids, err := o.graph.AddTasks(specs)
	for _, id := range ids {
		ev := domain.NewEvent(domain.EventTaskAdded)
		ev.TaskID = id
		o.emit(ev)
	}
	return ids, err
}

// Has реализует intake.TaskSink.
func (o *Orchestrator) Has(id string) bool {
	return o.graph.Has(id)
}

// Register регистрирует исполнителя и публикует worker.registered.
// Реализует intake.WorkerSink.
func (o *Orchestrator) Register(spec domain.WorkerSpec) (string, error) {
	id, err := o.pool.Register(spec)
	if err != nil {
		return "", err
	}
	ev := domain.NewEvent(domain.EventWorkerRegistered)
	ev.WorkerID = id
	o.emit(ev)
	return id, nil
}

// --- Сигналы ---

// IngestSignal разбирает сигнал вида kind и кладёт его в хранилище
// сигналов. Конфликт по нему появится при следующем обнаружении.
func (o *Orchestrator) IngestSignal(kind domain.SignalKind, payload []byte) error {
	var err error
	switch kind {
	case domain.SignalMerge:
		err = ingest(payload, o.signals.AddMerge)
	case domain.SignalGate:
		err = ingest(payload, o.signals.AddGate)
	case domain.SignalPerformance:
		err = ingest(payload, func(s domain.PerformanceSample) error {
			if s.At.IsZero() {
				s.At = o.now()
			}
			return o.signals.AddSample(s)
		})
	case domain.SignalSecurity:
		err = ingest(payload, o.signals.AddFinding)
	case domain.SignalInterface:
		err = ingest(payload, o.signals.AddInterface)
	case domain.SignalEnvironment:
		err = ingest(payload, o.signals.AddEnvironment)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSignal, kind)
	}
	if err != nil {
		return err
	}
	o.logger.Debug("signal ingested", "kind", kind)
	return nil
}

func ingest[T any](payload []byte, add func(T) error) error {
	var sig T
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	if err := add(sig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	return nil
}

// --- Отчёты исполнителя ---

// ReportProgress обновляет прогресс задачи. Задача в assigned
// сначала стартует.
func (o *Orchestrator) ReportProgress(taskID string, progress int, note string) (*domain.Task, error) {
	if status, ok := o.graph.Status(taskID); ok && status == domain.TaskStatusAssigned {
		if _, err := o.sup.Start(taskID); err != nil {
			return nil, err
		}
	}
	if note != "" {
		if _, err := o.sup.Checkpoint(taskID, note); err != nil {
			return nil, err
		}
	}
	return o.sup.UpdateProgress(taskID, progress)
}

// ReportCompleted завершает задачу. Для фаз с quality gate задача
// проходит ревью с переданными метриками.
func (o *Orchestrator) ReportCompleted(taskID string, metrics map[string]float64) (*domain.Task, error) {
	t, err := o.ReportProgress(taskID, 100, "")
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TaskStatusUnderReview {
		t, _, err = o.sup.Review(taskID, metrics)
	}
	return t, err
}

// --- RabbitMQ ---

// handleSignalMessage обрабатывает сообщение из очереди сигналов.
func (o *Orchestrator) handleSignalMessage(_ context.Context, d *mq.Delivery) error {
	msg := &d.Message
	logger := o.logger.With("message_id", msg.ID, "type", msg.Type)

	var err error
	switch {
	case strings.HasPrefix(string(msg.Type), "signal."):
		kind := domain.SignalKind(strings.TrimPrefix(string(msg.Type), "signal."))
		var payload []byte
		if payload, err = json.Marshal(msg.Payload); err == nil {
			err = o.IngestSignal(kind, payload)
		}

	case msg.Type == mq.MessageTaskProgress:
		var p mq.TaskProgressPayload
		if p, err = mq.ParsePayload[mq.TaskProgressPayload](msg); err == nil {
			_, err = o.ReportProgress(p.TaskID, p.Progress, p.Note)
		}

	case msg.Type == mq.MessageTaskCompleted:
		var p mq.TaskResultPayload
		if p, err = mq.ParsePayload[mq.TaskResultPayload](msg); err == nil {
			_, err = o.ReportCompleted(p.TaskID, p.Metrics)
		}

	case msg.Type == mq.MessageTaskFailed:
		var p mq.TaskResultPayload
		if p, err = mq.ParsePayload[mq.TaskResultPayload](msg); err == nil {
			_, err = o.sup.Fail(p.TaskID, p.Error)
		}

	default:
		err = fmt.Errorf("%w: unknown message type %s", mq.ErrMalformed, msg.Type)
	}

	if err == nil {
		logger.Debug("signal message processed")
		return nil
	}

	// повтор не поможет: сообщение о несуществующей задаче или недопустимом
	// переходе уходит в DLQ
	logger.Warn("signal message rejected", "error", err)
	if errors.Is(err, mq.ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %w", mq.ErrMalformed, err)
}
