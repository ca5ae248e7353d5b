package orchestrator

import (
	"context"
	"strings"

	"github.com/shaiso/Orchestra/internal/conflict"
	"github.com/shaiso/Orchestra/internal/domain"
)

// unblockTasks снимает блокировки разрешённого конфликта со всех задач.
// Блокировка карантина остаётся до решения оператора.
func (o *Orchestrator) unblockTasks(_ context.Context, c *domain.Conflict) {
	for _, t := range o.graph.List() {
		if !t.HasBlocker(c.ID) {
			continue
		}
		if _, err := o.sup.Unblock(t.ID, c.ID); err != nil {
			o.logger.Warn("failed to unblock task", "task_id", t.ID, "conflict_id", c.ID, "error", err)
		}
	}
}

// clearSignals удаляет сигнал, породивший конфликт, чтобы он не
// обнаруживался снова.
func (o *Orchestrator) clearSignals(_ context.Context, c *domain.Conflict) {
	o.signals.ClearFor(c)
}

// archiveConflict сохраняет разрешённый конфликт в архив.
func (o *Orchestrator) archiveConflict(ctx context.Context, c *domain.Conflict) {
	if o.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultArchiveTimeout)
	defer cancel()
	if err := o.archive.Archive(actx, c); err != nil {
		o.logger.Warn("failed to archive conflict", "conflict_id", c.ID, "error", err)
	}
}

// ReleaseQuarantine снимает блокировку карантина с задачи.
func (o *Orchestrator) ReleaseQuarantine(taskID string) (*domain.Task, error) {
	t, err := o.graph.Get(taskID)
	if err != nil {
		return nil, err
	}
	for _, b := range t.Blockers {
		if strings.HasPrefix(b, conflict.QuarantinePrefix) {
			if t, err = o.sup.Unblock(taskID, b); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}
