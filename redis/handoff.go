package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/redis/tasks"
)

// uniqueFor keeps a rerun of the same task from notifying twice.
const uniqueFor = 24 * time.Hour

// Handoff tells the email delivery worker about newly persisted contacts.
type Handoff struct {
	queue  Enqueuer
	logger *zap.Logger
}

func NewHandoff(queue Enqueuer, logger *zap.Logger) *Handoff {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handoff{queue: queue, logger: logger}
}

func (h *Handoff) ContactsPersisted(ctx context.Context, task models.Task, res models.CompleteResult) error {
	if res.Inserted == 0 {
		return nil
	}

	t, err := tasks.NewContactsPersistedTask(tasks.ContactsPersistedPayload{
		TaskID:   task.ID,
		OwnerID:  task.OwnerID,
		Inserted: res.Inserted,
	}, asynq.TaskID(task.ID), asynq.Unique(uniqueFor))
	if err != nil {
		return err
	}

	info, err := h.queue.EnqueueContext(ctx, t)

	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		h.logger.Debug("outreach already queued", zap.String("task_id", task.ID))
		return nil
	case err != nil:
		return fmt.Errorf("failed to hand off contacts of task %s: %w", task.ID, err)
	}

	h.logger.Info("outreach queued",
		zap.String("task_id", task.ID),
		zap.String("queue", info.Queue),
		zap.Int("inserted", res.Inserted),
	)

	return nil
}
