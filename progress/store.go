package progress

import (
	"context"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
)

// NotifyingStore publishes an event after every successful task write.
// It is used when the database cannot push changes itself.
type NotifyingStore struct {
	models.Store

	pub    Publisher
	logger *zap.Logger
}

func NewNotifyingStore(store models.Store, pub Publisher, logger *zap.Logger) *NotifyingStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotifyingStore{Store: store, pub: pub, logger: logger}
}

func (s *NotifyingStore) Create(ctx context.Context, t *models.Task) error {
	if err := s.Store.Create(ctx, t); err != nil {
		return err
	}

	s.notify(ctx, t.ID)

	return nil
}

func (s *NotifyingStore) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.Store.Claim(ctx, id)
	if err != nil || !ok {
		return ok, err
	}

	s.notify(ctx, id)

	return true, nil
}

func (s *NotifyingStore) UpdateProgress(ctx context.Context, id, stage string, current, total int, message string) error {
	if err := s.Store.UpdateProgress(ctx, id, stage, current, total, message); err != nil {
		return err
	}

	s.notify(ctx, id)

	return nil
}

func (s *NotifyingStore) Complete(ctx context.Context, id string, results []models.Candidate) (models.CompleteResult, error) {
	res, err := s.Store.Complete(ctx, id, results)
	if err != nil {
		return res, err
	}

	s.notify(ctx, id)

	return res, nil
}

func (s *NotifyingStore) Fail(ctx context.Context, id, reason string) error {
	if err := s.Store.Fail(ctx, id, reason); err != nil {
		return err
	}

	s.notify(ctx, id)

	return nil
}

func (s *NotifyingStore) Cancel(ctx context.Context, id string) error {
	if err := s.Store.Cancel(ctx, id); err != nil {
		return err
	}

	s.notify(ctx, id)

	return nil
}

func (s *NotifyingStore) ResetToPending(ctx context.Context, id string) (int, error) {
	n, err := s.Store.ResetToPending(ctx, id)
	if err != nil {
		return n, err
	}

	s.notify(ctx, id)

	return n, nil
}

// notify never fails the write it follows; clients fall back to polling.
func (s *NotifyingStore) notify(ctx context.Context, id string) {
	t, err := s.Store.Get(ctx, id)
	if err != nil {
		s.logger.Warn("cannot load task for progress event", zap.String("task_id", id), zap.Error(err))
		return
	}

	if err := s.pub.Publish(ctx, EventFromTask(t)); err != nil {
		s.logger.Warn("cannot publish progress event", zap.String("task_id", id), zap.Error(err))
	}
}
