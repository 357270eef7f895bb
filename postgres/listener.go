package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/progress"
)

// Listener turns task_events notifications into progress events.
type Listener struct {
	pool   *pgxpool.Pool
	pub    progress.Publisher
	logger *zap.Logger
}

func NewListener(pool *pgxpool.Pool, pub progress.Publisher, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Listener{pool: pool, pub: pub, logger: logger}
}

// Run listens until ctx is cancelled, reconnecting with exponential
// backoff when the dedicated connection drops.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := l.listen(ctx, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()

		l.logger.Warn("task event listener disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: acquire listener connection")
	}

	// a LISTENing session must never go back to the pool
	conn := pooled.Hijack()
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+EventsChannel); err != nil {
		return eris.Wrap(err, "postgres: listen")
	}

	connected()

	l.logger.Info("listening for task events", zap.String("channel", EventsChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return eris.Wrap(err, "postgres: wait for notification")
		}

		ev, err := decodeEvent(n.Payload)
		if err != nil {
			l.logger.Warn("discarding malformed task event", zap.Error(err))
			continue
		}

		if err := l.pub.Publish(ctx, ev); err != nil {
			l.logger.Warn("cannot publish task event", zap.String("task_id", ev.TaskID), zap.Error(err))
		}
	}
}

func decodeEvent(payload string) (progress.Event, error) {
	var ev progress.Event

	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return progress.Event{}, eris.Wrap(err, "postgres: decode task event")
	}

	if ev.TaskID == "" {
		return progress.Event{}, eris.New("postgres: task event without id")
	}

	return ev, nil
}
