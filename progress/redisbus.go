package progress

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRedisChannel carries task events between processes.
const DefaultRedisChannel = "leads:task_events"

// RedisBus relays events through Redis pub/sub so that every API process
// sees writes made by any scheduler process.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

var _ Publisher = (*RedisBus)(nil)

func NewRedisBus(client *redis.Client, channel string, logger *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisBus{client: client, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "progress: encode event")
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return eris.Wrap(err, "progress: redis publish")
	}

	return nil
}

// Run forwards every message on the channel to local until ctx is done.
func (b *RedisBus) Run(ctx context.Context, local Publisher) error {
	sub := b.client.Subscribe(ctx, b.channel)

	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return eris.Wrap(err, "progress: redis subscribe")
	}

	msgs := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("discarding malformed task event", zap.Error(err))
				continue
			}

			_ = local.Publish(ctx, ev)
		}
	}
}
