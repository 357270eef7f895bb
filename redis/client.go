// Package redis hands finished work to downstream workers through asynq.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Vector/vector-leads-pipeline/redis/config"
)

// Enqueuer is the part of asynq.Client the handoff uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client wraps an asynq client.
type Client struct {
	client *asynq.Client
	cfg    *config.RedisConfig
	mu     sync.RWMutex
}

// NewClient checks the server answers before returning.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	pinger := goredis.NewClient(cfg.ClientOptions())
	defer pinger.Close()

	if err := pinger.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		client: asynq.NewClient(cfg.AsynqOpt()),
		cfg:    cfg,
	}, nil
}

// EnqueueContext enqueues on the configured queue unless opts name another.
func (c *Client) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]asynq.Option, 0, len(opts)+3)
	all = append(all, asynq.Queue(c.cfg.Queue), asynq.MaxRetry(c.cfg.MaxRetries))

	if c.cfg.RetentionPeriod > 0 {
		all = append(all, asynq.Retention(c.cfg.RetentionPeriod))
	}

	all = append(all, opts...)

	info, err := c.client.EnqueueContext(ctx, task, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return info, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
