package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisConfig describes the running test redis.
type RedisConfig struct {
	Host string
	Port int
}

// URL is in the REDIS_URL format read by redis/config.
func (c *RedisConfig) URL() string {
	return fmt.Sprintf("redis://%s:%d/0", c.Host, c.Port)
}

type RedisContainer struct {
	endpoint
}

func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	ep, err := run(ctx, "redis", testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
	if err != nil {
		return nil, err
	}

	return &RedisContainer{endpoint: ep}, nil
}

// GetAddress returns host:port.
func (c *RedisContainer) GetAddress() string {
	return c.address()
}

func (c *RedisContainer) Config() *RedisConfig {
	return &RedisConfig{Host: c.Host, Port: c.Port}
}
