// Package config loads the Redis connection settings shared by the
// outreach queue and the cross-process event bus.
package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	UseTLS          bool
	Queue           string
	MaxRetries      int
	RetentionPeriod time.Duration
}

const (
	defaultHost       = "localhost"
	defaultPort       = 6379
	defaultQueue      = "outreach"
	defaultMaxRetries = 3
	minPort           = 1
	maxPort           = 65535
	maxDB             = 15
	maxMaxRetries     = 10
	maxRetentionDays  = 365
)

// NewRedisConfig reads REDIS_URL, or the individual REDIS_* variables
// when no URL is set.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:     defaultPort,
		Password: os.Getenv("REDIS_PASSWORD"),
		UseTLS:   getEnvBool("REDIS_USE_TLS"),
		Queue:    getEnvOrDefault("REDIS_OUTREACH_QUEUE", defaultQueue),
	}

	var err error

	if cfg.MaxRetries, err = intInRange("REDIS_MAX_RETRIES", defaultMaxRetries, 0, maxMaxRetries); err != nil {
		return nil, err
	}

	days, err := intInRange("REDIS_RETENTION_DAYS", 7, 0, maxRetentionDays)
	if err != nil {
		return nil, err
	}

	cfg.RetentionPeriod = time.Duration(days) * 24 * time.Hour

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if err := cfg.applyURL(redisURL); err != nil {
			return nil, err
		}

		return cfg, nil
	}

	if cfg.Port, err = intInRange("REDIS_PORT", defaultPort, minPort, maxPort); err != nil {
		return nil, err
	}

	if cfg.DB, err = intInRange("REDIS_DB", 0, 0, maxDB); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *RedisConfig) applyURL(raw string) error {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	host, port, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		return fmt.Errorf("invalid Redis URL address: %w", err)
	}

	c.Host = host

	if c.Port, err = strconv.Atoi(port); err != nil {
		return fmt.Errorf("invalid port in Redis URL: %w", err)
	}

	c.Password = opts.Password
	c.DB = opts.DB
	c.UseTLS = c.UseTLS || opts.TLSConfig != nil

	return nil
}

// GetRedisAddr returns host:port, bracketing IPv6 hosts.
func (c *RedisConfig) GetRedisAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *RedisConfig) tlsConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}

	return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: c.Host}
}

// AsynqOpt is the connection used for enqueuing outreach tasks.
func (c *RedisConfig) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         c.GetRedisAddr(),
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		TLSConfig:    c.tlsConfig(),
	}
}

// ClientOptions is the connection used for event pub/sub.
func (c *RedisConfig) ClientOptions() *redis.Options {
	return &redis.Options{
		Addr:      c.GetRedisAddr(),
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: c.tlsConfig(),
	}
}

func intInRange(key string, def, lo, hi int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}

	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", key, lo, hi)
	}

	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBool(key string) bool {
	value := strings.ToLower(os.Getenv(key))
	return value == "true" || value == "1" || value == "yes"
}
