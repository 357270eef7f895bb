package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisConfig(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		want      *RedisConfig
		wantError bool
	}{
		{
			name: "default configuration",
			want: &RedisConfig{
				Host:            "localhost",
				Port:            6379,
				Queue:           "outreach",
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
			},
		},
		{
			name: "custom configuration",
			envVars: map[string]string{
				"REDIS_HOST":           "redis.example.com",
				"REDIS_PORT":           "6380",
				"REDIS_PASSWORD":       "secret",
				"REDIS_DB":             "1",
				"REDIS_MAX_RETRIES":    "5",
				"REDIS_RETENTION_DAYS": "14",
				"REDIS_USE_TLS":        "true",
				"REDIS_OUTREACH_QUEUE": "mail",
			},
			want: &RedisConfig{
				Host:            "redis.example.com",
				Port:            6380,
				Password:        "secret",
				DB:              1,
				UseTLS:          true,
				Queue:           "mail",
				MaxRetries:      5,
				RetentionPeriod: 14 * 24 * time.Hour,
			},
		},
		{
			name: "url wins over individual settings",
			envVars: map[string]string{
				"REDIS_URL":  "rediss://:pw@cache.internal:6390/2",
				"REDIS_PORT": "invalid",
			},
			want: &RedisConfig{
				Host:            "cache.internal",
				Port:            6390,
				Password:        "pw",
				DB:              2,
				UseTLS:          true,
				Queue:           "outreach",
				MaxRetries:      3,
				RetentionPeriod: 7 * 24 * time.Hour,
			},
		},
		{name: "invalid url", envVars: map[string]string{"REDIS_URL": "http://cache"}, wantError: true},
		{name: "invalid port", envVars: map[string]string{"REDIS_PORT": "invalid"}, wantError: true},
		{name: "port out of range", envVars: map[string]string{"REDIS_PORT": "70000"}, wantError: true},
		{name: "invalid DB", envVars: map[string]string{"REDIS_DB": "16"}, wantError: true},
		{name: "invalid max retries", envVars: map[string]string{"REDIS_MAX_RETRIES": "invalid"}, wantError: true},
		{name: "invalid retention days", envVars: map[string]string{"REDIS_RETENTION_DAYS": "-1"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
				"REDIS_MAX_RETRIES", "REDIS_RETENTION_DAYS", "REDIS_USE_TLS", "REDIS_OUTREACH_QUEUE"} {
				t.Setenv(k, "")
			}

			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			got, err := NewRedisConfig()
			if tt.wantError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisConfig_GetRedisAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  *RedisConfig
		want string
	}{
		{name: "hostname", cfg: &RedisConfig{Host: "redis.example.com", Port: 6380}, want: "redis.example.com:6380"},
		{name: "ipv4 address", cfg: &RedisConfig{Host: "127.0.0.1", Port: 6379}, want: "127.0.0.1:6379"},
		{name: "ipv6 address", cfg: &RedisConfig{Host: "::1", Port: 6379}, want: "[::1]:6379"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetRedisAddr())
		})
	}
}

func TestRedisConfig_ConnectionOptions(t *testing.T) {
	cfg := &RedisConfig{Host: "cache", Port: 6379, Password: "pw", DB: 3}

	opt := cfg.AsynqOpt()
	assert.Equal(t, "cache:6379", opt.Addr)
	assert.Equal(t, 3, opt.DB)
	assert.Nil(t, opt.TLSConfig)

	cfg.UseTLS = true

	client := cfg.ClientOptions()
	assert.Equal(t, "pw", client.Password)
	require.NotNil(t, client.TLSConfig)
	assert.Equal(t, "cache", client.TLSConfig.ServerName)
}
