// Package testcontainers starts throwaway Postgres and Redis containers
// for integration tests.
//
// Integration tests only run when LEADS_INTEGRATION=1 and -short is not
// set; otherwise Start skips the calling test.
//
//	func TestSomething(t *testing.T) {
//	    env := testcontainers.Start(t)
//	    repo := postgres.NewRepository(env.DB)
//	    ...
//	}
package testcontainers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// EnvIntegration enables container backed tests.
const EnvIntegration = "LEADS_INTEGRATION"

// defaultTimeout bounds container startup.
const defaultTimeout = 2 * time.Minute

// TestContext holds the running containers and clients connected to
// them. Everything is released through t.Cleanup.
type TestContext struct {
	t   *testing.T
	ctx context.Context

	Redis *redis.Client
	DB    *pgxpool.Pool

	RedisConfig    *RedisConfig
	PostgresConfig *PostgresConfig
}

// Enabled reports whether integration tests should run.
func Enabled() bool {
	return os.Getenv(EnvIntegration) == "1" && !testing.Short()
}

// Start skips t unless integration tests are enabled, then starts both
// containers.
func Start(t *testing.T) *TestContext {
	t.Helper()

	if !Enabled() {
		t.Skipf("set %s=1 to run container tests", EnvIntegration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	t.Cleanup(cancel)

	tc := &TestContext{t: t, ctx: ctx}

	if err := tc.initRedis(); err != nil {
		t.Fatalf("failed to start redis: %v", err)
	}

	if err := tc.initPostgres(); err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	return tc
}

// Context is valid until the test ends.
func (tc *TestContext) Context() context.Context {
	return tc.ctx
}

func (tc *TestContext) initRedis() error {
	container, err := NewRedisContainer(tc.ctx)
	if err != nil {
		return err
	}

	tc.t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tc.t.Errorf("failed to terminate redis container: %v", err)
		}
	})

	tc.Redis = redis.NewClient(&redis.Options{Addr: container.GetAddress()})
	tc.t.Cleanup(func() { _ = tc.Redis.Close() })

	if err := tc.Redis.Ping(tc.ctx).Err(); err != nil {
		return eris.Wrap(err, "ping redis")
	}

	tc.RedisConfig = container.Config()

	return nil
}

func (tc *TestContext) initPostgres() error {
	container, err := NewPostgresContainer(tc.ctx)
	if err != nil {
		return err
	}

	tc.t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			tc.t.Errorf("failed to terminate postgres container: %v", err)
		}
	})

	pool, err := pgxpool.New(tc.ctx, container.GetDSN())
	if err != nil {
		return eris.Wrap(err, "connect postgres")
	}

	tc.t.Cleanup(pool.Close)

	tc.DB = pool
	tc.PostgresConfig = container.Config()

	return nil
}
