package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresCreds = "leads" // user, password and database
)

// PostgresConfig describes the running test database.
type PostgresConfig struct {
	Host string
	Port int
	DSN  string
}

// PostgresContainer is a throwaway database with the leads schema owner.
type PostgresContainer struct {
	endpoint
}

func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	ep, err := run(ctx, "postgres", testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresCreds,
			"POSTGRES_PASSWORD": postgresCreds,
			"POSTGRES_DB":       postgresCreds,
		},
		// the first ready line comes from the init run
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	})
	if err != nil {
		return nil, err
	}

	return &PostgresContainer{endpoint: ep}, nil
}

func (c *PostgresContainer) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		postgresCreds, postgresCreds, c.address(), postgresCreds)
}

// Config is what integration tests hand to the code under test.
func (c *PostgresContainer) Config() *PostgresConfig {
	return &PostgresConfig{Host: c.Host, Port: c.Port, DSN: c.GetDSN()}
}
