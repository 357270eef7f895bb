// Package postgres implements the task store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/Vector/vector-leads-pipeline/models"
)

// Pool is the subset of pgxpool.Pool the repository needs. pgxmock
// implements it for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ models.Store = (*Repository)(nil)

type Repository struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Connect opens a pgx pool, pings it and applies the schema.
func Connect(ctx context.Context, dsn string, poolCfg PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}

	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}

	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewRepository wraps an open pool.
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

func (repo *Repository) Close() error {
	repo.pool.Close()
	return nil
}

func (repo *Repository) Create(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	t.Status = models.StatusPending
	t.Progress.Total = t.Kind.TotalStages()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	t.UpdatedAt = t.CreatedAt

	const q = `INSERT INTO tasks (id, owner_id, kind, query, url, status, progress_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := repo.pool.Exec(ctx, q, t.ID, t.OwnerID, string(t.Kind), t.Query, t.URL, string(t.Status),
		t.Progress.Total, t.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "postgres: create task")
	}

	return nil
}

func (repo *Repository) Get(ctx context.Context, id string) (models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := rowToTask(repo.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, models.ErrNotFound
	}

	if err != nil {
		return models.Task{}, eris.Wrap(err, "postgres: get task")
	}

	return t, nil
}

func (repo *Repository) GetForOwner(ctx context.Context, ownerID, id string) (models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND owner_id = $2`

	t, err := rowToTask(repo.pool.QueryRow(ctx, q, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, models.ErrNotFound
	}

	if err != nil {
		return models.Task{}, eris.Wrap(err, "postgres: get task")
	}

	return t, nil
}

func (repo *Repository) List(ctx context.Context, params models.SelectParams) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`

	var (
		args       []any
		conditions []string
		argNum     = 1
	)

	if params.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argNum))
		args = append(args, params.OwnerID)
		argNum++
	}

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(params.Status))
		argNum++
	}

	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}

	q += " ORDER BY created_at DESC"

	if params.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, params.Limit)
	}

	return repo.selectTasks(ctx, q, args...)
}

func (repo *Repository) Claim(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE tasks SET status = 'running', stage = '', error = '', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := repo.pool.Exec(ctx, q, id)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim task")
	}

	return tag.RowsAffected() == 1, nil
}

func (repo *Repository) UpdateProgress(ctx context.Context, id, stage string, current, total int, message string) error {
	const q = `UPDATE tasks SET stage = $2, progress_current = $3, progress_total = $4, progress_message = $5, updated_at = now()
		WHERE id = $1 AND status = 'running'`

	tag, err := repo.pool.Exec(ctx, q, id, stage, current, total, models.Truncate(message, models.MaxMessageLength))
	if err != nil {
		return eris.Wrap(err, "postgres: update progress")
	}

	return repo.checkTransition(ctx, tag, id, models.ErrTaskNotRunning)
}

func (repo *Repository) Fail(ctx context.Context, id, reason string) error {
	const q = `UPDATE tasks SET status = 'failed', error = $2, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`

	tag, err := repo.pool.Exec(ctx, q, id, models.Truncate(reason, models.MaxErrorLength))
	if err != nil {
		return eris.Wrap(err, "postgres: fail task")
	}

	return repo.checkTransition(ctx, tag, id, models.ErrInvalidTransition)
}

func (repo *Repository) Cancel(ctx context.Context, id string) error {
	const q = `UPDATE tasks SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`

	tag, err := repo.pool.Exec(ctx, q, id)
	if err != nil {
		return eris.Wrap(err, "postgres: cancel task")
	}

	return repo.checkTransition(ctx, tag, id, models.ErrInvalidTransition)
}

func (repo *Repository) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'running' AND updated_at < now() - make_interval(secs => $1)
		ORDER BY updated_at ASC
		LIMIT $2`

	return repo.selectTasks(ctx, q, olderThan.Seconds(), limit)
}

func (repo *Repository) ResetToPending(ctx context.Context, id string) (int, error) {
	const q = `UPDATE tasks SET status = 'pending', stage = '', progress_current = 0, progress_message = '',
		retry_count = retry_count + 1, started_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING retry_count`

	var retries int

	err := repo.pool.QueryRow(ctx, q, id).Scan(&retries)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := repo.Get(ctx, id); gerr != nil {
			return 0, gerr
		}

		return 0, models.ErrTaskNotRunning
	}

	if err != nil {
		return 0, eris.Wrap(err, "postgres: reset task")
	}

	return retries, nil
}

// ListPending returns the oldest pending tasks. Exclusivity comes from Claim.
func (repo *Repository) ListPending(ctx context.Context, limit int) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`

	return repo.selectTasks(ctx, q, limit)
}

func (repo *Repository) selectTasks(ctx context.Context, q string, args ...any) ([]models.Task, error) {
	rows, err := repo.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select tasks")
	}

	defer rows.Close()

	var ans []models.Task

	for rows.Next() {
		t, err := rowToTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}

		ans = append(ans, t)
	}

	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate tasks")
	}

	return ans, nil
}

func (repo *Repository) checkTransition(ctx context.Context, tag pgconn.CommandTag, id string, conflict error) error {
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := repo.Get(ctx, id); err != nil {
		return err
	}

	return conflict
}

const taskColumns = `id, owner_id, kind, query, url, status, stage, progress_current, progress_total,
	progress_message, retry_count, result, error, created_at, updated_at, started_at, completed_at`

type scannable interface {
	Scan(dest ...any) error
}

func rowToTask(row scannable) (models.Task, error) {
	var (
		t              models.Task
		kind, status   string
		result         []byte
		started, ended *time.Time
	)

	err := row.Scan(
		&t.ID, &t.OwnerID, &kind, &t.Query, &t.URL, &status, &t.Stage,
		&t.Progress.Current, &t.Progress.Total, &t.Progress.Message, &t.RetryCount,
		&result, &t.Error, &t.CreatedAt, &t.UpdatedAt, &started, &ended,
	)
	if err != nil {
		return models.Task{}, err
	}

	t.Kind = models.TaskKind(kind)
	t.Status = models.TaskStatus(status)
	t.StartedAt = started
	t.CompletedAt = ended

	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return models.Task{}, fmt.Errorf("failed to decode task result: %w", err)
		}
	}

	return t, nil
}
