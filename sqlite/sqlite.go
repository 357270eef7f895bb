// Package sqlite implements the task store on an embedded SQLite database.
// It is meant for single-process deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/Vector/vector-leads-pipeline/models"
)

var _ models.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := initDatabase(path)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	t.Status = models.StatusPending
	t.Progress.Total = t.Kind.TotalStages()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	t.UpdatedAt = t.CreatedAt

	item := taskToRow(t)

	const q = `INSERT INTO tasks (id, owner_id, kind, query, url, status, stage, progress_current, progress_total,
		progress_message, retry_count, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', 0, ?, '', 0, '', ?, ?)`

	_, err := s.db.ExecContext(ctx, q, item.ID, item.OwnerID, item.Kind, item.Query, item.URL, item.Status,
		item.ProgressTotal, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	t, err := rowToTask(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, models.ErrNotFound
	}

	return t, err
}

func (s *Store) GetForOwner(ctx context.Context, ownerID, id string) (models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND owner_id = ?`

	t, err := rowToTask(s.db.QueryRowContext(ctx, q, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, models.ErrNotFound
	}

	return t, err
}

func (s *Store) List(ctx context.Context, params models.SelectParams) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`

	var (
		conditions []string
		args       []any
	)

	if params.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, params.OwnerID)
	}

	if params.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(params.Status))
	}

	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}

	q += " ORDER BY created_at DESC"

	if params.Limit > 0 {
		q += " LIMIT ?"

		args = append(args, params.Limit)
	}

	return s.selectTasks(ctx, q, args...)
}

func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	now := nowMillis()

	const q = `UPDATE tasks SET status = 'running', stage = '', error = '', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, q, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id, stage string, current, total int, message string) error {
	const q = `UPDATE tasks SET stage = ?, progress_current = ?, progress_total = ?, progress_message = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`

	res, err := s.db.ExecContext(ctx, q, stage, current, total, models.Truncate(message, models.MaxMessageLength), nowMillis(), id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	return s.checkTransition(ctx, res, id, models.ErrTaskNotRunning)
}

func (s *Store) Complete(ctx context.Context, id string, results []models.Candidate) (models.CompleteResult, error) {
	var ans models.CompleteResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ans, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var ownerID, status string

	err = tx.QueryRowContext(ctx, `SELECT owner_id, status FROM tasks WHERE id = ?`, id).Scan(&ownerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return ans, models.ErrNotFound
	}

	if err != nil {
		return ans, fmt.Errorf("failed to load task: %w", err)
	}

	if models.TaskStatus(status) != models.StatusRunning {
		return ans, models.ErrTaskNotRunning
	}

	const insertQ = `INSERT INTO contacts (id, owner_id, task_id, name, email, email_normalized, emails, url, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, email_normalized) DO NOTHING`

	for i := range results {
		c := models.ContactFromCandidate(uuid.New().String(), ownerID, id, results[i])
		if c.EmailNormalized == "" {
			continue
		}

		emails, err := json.Marshal(c.Emails)
		if err != nil {
			return ans, err
		}

		res, err := tx.ExecContext(ctx, insertQ, c.ID, c.OwnerID, c.TaskID, c.Name, c.Email, c.EmailNormalized,
			string(emails), c.URL, c.Description, c.CreatedAt.UnixMilli())
		if err != nil {
			return ans, fmt.Errorf("failed to insert contact: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 1 {
			ans.Inserted++
		} else {
			ans.AlreadyExisted++
		}
	}

	payload, err := json.Marshal(nonNil(results))
	if err != nil {
		return ans, err
	}

	now := nowMillis()

	const updateQ = `UPDATE tasks SET status = 'completed', stage = 'completed', progress_current = progress_total,
		progress_message = ?, result = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`

	res, err := tx.ExecContext(ctx, updateQ, models.CompletionMessage(ans), string(payload), now, now, id)
	if err != nil {
		return ans, fmt.Errorf("failed to complete task: %w", err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return ans, models.ErrTaskNotRunning
	}

	if err := tx.Commit(); err != nil {
		return ans, fmt.Errorf("failed to commit completion: %w", err)
	}

	return ans, nil
}

func (s *Store) Fail(ctx context.Context, id, reason string) error {
	now := nowMillis()

	const q = `UPDATE tasks SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`

	res, err := s.db.ExecContext(ctx, q, models.Truncate(reason, models.MaxErrorLength), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}

	return s.checkTransition(ctx, res, id, models.ErrInvalidTransition)
}

func (s *Store) Cancel(ctx context.Context, id string) error {
	now := nowMillis()

	const q = `UPDATE tasks SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`

	res, err := s.db.ExecContext(ctx, q, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	return s.checkTransition(ctx, res, id, models.ErrInvalidTransition)
}

func (s *Store) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]models.Task, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixMilli()

	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'running' AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`

	return s.selectTasks(ctx, q, cutoff, limit)
}

func (s *Store) ResetToPending(ctx context.Context, id string) (int, error) {
	const q = `UPDATE tasks SET status = 'pending', stage = '', progress_current = 0, progress_message = '',
		retry_count = retry_count + 1, started_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running'
		RETURNING retry_count`

	var retries int

	err := s.db.QueryRowContext(ctx, q, nowMillis(), id).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return 0, gerr
		}

		return 0, models.ErrTaskNotRunning
	}

	if err != nil {
		return 0, fmt.Errorf("failed to reset task: %w", err)
	}

	return retries, nil
}

func (s *Store) ListPending(ctx context.Context, limit int) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`

	return s.selectTasks(ctx, q, limit)
}

func (s *Store) ExistingEmails(ctx context.Context, ownerID string, normalized []string) ([]string, error) {
	if len(normalized) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(normalized)), ",")

	q := `SELECT email_normalized FROM contacts WHERE owner_id = ? AND email_normalized IN (` + placeholders + `)`

	args := make([]any, 0, len(normalized)+1)
	args = append(args, ownerID)

	for _, e := range normalized {
		args = append(args, e)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup contacts: %w", err)
	}

	defer rows.Close()

	var ans []string

	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}

		ans = append(ans, e)
	}

	return ans, rows.Err()
}

func (s *Store) selectTasks(ctx context.Context, q string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tasks: %w", err)
	}

	defer rows.Close()

	var ans []models.Task

	for rows.Next() {
		t, err := rowToTask(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ans, nil
}

// checkTransition turns a zero-row conditional update into ErrNotFound
// or the supplied error when the row exists in another state.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	return conflict
}

func nonNil(c []models.Candidate) []models.Candidate {
	if c == nil {
		return []models.Candidate{}
	}

	return c
}

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, err
		}
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, createSchema(db)
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			progress_current INT NOT NULL DEFAULT 0,
			progress_total INT NOT NULL DEFAULT 0,
			progress_message TEXT NOT NULL DEFAULT '',
			retry_count INT NOT NULL DEFAULT 0,
			result TEXT,
			error TEXT NOT NULL DEFAULT '',
			created_at INT NOT NULL,
			updated_at INT NOT NULL,
			started_at INT,
			completed_at INT
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
		CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks (status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks (owner_id, created_at);

		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			email_normalized TEXT NOT NULL,
			emails TEXT NOT NULL DEFAULT '[]',
			url TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at INT NOT NULL,
			UNIQUE (owner_id, email_normalized)
		);
	`)

	return err
}
