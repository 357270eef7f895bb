package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/Vector/vector-leads-pipeline/models"
)

// Complete persists the result contacts and marks the task completed in
// one transaction. Contacts that collide with an existing
// (owner, normalized email) pair are counted, not treated as errors.
func (repo *Repository) Complete(ctx context.Context, id string, results []models.Candidate) (models.CompleteResult, error) {
	var ans models.CompleteResult

	tx, err := repo.pool.Begin(ctx)
	if err != nil {
		return ans, eris.Wrap(err, "postgres: begin completion")
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var ownerID, status string

	err = tx.QueryRow(ctx, `SELECT owner_id, status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&ownerID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ans, models.ErrNotFound
	}

	if err != nil {
		return ans, eris.Wrap(err, "postgres: lock task")
	}

	if models.TaskStatus(status) != models.StatusRunning {
		return ans, models.ErrTaskNotRunning
	}

	const insertQ = `INSERT INTO contacts (id, owner_id, task_id, name, email, email_normalized, emails, url, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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

		tag, err := tx.Exec(ctx, insertQ, c.ID, c.OwnerID, c.TaskID, c.Name, c.Email, c.EmailNormalized,
			emails, c.URL, c.Description, c.CreatedAt)
		if err != nil {
			return ans, eris.Wrap(err, "postgres: insert contact")
		}

		if tag.RowsAffected() == 1 {
			ans.Inserted++
		} else {
			ans.AlreadyExisted++
		}
	}

	if results == nil {
		results = []models.Candidate{}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return ans, err
	}

	const updateQ = `UPDATE tasks SET status = 'completed', stage = 'completed', progress_current = progress_total,
		progress_message = $2, result = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`

	if _, err := tx.Exec(ctx, updateQ, id, models.CompletionMessage(ans), payload); err != nil {
		return ans, eris.Wrap(err, "postgres: complete task")
	}

	if err := tx.Commit(ctx); err != nil {
		return ans, eris.Wrap(err, "postgres: commit completion")
	}

	return ans, nil
}

// ExistingEmails returns the normalized emails already stored for the owner.
func (repo *Repository) ExistingEmails(ctx context.Context, ownerID string, normalized []string) ([]string, error) {
	if len(normalized) == 0 {
		return nil, nil
	}

	const q = `SELECT email_normalized FROM contacts WHERE owner_id = $1 AND email_normalized = ANY($2)`

	rows, err := repo.pool.Query(ctx, q, ownerID, normalized)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup contacts")
	}

	defer rows.Close()

	var ans []string

	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}

		ans = append(ans, e)
	}

	return ans, rows.Err()
}
