package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Vector/vector-leads-pipeline/models"
)

const taskColumns = `id, owner_id, kind, query, url, status, stage, progress_current, progress_total,
	progress_message, retry_count, result, error, created_at, updated_at, started_at, completed_at`

type scannable interface {
	Scan(dest ...any) error
}

type task struct {
	ID              string
	OwnerID         string
	Kind            string
	Query           string
	URL             string
	Status          string
	Stage           string
	ProgressCurrent int
	ProgressTotal   int
	ProgressMessage string
	RetryCount      int
	Result          sql.NullString
	Error           string
	CreatedAt       int64
	UpdatedAt       int64
	StartedAt       sql.NullInt64
	CompletedAt     sql.NullInt64
}

func rowToTask(row scannable) (models.Task, error) {
	var t task

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Kind, &t.Query, &t.URL, &t.Status, &t.Stage,
		&t.ProgressCurrent, &t.ProgressTotal, &t.ProgressMessage, &t.RetryCount,
		&t.Result, &t.Error, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if err != nil {
		return models.Task{}, err
	}

	ans := models.Task{
		ID:      t.ID,
		OwnerID: t.OwnerID,
		Kind:    models.TaskKind(t.Kind),
		Query:   t.Query,
		URL:     t.URL,
		Status:  models.TaskStatus(t.Status),
		Stage:   t.Stage,
		Progress: models.Progress{
			Current: t.ProgressCurrent,
			Total:   t.ProgressTotal,
			Message: t.ProgressMessage,
		},
		RetryCount: t.RetryCount,
		Error:      t.Error,
		CreatedAt:  fromMillis(t.CreatedAt),
		UpdatedAt:  fromMillis(t.UpdatedAt),
	}

	if t.StartedAt.Valid {
		v := fromMillis(t.StartedAt.Int64)
		ans.StartedAt = &v
	}

	if t.CompletedAt.Valid {
		v := fromMillis(t.CompletedAt.Int64)
		ans.CompletedAt = &v
	}

	if t.Result.Valid && t.Result.String != "" {
		if err := json.Unmarshal([]byte(t.Result.String), &ans.Result); err != nil {
			return models.Task{}, fmt.Errorf("failed to decode task result: %w", err)
		}
	}

	return ans, nil
}

func taskToRow(item *models.Task) task {
	return task{
		ID:              item.ID,
		OwnerID:         item.OwnerID,
		Kind:            string(item.Kind),
		Query:           item.Query,
		URL:             item.URL,
		Status:          string(item.Status),
		Stage:           item.Stage,
		ProgressCurrent: item.Progress.Current,
		ProgressTotal:   item.Progress.Total,
		ProgressMessage: item.Progress.Message,
		RetryCount:      item.RetryCount,
		Error:           item.Error,
		CreatedAt:       item.CreatedAt.UnixMilli(),
		UpdatedAt:       item.UpdatedAt.UnixMilli(),
	}
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
