package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/multierr"
)

// TaskKind selects which pipeline a task runs.
type TaskKind string

const (
	KindQuerySearch TaskKind = "query-search"
	KindDirectURL   TaskKind = "direct-url"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Stage totals per kind. A query-search task walks query generation,
// search, aggregation, scraping, filtering, dedup and completion; a
// direct-url task starts at scraping.
const (
	QuerySearchStages = 7
	DirectURLStages   = 4
)

// TotalStages returns the fixed progress total for a task kind.
func (k TaskKind) TotalStages() int {
	switch k {
	case KindQuerySearch:
		return QuerySearchStages
	case KindDirectURL:
		return DirectURLStages
	default:
		return 0
	}
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	return k == KindQuerySearch || k == KindDirectURL
}

// Progress is the stage counter shown to clients.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Task is the durable unit of work tracked by the store.
type Task struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Kind        TaskKind    `json:"kind"`
	Query       string      `json:"query,omitempty"`
	URL         string      `json:"url,omitempty"`
	Status      TaskStatus  `json:"status"`
	Stage       string      `json:"stage"`
	Progress    Progress    `json:"progress"`
	RetryCount  int         `json:"retry_count"`
	Result      []Candidate `json:"result"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// NewTask builds a pending task with its progress total fixed by kind.
func NewTask(id, ownerID string, kind TaskKind, input string) Task {
	now := time.Now().UTC()

	t := Task{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    StatusPending,
		Progress:  Progress{Total: kind.TotalStages()},
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch kind {
	case KindQuerySearch:
		t.Query = strings.TrimSpace(input)
	case KindDirectURL:
		t.URL = strings.TrimSpace(input)
	}

	return t
}

// Validate checks the fields required before the task is stored.
func (t *Task) Validate() error {
	var err error

	if t.ID == "" {
		err = multierr.Append(err, errors.New("missing id"))
	}

	if t.OwnerID == "" {
		err = multierr.Append(err, errors.New("missing owner"))
	}

	switch t.Kind {
	case KindQuerySearch:
		if strings.TrimSpace(t.Query) == "" {
			err = multierr.Append(err, errors.New("query-search task requires a query"))
		}

		if t.URL != "" {
			err = multierr.Append(err, errors.New("query-search task must not carry a url"))
		}
	case KindDirectURL:
		if t.Query != "" {
			err = multierr.Append(err, errors.New("direct-url task must not carry a query"))
		}

		if u, perr := url.Parse(t.URL); perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, errors.New("direct-url task requires an absolute url"))
		}
	default:
		err = multierr.Append(err, errors.New("invalid kind"))
	}

	return err
}

// SelectParams filters task listings.
type SelectParams struct {
	OwnerID string
	Status  TaskStatus
	Limit   int
}

// CompleteResult reports what happened to the contacts of a completed task.
type CompleteResult struct {
	Inserted       int
	AlreadyExisted int
}

// CompletionMessage is the final progress message of a completed task.
func CompletionMessage(res CompleteResult) string {
	switch {
	case res.Inserted == 0 && res.AlreadyExisted == 0:
		return "no new contacts found"
	case res.AlreadyExisted == 0:
		return fmt.Sprintf("saved %d new contacts", res.Inserted)
	default:
		return fmt.Sprintf("saved %d new contacts (%d already existed)", res.Inserted, res.AlreadyExisted)
	}
}

// Stored error and progress texts are capped so a row change always fits
// into a postgres notification (8000 bytes).
const (
	MaxErrorLength   = 1000
	MaxMessageLength = 500
)

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}

	return s
}
