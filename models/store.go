package models

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrTaskNotRunning    = errors.New("task is not running")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClaimLost         = errors.New("task already claimed")
	ErrAlreadyExists     = errors.New("contact already exists")
)

// TaskStore is the durable task state machine. Every conditional
// transition is a single atomic write so concurrent schedulers and
// API callers cannot both win.
type TaskStore interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (Task, error)
	GetForOwner(ctx context.Context, ownerID, id string) (Task, error)
	List(ctx context.Context, params SelectParams) ([]Task, error)

	// Claim moves a pending task to running. It returns false when the
	// task was not pending anymore.
	Claim(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id, stage string, current, total int, message string) error
	Complete(ctx context.Context, id string, results []Candidate) (CompleteResult, error)
	Fail(ctx context.Context, id, reason string) error
	Cancel(ctx context.Context, id string) error

	ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]Task, error)
	ResetToPending(ctx context.Context, id string) (int, error)
	ListPending(ctx context.Context, limit int) ([]Task, error)
}

// ContactIndex answers membership questions against persisted contacts.
type ContactIndex interface {
	// ExistingEmails returns the subset of normalized emails the owner
	// already has a contact for.
	ExistingEmails(ctx context.Context, ownerID string, normalized []string) ([]string, error)
}

// Store is the combination the runners wire together.
type Store interface {
	TaskStore
	ContactIndex
	Close() error
}
