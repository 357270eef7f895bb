// Package tasks defines the asynq task types this service produces.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TypeContactsPersisted tells the email delivery worker that a task
	// saved new contacts.
	TypeContactsPersisted = "contacts:persisted"
)

type ContactsPersistedPayload struct {
	TaskID   string `json:"task_id"`
	OwnerID  string `json:"owner_id"`
	Inserted int    `json:"inserted"`
}

func NewContactsPersistedTask(p ContactsPersistedPayload, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", TypeContactsPersisted, err)
	}

	return asynq.NewTask(TypeContactsPersisted, payload, opts...), nil
}

func ParseContactsPersisted(t *asynq.Task) (ContactsPersistedPayload, error) {
	var p ContactsPersistedPayload

	if t.Type() != TypeContactsPersisted {
		return p, fmt.Errorf("unexpected task type %q", t.Type())
	}

	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal %s payload: %w", TypeContactsPersisted, err)
	}

	return p, nil
}
