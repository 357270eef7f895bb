package models

import (
	"strings"
	"time"
)

// Candidate is an organization discovered during a pipeline run.
// Candidates are values: stages that enrich one return a copy.
type Candidate struct {
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	URL          string    `json:"url,omitempty"`
	Description  string    `json:"description,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// PrimaryEmail returns the email used as the dedup key.
func (c Candidate) PrimaryEmail() string {
	if e := strings.TrimSpace(c.Email); e != "" {
		return e
	}

	for _, e := range c.Emails {
		if e = strings.TrimSpace(e); e != "" {
			return e
		}
	}

	return ""
}

// Contact is a persisted candidate, unique per owner and normalized email.
type Contact struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	TaskID          string    `json:"task_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	EmailNormalized string    `json:"-"`
	Emails          []string  `json:"emails,omitempty"`
	URL             string    `json:"url,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NormalizeEmail is the canonical form used for contact uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContactFromCandidate converts a deduplicated candidate into a contact row.
func ContactFromCandidate(id, ownerID, taskID string, c Candidate) Contact {
	email := c.PrimaryEmail()

	return Contact{
		ID:              id,
		OwnerID:         ownerID,
		TaskID:          taskID,
		Name:            c.Name,
		Email:           email,
		EmailNormalized: NormalizeEmail(email),
		Emails:          c.Emails,
		URL:             c.URL,
		Description:     c.Description,
		CreatedAt:       time.Now().UTC(),
	}
}
