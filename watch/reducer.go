// Package watch follows task progress from the client side by merging
// the event stream with periodic polling.
package watch

import (
	"sync"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/progress"
)

// Reducer keeps the last status seen per task. Updates that repeat the
// last status are ignored, so the same change arriving over both
// channels is applied once.
type Reducer struct {
	mu   sync.Mutex
	last map[string]models.TaskStatus
}

func NewReducer() *Reducer {
	return &Reducer{last: make(map[string]models.TaskStatus)}
}

// Apply records ev and reports whether it changed the task status.
func (r *Reducer) Apply(ev progress.Event) bool {
	if ev.TaskID == "" || !ev.Status.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.last[ev.TaskID]; ok {
		// terminal states are final
		if prev == ev.Status || prev.Terminal() {
			return false
		}
	}

	r.last[ev.TaskID] = ev.Status

	return true
}

func (r *Reducer) Status(taskID string) (models.TaskStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.last[taskID]

	return s, ok
}

// Snapshot copies the current statuses.
func (r *Reducer) Snapshot() map[string]models.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	ans := make(map[string]models.TaskStatus, len(r.last))
	for k, v := range r.last {
		ans[k] = v
	}

	return ans
}
