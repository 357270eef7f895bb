// Package progress fans task state changes out to subscribed clients.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
)

// Event is the push payload for a single task row change.
type Event struct {
	TaskID    string            `json:"task_id"`
	OwnerID   string            `json:"owner_id"`
	Status    models.TaskStatus `json:"status"`
	Stage     string            `json:"stage"`
	Progress  models.Progress   `json:"progress"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// EventFromTask snapshots the fields clients render.
func EventFromTask(t models.Task) Event {
	return Event{
		TaskID:    t.ID,
		OwnerID:   t.OwnerID,
		Status:    t.Status,
		Stage:     t.Stage,
		Progress:  t.Progress,
		Error:     t.Error,
		UpdatedAt: t.UpdatedAt,
	}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const defaultBuffer = 32

type subscriber struct {
	ch chan Event
}

// Hub is an in-process, owner-filtered broadcaster. Delivery is best
// effort: a subscriber whose buffer is full misses the event and relies
// on polling to catch up.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	logger *zap.Logger
}

var _ Publisher = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Subscribe registers a listener for the owner's tasks. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(ownerID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[*subscriber]struct{})
	}

	h.subs[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once

	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[ownerID], sub)

			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}

			close(sub.ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.OwnerID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug("dropping progress event for slow subscriber",
				zap.String("task_id", ev.TaskID),
				zap.String("owner_id", ev.OwnerID),
			)
		}
	}

	return nil
}

// Subscribers returns how many listeners the owner has.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs[ownerID])
}
