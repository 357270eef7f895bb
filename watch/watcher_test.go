package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/progress"
)

func TestReducerAppliesStatusChangesOnly(t *testing.T) {
	r := NewReducer()

	assert.True(t, r.Apply(progress.Event{TaskID: "t1", Status: models.StatusPending}))
	assert.False(t, r.Apply(progress.Event{TaskID: "t1", Status: models.StatusPending, Stage: "searching"}))
	assert.True(t, r.Apply(progress.Event{TaskID: "t1", Status: models.StatusRunning}))
	assert.True(t, r.Apply(progress.Event{TaskID: "t1", Status: models.StatusCompleted}))

	// late event from the other channel
	assert.False(t, r.Apply(progress.Event{TaskID: "t1", Status: models.StatusRunning}))

	assert.True(t, r.Apply(progress.Event{TaskID: "t2", Status: models.StatusRunning}))
	assert.False(t, r.Apply(progress.Event{TaskID: "", Status: models.StatusRunning}))
	assert.False(t, r.Apply(progress.Event{TaskID: "t3", Status: "unknown"}))

	s, ok := r.Status("t1")
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, s)

	assert.Equal(t, map[string]models.TaskStatus{
		"t1": models.StatusCompleted,
		"t2": models.StatusRunning,
	}, r.Snapshot())
}

func TestDueSkipsPushedTasksForOneTick(t *testing.T) {
	w := New(Config{}, nil)
	w.pending = map[string]struct{}{"a": {}, "b": {}}
	w.pushed = map[string]bool{}
	w.converged = make(chan struct{})

	w.handle(progress.Event{TaskID: "a", Status: models.StatusRunning}, true)

	assert.Equal(t, []string{"b"}, w.due())
	assert.ElementsMatch(t, []string{"a", "b"}, w.due())
}

type fakeAPI struct {
	mu     sync.Mutex
	states map[string][]models.TaskStatus
	polls  atomic.Int32
	stream func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-User-ID") != "owner-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/api/v1/events" {
		if f.stream == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		f.stream(w, r)

		return
	}

	f.polls.Add(1)

	id := r.URL.Path[len("/api/v1/tasks/"):]

	f.mu.Lock()
	seq := f.states[id]
	status := seq[0]

	if len(seq) > 1 {
		f.states[id] = seq[1:]
	}
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(models.Task{ID: id, OwnerID: "owner-1", Status: status})
}

func TestWatchConvergesByPollingWithoutStream(t *testing.T) {
	api := &fakeAPI{states: map[string][]models.TaskStatus{
		"t1": {models.StatusPending, models.StatusRunning, models.StatusRunning, models.StatusCompleted},
		"t2": {models.StatusRunning, models.StatusFailed},
	}}

	srv := httptest.NewServer(api)
	defer srv.Close()

	w := New(Config{BaseURL: srv.URL, OwnerID: "owner-1", PollInterval: 20 * time.Millisecond}, nil)

	var (
		mu      sync.Mutex
		changes []models.TaskStatus
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := w.Watch(ctx, []string{"t1", "t2"}, func(ev progress.Event) {
		mu.Lock()
		defer mu.Unlock()

		if ev.TaskID == "t1" {
			changes = append(changes, ev.Status)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]models.TaskStatus{
		"t1": models.StatusCompleted,
		"t2": models.StatusFailed,
	}, got)
	assert.Equal(t, []models.TaskStatus{models.StatusPending, models.StatusRunning, models.StatusCompleted}, changes)
}

func TestWatchConvergesByPush(t *testing.T) {
	api := &fakeAPI{
		states: map[string][]models.TaskStatus{"t1": {models.StatusPending}},
		stream: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)

			flusher := w.(http.Flusher)

			fmt.Fprint(w, ": connected\n\n")

			for _, s := range []models.TaskStatus{models.StatusRunning, models.StatusCompleted} {
				payload, _ := json.Marshal(progress.Event{TaskID: "t1", OwnerID: "owner-1", Status: s})
				fmt.Fprintf(w, "event: task\nid: t1\ndata: %s\n\n", payload)
				flusher.Flush()
			}

			<-r.Context().Done()
		},
	}

	srv := httptest.NewServer(api)
	defer srv.Close()

	w := New(Config{BaseURL: srv.URL, OwnerID: "owner-1", PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := w.Watch(ctx, []string{"t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got["t1"])
	assert.Zero(t, api.polls.Load())
}

func TestWatchStopsWithContext(t *testing.T) {
	api := &fakeAPI{states: map[string][]models.TaskStatus{"t1": {models.StatusRunning}}}

	srv := httptest.NewServer(api)
	defer srv.Close()

	w := New(Config{BaseURL: srv.URL, OwnerID: "owner-1", PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	got, err := w.Watch(ctx, []string{"t1"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusRunning, got["t1"])
}

func TestWatchReturnsImmediatelyForTerminalTasks(t *testing.T) {
	w := New(Config{BaseURL: "http://127.0.0.1:0", PollInterval: time.Hour}, nil)
	w.Reducer().Apply(progress.Event{TaskID: "t1", Status: models.StatusCancelled})

	got, err := w.Watch(context.Background(), []string{"t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got["t1"])
}
