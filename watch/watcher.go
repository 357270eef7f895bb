package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/progress"
)

const DefaultPollInterval = 5 * time.Second

type Config struct {
	BaseURL      string
	APIKey       string
	OwnerID      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Watcher follows a set of tasks until each reaches a terminal status.
// The event stream is the fast path. A poll runs next to it and fetches
// every task that had no pushed event since the previous tick, so the
// watcher converges even when the stream is down.
type Watcher struct {
	cfg     Config
	client  *http.Client
	reducer *Reducer
	logger  *zap.Logger

	mu        sync.Mutex
	pending   map[string]struct{}
	pushed    map[string]bool
	onChange  func(progress.Event)
	converged chan struct{}
}

func New(cfg Config, logger *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		cfg:     cfg,
		client:  client,
		reducer: NewReducer(),
		logger:  logger,
	}
}

func (w *Watcher) Reducer() *Reducer {
	return w.reducer
}

// Watch blocks until every task in ids is terminal or ctx is done.
// onChange, when set, is called for each applied status change.
func (w *Watcher) Watch(ctx context.Context, ids []string, onChange func(progress.Event)) (map[string]models.TaskStatus, error) {
	w.mu.Lock()
	w.pending = make(map[string]struct{}, len(ids))
	w.pushed = make(map[string]bool, len(ids))
	w.onChange = onChange
	w.converged = make(chan struct{})

	for _, id := range ids {
		if s, ok := w.reducer.Status(id); ok && s.Terminal() {
			continue
		}

		w.pending[id] = struct{}{}
	}

	if len(w.pending) == 0 {
		close(w.converged)
	}

	converged := w.converged
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return w.stream(gctx)
	})

	g.Go(func() error {
		return w.poll(gctx)
	})

	select {
	case <-converged:
	case <-ctx.Done():
	}

	cancel()

	if err := g.Wait(); err != nil {
		return w.statuses(ids), err
	}

	select {
	case <-converged:
		return w.statuses(ids), nil
	default:
		return w.statuses(ids), ctx.Err()
	}
}

func (w *Watcher) statuses(ids []string) map[string]models.TaskStatus {
	ans := make(map[string]models.TaskStatus, len(ids))

	for _, id := range ids {
		if s, ok := w.reducer.Status(id); ok {
			ans[id] = s
		}
	}

	return ans
}

func (w *Watcher) handle(ev progress.Event, pushed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[ev.TaskID]; !ok {
		return
	}

	if pushed {
		w.pushed[ev.TaskID] = true
	}

	if !w.reducer.Apply(ev) {
		return
	}

	if w.onChange != nil {
		w.onChange(ev)
	}

	if ev.Status.Terminal() {
		delete(w.pending, ev.TaskID)

		if len(w.pending) == 0 {
			close(w.converged)
		}
	}
}

// due returns the tasks that need a pull and clears the pushed marks.
func (w *Watcher) due() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ans := make([]string, 0, len(w.pending))

	for id := range w.pending {
		if !w.pushed[id] {
			ans = append(ans, id)
		}
	}

	w.pushed = make(map[string]bool, len(w.pending))

	return ans
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for _, id := range w.due() {
			task, err := w.fetch(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				w.logger.Warn("cannot poll task", zap.String("task_id", id), zap.Error(err))

				continue
			}

			w.handle(progress.EventFromTask(task), false)
		}
	}
}

func (w *Watcher) fetch(ctx context.Context, id string) (models.Task, error) {
	req, err := w.newRequest(ctx, "/api/v1/tasks/"+id)
	if err != nil {
		return models.Task{}, err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return models.Task{}, eris.Wrap(err, "watch: get task")
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Task{}, eris.Errorf("watch: get task: status %d", resp.StatusCode)
	}

	var task models.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return models.Task{}, eris.Wrap(err, "watch: decode task")
	}

	return task, nil
}

// stream keeps the event stream open, reconnecting with backoff.
func (w *Watcher) stream(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := w.readStream(ctx, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()

		w.logger.Debug("event stream unavailable", zap.Error(err), zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) readStream(ctx context.Context, connected func()) error {
	req, err := w.newRequest(ctx, "/api/v1/events")
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "text/event-stream")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "watch: open event stream")
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("watch: open event stream: status %d", resp.StatusCode)
	}

	connected()

	var data strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				w.dispatch(data.String())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// comment or heartbeat
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}

			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "watch: read event stream")
	}

	return eris.New("watch: event stream closed")
}

func (w *Watcher) dispatch(payload string) {
	var ev progress.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		w.logger.Warn("discarding malformed task event", zap.Error(err))
		return
	}

	w.handle(ev, true)
}

func (w *Watcher) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.BaseURL+path, http.NoBody)
	if err != nil {
		return nil, eris.Wrap(err, "watch: build request")
	}

	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", w.cfg.APIKey))
	}

	if w.cfg.OwnerID != "" {
		req.Header.Set("X-User-ID", w.cfg.OwnerID)
	}

	return req, nil
}
