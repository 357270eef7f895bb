// Package exiter stops a scrapemate run once every seeded page is processed.
package exiter

import (
	"context"
	"sync"
	"time"
)

type Exiter interface {
	SetSeedCount(int)
	SetCancelFunc(context.CancelFunc)
	IncrCompleted(int)
	Progress() (completed int, total int)
	Run(context.Context)
}

type exiter struct {
	seedCount int
	completed int
	interval  time.Duration

	mu         *sync.Mutex
	cancelFunc context.CancelFunc
}

func New() Exiter {
	return &exiter{
		mu:       &sync.Mutex{},
		interval: 250 * time.Millisecond,
	}
}

func (e *exiter) SetSeedCount(val int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seedCount = val
}

func (e *exiter) SetCancelFunc(fn context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelFunc = fn
}

// IncrCompleted counts successful and failed pages alike.
func (e *exiter) IncrCompleted(val int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.completed += val
}

func (e *exiter) Progress() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.completed, e.seedCount
}

func (e *exiter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.isDone() {
				continue
			}

			e.mu.Lock()
			cancel := e.cancelFunc
			e.mu.Unlock()

			if cancel != nil {
				cancel()
			}

			return
		}
	}
}

func (e *exiter) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.completed >= e.seedCount
}
