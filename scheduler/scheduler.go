// Package scheduler claims pending tasks and runs one orchestrator per
// task, recovering tasks abandoned by a crashed process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
)

const retryLimitReason = "exceeded retry limit"

// Runner executes a claimed task to a terminal state.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory creates a fresh Runner for every claimed task.
type Factory interface {
	New(task models.Task) Runner
}

type FactoryFunc func(task models.Task) Runner

func (f FactoryFunc) New(task models.Task) Runner {
	return f(task)
}

// Observer is told about every finished task. err is nil on success.
type Observer func(task models.Task, err error, took time.Duration)

type Config struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	StuckTimeout  time.Duration `mapstructure:"stuck_timeout"`
	RecoveryBatch int           `mapstructure:"recovery_batch"`
	MaxRetries    int           `mapstructure:"max_retries"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}

	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}

	if c.StuckTimeout <= 0 {
		c.StuckTimeout = 10 * time.Minute
	}

	if c.RecoveryBatch <= 0 {
		c.RecoveryBatch = 10
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
}

type Option func(*Scheduler)

func WithObserver(fn Observer) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

type Scheduler struct {
	store    models.TaskStore
	factory  Factory
	cfg      Config
	logger   *zap.Logger
	observer Observer

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup

	// tasks outlive the loop context so Stop can let them finish.
	tasksCtx    context.Context
	cancelTasks context.CancelFunc

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(store models.TaskStore, factory Factory, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	cfg.setDefaults()

	if logger == nil {
		logger = zap.NewNop()
	}

	tasksCtx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		store:       store,
		factory:     factory,
		cfg:         cfg,
		logger:      logger,
		active:      make(map[string]struct{}),
		tasksCtx:    tasksCtx,
		cancelTasks: cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the polling loop. Calling it again is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loopDone != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})

	go s.loop(loopCtx, s.loopDone)

	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
}

// Stop ends the loop and waits for running tasks until ctx is done, then
// cancels whatever is left. Cancelled tasks stay running in the store and
// are picked up by stuck recovery.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	finished := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(finished)
	}()

	defer s.cancelTasks()

	select {
	case <-finished:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stopped with active tasks", zap.Int("active", s.ActiveCount()))
		return ctx.Err()
	}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()

	return s.Stop(stopCtx)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one recovery, capacity and dispatch pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.recoverStuck(ctx)

	available := s.cfg.MaxConcurrent - s.ActiveCount()
	if available <= 0 {
		return
	}

	pending, err := s.store.ListPending(ctx, available)
	if err != nil {
		s.logger.Error("cannot list pending tasks", zap.Error(err))
		return
	}

	for _, task := range pending {
		if s.IsActive(task.ID) {
			continue
		}

		ok, err := s.store.Claim(ctx, task.ID)
		if err != nil {
			s.logger.Error("cannot claim task", zap.String("task_id", task.ID), zap.Error(err))
			return
		}

		if !ok {
			continue
		}

		task.Status = models.StatusRunning

		s.dispatch(task)
	}
}

func (s *Scheduler) recoverStuck(ctx context.Context) {
	stuck, err := s.store.ListStuck(ctx, s.cfg.StuckTimeout, s.cfg.RecoveryBatch)
	if err != nil {
		s.logger.Error("cannot list stuck tasks", zap.Error(err))
		return
	}

	for _, task := range stuck {
		if s.IsActive(task.ID) {
			continue
		}

		log := s.logger.With(zap.String("task_id", task.ID), zap.Int("retry_count", task.RetryCount))

		if task.RetryCount >= s.cfg.MaxRetries {
			if err := s.store.Fail(ctx, task.ID, retryLimitReason); err != nil {
				log.Warn("cannot fail stuck task", zap.Error(err))
				continue
			}

			log.Warn("stuck task failed after too many retries")

			continue
		}

		retries, err := s.store.ResetToPending(ctx, task.ID)
		if err != nil {
			log.Warn("cannot reset stuck task", zap.Error(err))
			continue
		}

		log.Info("stuck task reset to pending", zap.Int("retries", retries))
	}
}

func (s *Scheduler) dispatch(task models.Task) {
	s.mu.Lock()
	s.active[task.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		started := time.Now()

		var runErr error

		defer s.wg.Done()

		defer func() {
			if s.observer != nil {
				s.observer(task, runErr, time.Since(started))
			}

			s.mu.Lock()
			delete(s.active, task.ID)
			s.mu.Unlock()
		}()

		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)

				s.logger.Error("task panicked",
					zap.String("task_id", task.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)

				s.fail(task.ID, runErr)
			}
		}()

		runErr = s.factory.New(task).Run(s.tasksCtx)

		s.finish(task.ID, runErr)
	}()
}

func (s *Scheduler) finish(id string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, models.ErrTaskNotRunning):
		s.logger.Info("task stopped externally", zap.String("task_id", id))
	case s.tasksCtx.Err() != nil:
		s.logger.Info("task interrupted by shutdown", zap.String("task_id", id))
	default:
		s.fail(id, err)
	}
}

// fail records err unless the task already reached a terminal state.
func (s *Scheduler) fail(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.store.Fail(ctx, id, cause.Error())
	if err == nil || errors.Is(err, models.ErrInvalidTransition) {
		return
	}

	s.logger.Error("cannot mark task failed", zap.String("task_id", id), zap.Error(err))
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

func (s *Scheduler) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.active[id]

	return ok
}
