// Package pipeline runs the stages of one lead generation task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/deduper"
	"github.com/Vector/vector-leads-pipeline/geosearch"
	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/querygen"
)

const (
	StageQueryGeneration = "query-generation"
	StageSearching       = "searching"
	StageAggregating     = "aggregating"
	StageScraping        = "scraping"
	StageFiltering       = "filtering"
	StageDeduplicating   = "deduplicating"
	StageCompleting      = "completing"
)

const (
	DefaultMaxQueries   = 3
	DefaultScrapeFanout = 10
)

// ErrNoQueries means the generator produced nothing usable.
var ErrNoQueries = errors.New("no search queries generated")

// ScrapeExecutor scrapes URLs in parallel. A failed chunk yields no
// candidates instead of an error.
type ScrapeExecutor interface {
	ScrapeParallel(ctx context.Context, urls []string, fanout int) []models.Candidate
}

// Deduplicator drops candidates the owner already has.
type Deduplicator interface {
	FilterNew(ctx context.Context, ownerID string, candidates []models.Candidate) (deduper.Result, error)
}

// Outreach receives newly persisted contacts. Errors are logged only.
type Outreach interface {
	ContactsPersisted(ctx context.Context, task models.Task, res models.CompleteResult) error
}

type Config struct {
	MaxQueries   int `mapstructure:"max_queries"`
	ScrapeFanout int `mapstructure:"scrape_fanout"`
}

// Deps are the collaborators shared by every orchestrator.
type Deps struct {
	Store     models.TaskStore
	Generator querygen.Generator
	Searcher  geosearch.Searcher
	Scraper   ScrapeExecutor
	Deduper   Deduplicator
	Outreach  Outreach
}

// Factory builds one Orchestrator per claimed task.
type Factory struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func NewFactory(deps Deps, cfg Config, logger *zap.Logger) *Factory {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = DefaultMaxQueries
	}

	if cfg.ScrapeFanout <= 0 {
		cfg.ScrapeFanout = DefaultScrapeFanout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Factory{deps: deps, cfg: cfg, logger: logger}
}

func (f *Factory) New(task models.Task) *Orchestrator {
	o := &Orchestrator{
		deps:   f.deps,
		cfg:    f.cfg,
		task:   task,
		logger: f.logger.With(zap.String("task_id", task.ID), zap.String("kind", string(task.Kind))),
		state:  &taskContext{},
	}

	switch task.Kind {
	case models.KindDirectURL:
		o.state.urls = []string{task.URL}
		o.stages = []stage{
			{name: StageScraping, run: o.scrape},
			{name: StageFiltering, run: o.filter},
			{name: StageDeduplicating, run: o.deduplicate},
			{name: StageCompleting, run: o.complete},
		}
	default:
		o.stages = []stage{
			{name: StageQueryGeneration, run: o.generateQueries},
			{name: StageSearching, run: o.search},
			{name: StageAggregating, run: o.aggregate},
			{name: StageScraping, run: o.scrape},
			{name: StageFiltering, run: o.filter},
			{name: StageDeduplicating, run: o.deduplicate},
			{name: StageCompleting, run: o.complete},
		}
	}

	return o
}

// stage returns the progress message on success.
type stage struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator owns a single running task. It is not reusable.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	task   models.Task
	stages []stage
	state  *taskContext
	logger *zap.Logger
}

func (o *Orchestrator) TaskID() string {
	return o.task.ID
}

// Run executes the stages in order, writing progress after each. A stage
// error marks the task failed. When a progress write finds the task no
// longer running (cancelled externally) Run stops and returns an error
// wrapping models.ErrTaskNotRunning without touching the task.
func (o *Orchestrator) Run(ctx context.Context) error {
	started := time.Now()
	total := len(o.stages)

	o.logger.Info("pipeline started", zap.Int("stages", total))

	for i, st := range o.stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := st.run(ctx)
		if err != nil {
			// shutdown: leave the task running for stuck recovery
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if isAbort(err) {
				o.logger.Info("pipeline aborted", zap.String("stage", st.name), zap.Error(err))
				return err
			}

			serr := &StageError{Stage: st.name, Err: err}
			o.fail(ctx, serr)

			return serr
		}

		// Complete already wrote the final progress.
		if st.name == StageCompleting {
			break
		}

		if err := o.deps.Store.UpdateProgress(ctx, o.task.ID, st.name, i+1, total, msg); err != nil {
			if isAbort(err) {
				o.logger.Info("pipeline aborted", zap.String("stage", st.name), zap.Error(err))
				return err
			}

			serr := &StageError{Stage: st.name, Err: err}
			o.fail(ctx, serr)

			return serr
		}

		o.logger.Debug("stage done", zap.String("stage", st.name), zap.String("message", msg))
	}

	o.logger.Info("pipeline finished",
		zap.Int("inserted", o.state.result.Inserted),
		zap.Int("already_existed", o.state.result.AlreadyExisted),
		zap.Duration("took", time.Since(started)),
	)

	return nil
}

func (o *Orchestrator) fail(ctx context.Context, serr *StageError) {
	o.logger.Warn("pipeline failed", zap.String("stage", serr.Stage), zap.Error(serr.Err))

	if err := o.deps.Store.Fail(ctx, o.task.ID, serr.Error()); err != nil && !isAbort(err) {
		o.logger.Error("cannot mark task failed", zap.Error(err))
	}
}

func isAbort(err error) bool {
	return errors.Is(err, models.ErrTaskNotRunning) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidTransition)
}
