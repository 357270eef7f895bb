package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/deduper"
	"github.com/Vector/vector-leads-pipeline/geosearch"
	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/pipeline"
	"github.com/Vector/vector-leads-pipeline/postgres"
	"github.com/Vector/vector-leads-pipeline/progress"
	"github.com/Vector/vector-leads-pipeline/querygen"
	"github.com/Vector/vector-leads-pipeline/redis"
	redisconfig "github.com/Vector/vector-leads-pipeline/redis/config"
	"github.com/Vector/vector-leads-pipeline/scheduler"
	"github.com/Vector/vector-leads-pipeline/scraper"
	"github.com/Vector/vector-leads-pipeline/sqlite"
	"github.com/Vector/vector-leads-pipeline/tlmt"
)

// App holds the wired components shared by the runners.
type App struct {
	Store     models.Store
	Hub       *progress.Hub
	Scheduler *scheduler.Scheduler

	// Background loops that feed the hub, run next to the scheduler.
	Background []func(context.Context) error

	closers []func() error
}

// NewApp opens the store and event source and builds the scheduler with
// its pipeline.
func NewApp(ctx context.Context, cfg *Config, logger *zap.Logger) (app *App, err error) {
	app = &App{Hub: progress.NewHub(logger.Named("events"))}

	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	base, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app.closers = append(app.closers, base.Close)

	if app.Store, err = app.wireEvents(cfg, base, pool, logger); err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Store:     app.Store,
		Generator: newGenerator(cfg.QueryGen, logger),
		Searcher:  geosearch.New(cfg.GeoSearch),
		Scraper: scraper.NewExecutor(scraper.NewMateScraper(scraper.MateConfig{
			JS:               cfg.Scrape.JS,
			Proxies:          cfg.Scrape.Proxies,
			ExitOnInactivity: cfg.Scrape.ExitOnInactivity,
		}), cfg.Scrape.Concurrency, logger.Named("scraper")),
		Deduper: deduper.NewEngine(app.Store, cfg.Dedup.BatchSize),
	}

	if cfg.Outreach.Enabled {
		rcfg, err := redisconfig.NewRedisConfig()
		if err != nil {
			return nil, eris.Wrap(err, "outreach: redis config")
		}

		client, err := redis.NewClient(ctx, rcfg)
		if err != nil {
			return nil, eris.Wrap(err, "outreach")
		}

		app.closers = append(app.closers, client.Close)
		deps.Outreach = redis.NewHandoff(client, logger.Named("outreach"))
	}

	factory := pipeline.NewFactory(deps, cfg.Pipeline, logger.Named("pipeline"))

	app.Scheduler = scheduler.New(
		app.Store,
		scheduler.FactoryFunc(func(task models.Task) scheduler.Runner {
			return factory.New(task)
		}),
		cfg.Scheduler,
		logger.Named("scheduler"),
		scheduler.WithObserver(TelemetryObserver(Telemetry(cfg.Telemetry), app.Store, logger)),
	)

	return app, nil
}

func openStore(ctx context.Context, cfg *Config) (models.Store, *pgxpool.Pool, error) {
	if cfg.Dsn != "" {
		pool, err := postgres.Connect(ctx, cfg.Dsn, postgres.PoolConfig{})
		if err != nil {
			return nil, nil, err
		}

		return postgres.NewRepository(pool), pool, nil
	}

	if err := os.MkdirAll(cfg.DataFolder, os.ModePerm); err != nil {
		return nil, nil, eris.Wrap(err, "create data folder")
	}

	store, err := sqlite.New(filepath.Join(cfg.DataFolder, "tasks.db"))
	if err != nil {
		return nil, nil, err
	}

	return store, nil, nil
}

// wireEvents connects the hub to the configured event source and returns
// the store every writer must go through.
func (app *App) wireEvents(cfg *Config, base models.Store, pool *pgxpool.Pool, logger *zap.Logger) (models.Store, error) {
	switch cfg.Events.Backend {
	case EventsPostgres:
		if pool == nil {
			return nil, eris.New("postgres events require a postgres store")
		}

		listener := postgres.NewListener(pool, app.Hub, logger.Named("listener"))
		app.Background = append(app.Background, listener.Run)

		return base, nil
	case EventsRedis:
		rcfg, err := redisconfig.NewRedisConfig()
		if err != nil {
			return nil, eris.Wrap(err, "events: redis config")
		}

		client := goredis.NewClient(rcfg.ClientOptions())
		app.closers = append(app.closers, client.Close)

		bus := progress.NewRedisBus(client, cfg.Events.RedisChannel, logger.Named("events"))
		app.Background = append(app.Background, func(ctx context.Context) error {
			return bus.Run(ctx, app.Hub)
		})

		return progress.NewNotifyingStore(base, bus, logger), nil
	default:
		return progress.NewNotifyingStore(base, app.Hub, logger), nil
	}
}

// newGenerator falls back to a generator that fails query-search tasks
// with the configuration error, so direct-url tasks still run.
func newGenerator(cfg querygen.Config, logger *zap.Logger) querygen.Generator {
	gen, err := querygen.New(cfg)
	if err == nil {
		return gen
	}

	logger.Warn("query generation unavailable", zap.Error(err))

	return unavailableGenerator{err: err}
}

type unavailableGenerator struct {
	err error
}

func (g unavailableGenerator) Generate(context.Context, string) ([]querygen.QuerySet, error) {
	return nil, eris.Wrap(g.err, "query generation unavailable")
}

// TelemetryObserver reports every finished task.
func TelemetryObserver(t tlmt.Telemetry, store models.TaskStore, logger *zap.Logger) scheduler.Observer {
	return func(task models.Task, runErr error, took time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if final, err := store.Get(ctx, task.ID); err == nil {
			task = final
		}

		ev := tlmt.NewTaskEvent(tlmt.TaskOutcome{
			Kind:     string(task.Kind),
			Status:   string(task.Status),
			Stages:   task.Progress.Total,
			Retries:  task.RetryCount,
			Duration: took,
			Failed:   runErr != nil,
		})

		if err := t.Send(ctx, ev); err != nil {
			logger.Debug("cannot send telemetry", zap.Error(err))
		}
	}
}

// Close releases everything NewApp opened, newest first.
func (app *App) Close() error {
	var errs []error

	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	app.closers = nil

	return errors.Join(errs...)
}
