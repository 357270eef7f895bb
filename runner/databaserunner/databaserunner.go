// Package databaserunner runs only the scheduler against a shared
// postgres database. Any number of these can run next to the API
// process; the atomic claim keeps them from running a task twice.
package databaserunner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/runner"
)

type dbrunner struct {
	app    *runner.App
	logger *zap.Logger
}

func New(ctx context.Context, cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeDatabase {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if cfg.Dsn == "" {
		return nil, fmt.Errorf("database runner requires a dsn")
	}

	app, err := runner.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &dbrunner{app: app, logger: logger}, nil
}

func (d *dbrunner) Run(ctx context.Context) error {
	// event sources only feed API processes, so Background is not run here
	d.logger.Info("database runner started")

	return d.app.Scheduler.Run(ctx)
}

func (d *dbrunner) Close(context.Context) error {
	return d.app.Close()
}
