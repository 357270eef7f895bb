// Package webrunner serves the task API and runs the scheduler in the
// same process.
package webrunner

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-pipeline/runner"
	"github.com/Vector/vector-leads-pipeline/web"
)

type webrunner struct {
	cfg    *runner.Config
	app    *runner.App
	srv    *web.Server
	logger *zap.Logger
}

func New(ctx context.Context, cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeWeb {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	app, err := runner.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := web.New(web.Config{
		Addr:      cfg.Addr,
		APIKey:    cfg.APIKey,
		Heartbeat: cfg.Events.Heartbeat,
		Store:     app.Store,
		Events:    app.Hub,
		Logger:    logger.Named("http"),
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	return &webrunner{cfg: cfg, app: app, srv: srv, logger: logger}, nil
}

func (w *webrunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.srv.Start(ctx)
	})

	egroup.Go(func() error {
		return w.app.Scheduler.Run(ctx)
	})

	for _, fn := range w.app.Background {
		egroup.Go(func() error {
			return fn(ctx)
		})
	}

	w.logger.Info("web runner started", zap.String("addr", w.cfg.Addr))

	return egroup.Wait()
}

func (w *webrunner) Close(context.Context) error {
	return w.app.Close()
}
