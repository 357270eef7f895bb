package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/runner"
	"github.com/Vector/vector-leads-pipeline/runner/databaserunner"
	"github.com/Vector/vector-leads-pipeline/runner/installplaywright"
	"github.com/Vector/vector-leads-pipeline/runner/webrunner"
)

func main() {
	_ = godotenv.Load() // Load .env file if present

	cfg, err := runner.ParseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := runner.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	defer func() { _ = logger.Sync() }()

	os.Exit(run(cfg, logger))
}

func run(cfg *runner.Config, logger *zap.Logger) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() { _ = runner.Telemetry(cfg.Telemetry).Close() }()

	if cfg.RunMode != runner.RunModeInstallPlaywright {
		runner.Banner(cfg)
	}

	runnerInstance, err := runnerFactory(ctx, cfg, logger)
	if err != nil {
		logger.Error("cannot start", zap.Error(err))
		return 1
	}

	defer func() { _ = runnerInstance.Close(context.Background()) }()

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped", zap.Error(err))
		return 1
	}

	logger.Info("shut down")

	return 0
}

func runnerFactory(ctx context.Context, cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeDatabase:
		return databaserunner.New(ctx, cfg, logger)
	case runner.RunModeInstallPlaywright:
		return installplaywright.New(cfg)
	case runner.RunModeWeb:
		return webrunner.New(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
