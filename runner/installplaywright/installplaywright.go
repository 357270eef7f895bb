package installplaywright

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/Vector/vector-leads-pipeline/runner"
)

type installer struct{}

// New returns a runner that installs the browser used by JS scraping.
func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeInstallPlaywright {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return installer{}, nil
}

func (installer) Run(context.Context) error {
	return playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
}

func (installer) Close(context.Context) error {
	return nil
}
