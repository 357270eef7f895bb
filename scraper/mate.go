package scraper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/scrapemateapp"
	"github.com/rotisserie/eris"

	"github.com/Vector/vector-leads-pipeline/exiter"
)

// MateConfig tunes the scrapemate apps started by MateScraper.
type MateConfig struct {
	// JS renders pages with playwright. Without it the stealth HTTP
	// fetcher is used.
	JS               bool
	Proxies          []string
	ExitOnInactivity time.Duration
}

// MateScraper runs one scrapemate app per Scrape call.
type MateScraper struct {
	cfg MateConfig
}

var _ Scraper = (*MateScraper)(nil)

func NewMateScraper(cfg MateConfig) *MateScraper {
	if cfg.ExitOnInactivity <= 0 {
		cfg.ExitOnInactivity = 2 * time.Minute
	}

	return &MateScraper{cfg: cfg}
}

func (s *MateScraper) Scrape(ctx context.Context, urls []string, concurrency int) ([]Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitMonitor := exiter.New()
	exitMonitor.SetSeedCount(len(urls))
	exitMonitor.SetCancelFunc(cancel)

	collector := &pageCollector{}

	opts := []func(*scrapemateapp.Config) error{
		scrapemateapp.WithConcurrency(concurrency),
		scrapemateapp.WithExitOnInactivity(s.cfg.ExitOnInactivity),
	}

	if s.cfg.JS {
		opts = append(opts, scrapemateapp.WithJS(scrapemateapp.DisableImages()))
	} else {
		opts = append(opts, scrapemateapp.WithStealth("firefox"))
	}

	if len(s.cfg.Proxies) > 0 {
		opts = append(opts, scrapemateapp.WithProxies(s.cfg.Proxies))
	}

	matecfg, err := scrapemateapp.NewConfig([]scrapemate.ResultWriter{collector}, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: create scrapemate config")
	}

	mate, err := scrapemateapp.NewScrapeMateApp(matecfg)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: create scrapemate app")
	}

	defer mate.Close()

	parentID := uuid.New().String()

	seeds := make([]scrapemate.IJob, 0, len(urls))
	for _, u := range urls {
		seeds = append(seeds, NewEmailJob(parentID, u, WithExitMonitor(exitMonitor)))
	}

	go exitMonitor.Run(ctx)

	err = mate.Start(ctx, seeds...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, eris.Wrap(err, "scraper: run scrapemate")
	}

	return collector.pages(), nil
}

// pageCollector is a scrapemate.ResultWriter that keeps pages in memory.
type pageCollector struct {
	mu        sync.Mutex
	collected []Page
}

func (c *pageCollector) Run(ctx context.Context, in <-chan scrapemate.Result) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-in:
			if !ok {
				return nil
			}

			page, ok := result.Data.(*Page)
			if !ok {
				continue
			}

			c.mu.Lock()
			c.collected = append(c.collected, *page)
			c.mu.Unlock()
		}
	}
}

func (c *pageCollector) pages() []Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Page(nil), c.collected...)
}
