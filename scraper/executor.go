package scraper

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
)

const DefaultFanout = 10

// Executor splits a URL list across concurrent sub-jobs.
type Executor struct {
	scraper     Scraper
	concurrency int
	logger      *zap.Logger
}

// NewExecutor returns an Executor whose sub-jobs each run with the given
// per-job concurrency.
func NewExecutor(s Scraper, concurrency int, logger *zap.Logger) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{scraper: s, concurrency: concurrency, logger: logger}
}

// Chunk splits urls into fanout contiguous chunks of len(urls)/fanout
// elements; the last chunk takes the remainder. fanout is clamped to
// [1, len(urls)].
func Chunk(urls []string, fanout int) [][]string {
	if len(urls) == 0 {
		return nil
	}

	fanout = max(1, min(fanout, len(urls)))
	size := len(urls) / fanout

	chunks := make([][]string, 0, fanout)

	for i := 0; i < fanout; i++ {
		start := i * size
		end := start + size

		if i == fanout-1 {
			end = len(urls)
		}

		chunks = append(chunks, urls[start:end])
	}

	return chunks
}

// ScrapeParallel scrapes every URL once. A sub-job that errors or panics
// contributes nothing; the other chunks are unaffected. Pages that failed
// to fetch are dropped.
func (e *Executor) ScrapeParallel(ctx context.Context, urls []string, fanout int) []models.Candidate {
	if fanout <= 0 {
		fanout = DefaultFanout
	}

	chunks := Chunk(urls, fanout)
	results := make([][]Page, len(chunks))

	var wg sync.WaitGroup

	for i := range chunks {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			pages, err := e.scrapeChunk(ctx, chunks[i])
			if err != nil {
				e.logger.Warn("scrape chunk failed",
					zap.Int("chunk", i),
					zap.Int("urls", len(chunks[i])),
					zap.Error(err),
				)

				return
			}

			results[i] = pages
		}(i)
	}

	wg.Wait()

	var ans []models.Candidate

	for _, pages := range results {
		for _, p := range pages {
			if p.Err != nil {
				continue
			}

			ans = append(ans, p.Candidate())
		}
	}

	return ans
}

func (e *Executor) scrapeChunk(ctx context.Context, urls []string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("scrape panic: %v", r)
		}
	}()

	return e.scraper.Scrape(ctx, urls, e.concurrency)
}
