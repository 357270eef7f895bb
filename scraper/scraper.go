// Package scraper fetches candidate websites and extracts contact emails.
package scraper

import (
	"context"
	"time"

	"github.com/Vector/vector-leads-pipeline/models"
)

// Page is the outcome of scraping one URL. Err is set when the page
// could not be fetched; such pages carry no data.
type Page struct {
	URL         string
	Title       string
	Description string
	Emails      []string
	Err         error
}

// Scraper fetches a batch of URLs with at most concurrency fetches in
// flight. The returned pages need not follow the input order.
type Scraper interface {
	Scrape(ctx context.Context, urls []string, concurrency int) ([]Page, error)
}

// Candidate converts a fetched page into a pipeline candidate.
func (p Page) Candidate() models.Candidate {
	c := models.Candidate{
		Name:         p.Title,
		URL:          p.URL,
		Description:  p.Description,
		Emails:       p.Emails,
		DiscoveredAt: time.Now().UTC(),
	}

	if len(p.Emails) > 0 {
		c.Email = p.Emails[0]
	}

	return c
}
