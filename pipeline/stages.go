package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Vector/vector-leads-pipeline/deduper"
	"github.com/Vector/vector-leads-pipeline/geosearch"
	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/querygen"
	"github.com/Vector/vector-leads-pipeline/scraper"
)

// taskContext carries data between the stages of one run.
type taskContext struct {
	queries    []string
	listings   []geosearch.Listing
	urls       []string
	byURL      map[string]geosearch.Listing
	noWebsite  []models.Candidate
	candidates []models.Candidate
	withEmail  []models.Candidate
	unique     []models.Candidate
	duplicates int
	result     models.CompleteResult
}

func (o *Orchestrator) generateQueries(ctx context.Context) (string, error) {
	sets, err := o.deps.Generator.Generate(ctx, o.task.Query)
	if err != nil {
		return "", err
	}

	o.state.queries = querygen.Flatten(sets, o.cfg.MaxQueries)
	if len(o.state.queries) == 0 {
		return "", ErrNoQueries
	}

	return fmt.Sprintf("generated %d search queries", len(o.state.queries)), nil
}

func (o *Orchestrator) search(ctx context.Context) (string, error) {
	results := make([][]geosearch.Listing, len(o.state.queries))
	errs := make([]error, len(o.state.queries))

	var g errgroup.Group

	for i, q := range o.state.queries {
		g.Go(func() error {
			listings, err := o.deps.Searcher.Search(ctx, q)
			if err != nil {
				o.logger.Warn("search query failed", zap.String("query", q), zap.Error(err))
				errs[i] = err

				return nil
			}

			results[i] = listings

			return nil
		})
	}

	_ = g.Wait()

	var (
		failed   int
		firstErr error
	)

	for i := range errs {
		if errs[i] == nil {
			o.state.listings = append(o.state.listings, results[i]...)
			continue
		}

		failed++

		if firstErr == nil {
			firstErr = errs[i]
		}
	}

	if failed == len(o.state.queries) {
		return "", fmt.Errorf("all %d search queries failed: %w", failed, firstErr)
	}

	return fmt.Sprintf("found %d listings with %d queries", len(o.state.listings), len(o.state.queries)-failed), nil
}

func (o *Orchestrator) aggregate(ctx context.Context) (string, error) {
	seen := deduper.NewSeen()
	o.state.byURL = make(map[string]geosearch.Listing)

	for _, l := range o.state.listings {
		if l.URL == "" {
			o.state.noWebsite = append(o.state.noWebsite, models.Candidate{
				Name:         l.Name,
				Description:  l.Description,
				DiscoveredAt: time.Now().UTC(),
			})

			continue
		}

		key := normalizeURL(l.URL)
		if !seen.AddIfNotExists(ctx, key) {
			continue
		}

		o.state.urls = append(o.state.urls, l.URL)
		o.state.byURL[key] = l
	}

	return fmt.Sprintf("%d websites to scrape, %d listings without website", len(o.state.urls), len(o.state.noWebsite)), nil
}

func (o *Orchestrator) scrape(ctx context.Context) (string, error) {
	scraped := o.deps.Scraper.ScrapeParallel(ctx, o.state.urls, o.cfg.ScrapeFanout)

	o.state.candidates = make([]models.Candidate, 0, len(scraped)+len(o.state.noWebsite))

	for _, c := range scraped {
		if l, ok := o.state.byURL[normalizeURL(c.URL)]; ok {
			c = mergeListing(c, l)
		}

		o.state.candidates = append(o.state.candidates, c)
	}

	o.state.candidates = append(o.state.candidates, o.state.noWebsite...)

	return fmt.Sprintf("scraped %d of %d websites", len(scraped), len(o.state.urls)), nil
}

func (o *Orchestrator) filter(_ context.Context) (string, error) {
	for _, c := range o.state.candidates {
		emails := usableEmails(c)
		if len(emails) == 0 {
			continue
		}

		c.Email = emails[0]
		c.Emails = emails

		o.state.withEmail = append(o.state.withEmail, c)
	}

	return fmt.Sprintf("%d of %d candidates have an email", len(o.state.withEmail), len(o.state.candidates)), nil
}

func (o *Orchestrator) deduplicate(ctx context.Context) (string, error) {
	res, err := o.deps.Deduper.FilterNew(ctx, o.task.OwnerID, o.state.withEmail)
	if err != nil {
		return "", err
	}

	o.state.unique = res.Unique
	o.state.duplicates = res.DuplicateCount

	return fmt.Sprintf("%d new contacts, %d duplicates", len(res.Unique), res.DuplicateCount), nil
}

func (o *Orchestrator) complete(ctx context.Context) (string, error) {
	res, err := o.deps.Store.Complete(ctx, o.task.ID, o.state.unique)
	if err != nil {
		return "", err
	}

	o.state.result = res

	if o.deps.Outreach != nil && res.Inserted > 0 {
		if err := o.deps.Outreach.ContactsPersisted(ctx, o.task, res); err != nil {
			o.logger.Warn("outreach handoff failed", zap.Error(err))
		}
	}

	return models.CompletionMessage(res), nil
}

// usableEmails returns the candidate's emails, or those found in its
// description when the website had none.
func usableEmails(c models.Candidate) []string {
	var emails []string

	seen := make(map[string]struct{})

	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" {
			return
		}

		key := models.NormalizeEmail(e)
		if _, ok := seen[key]; ok {
			return
		}

		seen[key] = struct{}{}
		emails = append(emails, e)
	}

	add(c.Email)

	for _, e := range c.Emails {
		add(e)
	}

	if len(emails) == 0 && c.Description != "" {
		for _, e := range scraper.ExtractEmails(c.Description) {
			add(e)
		}
	}

	return emails
}

func mergeListing(c models.Candidate, l geosearch.Listing) models.Candidate {
	if l.Name != "" {
		c.Name = l.Name
	}

	if c.Description == "" {
		c.Description = l.Description
	}

	return c
}

// normalizeURL lower-cases scheme and host and strips the fragment and
// trailing slash, so "HTTPS://Acme.io/" and "https://acme.io" collapse.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}
