package scraper

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/gosom/scrapemate"

	"github.com/Vector/vector-leads-pipeline/exiter"
)

type EmailJobOptions func(*EmailJob)

// EmailJob fetches one website and extracts its title, meta description
// and contact emails.
type EmailJob struct {
	scrapemate.Job

	ExitMonitor exiter.Exiter
	EmailFilter EmailFilter
}

func NewEmailJob(parentID, url string, opts ...EmailJobOptions) *EmailJob {
	const (
		defaultPrio       = scrapemate.PriorityHigh
		defaultMaxRetries = 1
	)

	job := EmailJob{
		Job: scrapemate.Job{
			ID:         uuid.New().String(),
			ParentID:   parentID,
			Method:     "GET",
			URL:        url,
			MaxRetries: defaultMaxRetries,
			Priority:   defaultPrio,
		},
		EmailFilter: DefaultEmailFilter,
	}

	for _, opt := range opts {
		opt(&job)
	}

	return &job
}

func WithEmailFilter(filter EmailFilter) EmailJobOptions {
	return func(j *EmailJob) {
		j.EmailFilter = filter
	}
}

func WithExitMonitor(exitMonitor exiter.Exiter) EmailJobOptions {
	return func(j *EmailJob) {
		j.ExitMonitor = exitMonitor
	}
}

func (j *EmailJob) Process(ctx context.Context, resp *scrapemate.Response) (any, []scrapemate.IJob, error) {
	defer func() {
		resp.Document = nil
		resp.Body = nil
	}()

	defer func() {
		if j.ExitMonitor != nil {
			j.ExitMonitor.IncrCompleted(1)
		}
	}()

	log := scrapemate.GetLoggerFromContext(ctx)

	log.Info("processing email job", "url", j.URL)

	page := &Page{URL: j.URL}

	if resp.Error != nil {
		page.Err = resp.Error
		return page, nil, nil
	}

	var emails []string

	if doc, ok := resp.Document.(*goquery.Document); ok {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
		page.Description = strings.TrimSpace(doc.Find("meta[name='description']").AttrOr("content", ""))

		emails = docEmailExtractor(doc)
	}

	if len(emails) == 0 {
		emails = regexEmailExtractor(resp.Body)
	}

	page.Emails = applyFilter(emails, j.EmailFilter)

	return page, nil, nil
}

// ProcessOnFetchError makes failed fetches reach Process so that the
// exit monitor counts them.
func (j *EmailJob) ProcessOnFetchError() bool {
	return true
}
