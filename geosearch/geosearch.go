// Package geosearch queries a places provider for organizations that
// match a search phrase.
package geosearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Listing is one search hit. URL may be empty.
type Listing struct {
	Name        string `json:"name"`
	URL         string `json:"website"`
	Description string `json:"description"`
	Address     string `json:"address"`
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]Listing, error)
}

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
	Limit          int           `mapstructure:"limit"`
}

// StatusError is returned for non-2xx provider responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geosearch: provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls POST {BaseURL}/search. Transient failures (network, 429
// and 5xx) are retried with exponential backoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
}

var _ Searcher = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Minute
	}

	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), max(int(cfg.RequestsPerSec), 1)),
	}

	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxElapsedTime = c.cfg.MaxElapsed

		return bo
	}

	return c
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []Listing `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string) ([]Listing, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: c.cfg.Limit})
	if err != nil {
		return nil, eris.Wrap(err, "geosearch: encode request")
	}

	op := func() ([]Listing, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(eris.Wrap(err, "geosearch: rate limit"))
		}

		return c.do(ctx, body)
	}

	listings, err := backoff.RetryWithData(op, backoff.WithContext(c.newBackOff(), ctx))
	if err != nil {
		return nil, err
	}

	for i := range listings {
		listings[i].URL = strings.TrimSpace(listings[i].URL)
	}

	return listings, nil
}

func (c *Client) do(ctx context.Context, body []byte) ([]Listing, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/search"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(eris.Wrap(err, "geosearch: build request"))
	}

	req.Header.Set("Content-Type", "application/json")

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}

		return nil, eris.Wrap(err, "geosearch: request")
	}

	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "geosearch: read body")
	}

	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, serr
		}

		return nil, backoff.Permanent(serr)
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, backoff.Permanent(eris.Wrap(err, "geosearch: parse response"))
	}

	return parsed.Results, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}

	return s[:n]
}
