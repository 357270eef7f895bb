// Package querygen turns a free-text search intent into geo-search
// queries using a chat model.
package querygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-haiku-4-5-20251001"
)

var (
	ErrUnknownProvider = errors.New("querygen: unknown provider")
	ErrAPIKeyNotSet    = errors.New("querygen: api key not set")
	ErrNoQueries       = errors.New("querygen: model returned no queries")
)

// QuerySet is a group of queries sharing a language and region.
type QuerySet struct {
	Language string   `json:"language"`
	Region   string   `json:"region"`
	Queries  []string `json:"queries"`
}

// Generator produces query groups for an intent. Output is untrusted and
// may contain duplicates.
type Generator interface {
	Generate(ctx context.Context, intent string) ([]QuerySet, error)
}

type Config struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// New returns the generator for cfg.Provider.
func New(cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

const systemPrompt = `You write search queries for a business directory. Given a description of
the organizations a user is looking for, answer with JSON only:
{"query_sets":[{"language":"<ISO 639-1>","region":"<ISO 3166-1 alpha-2>","queries":["..."]}]}
Group queries by language and region. Each query is a short phrase a person
would type into a maps search box, such as "roofing contractor leeds".
Return at most 3 groups and at most 3 queries per group.`

func userPrompt(intent string) string {
	return "Organizations to find: " + strings.TrimSpace(intent)
}

type response struct {
	QuerySets []QuerySet `json:"query_sets"`
}

// Parse decodes a model answer. Markdown code fences around the JSON are
// tolerated.
func Parse(raw string) ([]QuerySet, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')

	if start < 0 || end < start {
		return nil, eris.Wrapf(ErrNoQueries, "no json object in %q", truncate(raw, 80))
	}

	var resp response
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, eris.Wrap(err, "querygen: decode model answer")
	}

	var ans []QuerySet

	for _, set := range resp.QuerySets {
		var queries []string

		for _, q := range set.Queries {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}

		if len(queries) > 0 {
			set.Queries = queries
			ans = append(ans, set)
		}
	}

	if len(ans) == 0 {
		return nil, ErrNoQueries
	}

	return ans, nil
}

// Flatten returns the queries of sets in response order, dropping exact
// duplicates and keeping at most limit.
func Flatten(sets []QuerySet, limit int) []string {
	seen := make(map[string]struct{})

	var ans []string

	for _, set := range sets {
		for _, q := range set.Queries {
			if limit > 0 && len(ans) >= limit {
				return ans
			}

			if _, ok := seen[q]; ok {
				continue
			}

			seen[q] = struct{}{}
			ans = append(ans, q)
		}
	}

	return ans
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
