package querygen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const answer = `{"query_sets":[
	{"language":"en","region":"GB","queries":["roofer leeds","roofing contractor leeds"," "]},
	{"language":"en","region":"GB","queries":["roofer leeds","roof repair leeds"]},
	{"language":"cy","region":"GB","queries":["toi leeds"]}
]}`

func TestParse(t *testing.T) {
	sets, err := Parse("```json\n" + answer + "\n```")
	require.NoError(t, err)
	require.Len(t, sets, 3)

	assert.Equal(t, []string{"roofer leeds", "roofing contractor leeds"}, sets[0].Queries)
	assert.Equal(t, "cy", sets[2].Language)
}

func TestParseRejectsEmptyAnswers(t *testing.T) {
	for _, raw := range []string{"", "sorry, I cannot help", `{"query_sets":[]}`, `{"query_sets":[{"queries":[""]}]}`} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestFlatten(t *testing.T) {
	sets := []QuerySet{
		{Queries: []string{"a", "b"}},
		{Queries: []string{"a", "c", "d"}},
		{Queries: []string{"e"}},
	}

	assert.Equal(t, []string{"a", "b", "c"}, Flatten(sets, 3))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, Flatten(sets, 0))
	assert.Equal(t, []string{"A", "a"}, Flatten([]QuerySet{{Queries: []string{"A", "a"}}}, 3))
}

func TestNew(t *testing.T) {
	_, err := New(Config{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	_, err = New(Config{Provider: "gemini", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	g, err := New(Config{Provider: ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, g)
}

func TestOpenAIGenerate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/chat/completions")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": answer},
			}},
		})
	}))
	defer ts.Close()

	g := NewOpenAI(Config{APIKey: "test-key", BaseURL: ts.URL})

	sets, err := g.Generate(context.Background(), "roofers in leeds")
	require.NoError(t, err)
	assert.Equal(t, []string{"roofer leeds", "roofing contractor leeds", "roof repair leeds"}, Flatten(sets, 3))
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	_, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: ts.URL}).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestAnthropicGenerate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_1",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Here you go:\n" + answer},
			},
			"model":       DefaultAnthropicModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer ts.Close()

	g := NewAnthropic(Config{APIKey: "test-key", BaseURL: ts.URL})

	sets, err := g.Generate(context.Background(), "roofers in leeds")
	require.NoError(t, err)
	require.Len(t, sets, 3)
}
