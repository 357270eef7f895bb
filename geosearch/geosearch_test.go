package geosearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	c := New(Config{BaseURL: baseURL, APIKey: "secret", RequestsPerSec: 100})
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}

	return c
}

func TestSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "roofer leeds", req.Query)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"name":"Acme Roofing","website":" https://acme.co.uk ","description":"Roofers"},
			{"name":"No Site Ltd","description":"call info@nosite.co.uk"}
		]}`))
	}))
	defer ts.Close()

	listings, err := newTestClient(ts.URL).Search(context.Background(), "roofer leeds")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "https://acme.co.uk", listings[0].URL)
	assert.Empty(t, listings[1].URL)
}

func TestSearchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{"results":[{"name":"A","website":"https://a.io"}]}`))
	}))
	defer ts.Close()

	listings, err := newTestClient(ts.URL).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad query"}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Search(context.Background(), "q")
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadRequest, serr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}
