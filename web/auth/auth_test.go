package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-pipeline/web/auth"
)

func TestBearerTokenMiddleware(t *testing.T) {
	const testAPIKey = "test-api-key-123"

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("authenticated"))
	})

	tests := []struct {
		name            string
		apiKey          string
		authHeader      string
		expectedStatus  int
		expectedMessage string
	}{
		{
			name:           "valid bearer token",
			apiKey:         testAPIKey,
			authHeader:     "Bearer " + testAPIKey,
			expectedStatus: http.StatusOK,
		},
		{
			name:            "missing authorization header",
			apiKey:          testAPIKey,
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Missing authentication token",
		},
		{
			name:            "missing Bearer prefix",
			apiKey:          testAPIKey,
			authHeader:      testAPIKey,
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Invalid authentication token format",
		},
		{
			name:            "wrong prefix",
			apiKey:          testAPIKey,
			authHeader:      "Basic " + testAPIKey,
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Invalid authentication token format",
		},
		{
			name:            "incorrect API key",
			apiKey:          testAPIKey,
			authHeader:      "Bearer wrong-key",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Invalid authentication token",
		},
		{
			name:            "same length key differing in the last byte",
			apiKey:          testAPIKey,
			authHeader:      "Bearer test-api-key-124",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Invalid authentication token",
		},
		{
			name:            "prefix of the API key",
			apiKey:          testAPIKey,
			authHeader:      "Bearer test-api-key",
			expectedStatus:  http.StatusUnauthorized,
			expectedMessage: "Invalid authentication token",
		},
		{
			name:           "empty API key disables auth",
			apiKey:         "",
			authHeader:     "Bearer some-token",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.BearerTokenMiddleware(tt.apiKey, nil)(testHandler)

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			require.Equal(t, tt.expectedStatus, recorder.Code)

			if tt.expectedStatus != http.StatusUnauthorized {
				assert.Equal(t, "authenticated", recorder.Body.String())
				return
			}

			assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

			var errResp auth.ErrorResponse
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &errResp))
			assert.Equal(t, http.StatusUnauthorized, errResp.Code)
			assert.Equal(t, tt.expectedMessage, errResp.Message)
		})
	}
}

func TestOwnerMiddleware(t *testing.T) {
	var seen string

	handler := auth.OwnerMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = auth.GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", http.NoBody)
	req.Header.Set(auth.OwnerHeaderName, "owner-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "owner-1", seen)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events?user_id=owner-2", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "owner-2", seen)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
