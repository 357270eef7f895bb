// Package auth authenticates API callers and resolves the task owner.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ContextKey is used to store user information in the request context
type ContextKey string

const (
	// UserIDKey is the context key for storing the owner id
	UserIDKey ContextKey = "user_id"

	AuthHeaderName  = "Authorization"
	OwnerHeaderName = "X-User-ID"
	// OwnerQueryParam lets EventSource clients, which cannot set
	// headers, identify themselves.
	OwnerQueryParam = "user_id"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BearerTokenMiddleware rejects requests whose bearer token differs from
// apiKey. An empty apiKey disables the check.
func BearerTokenMiddleware(apiKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	if apiKey == "" {
		logger.Warn("api authentication disabled: no api key configured")
	} else {
		logger.Info("api authentication enabled", zap.Int("key_length", len(apiKey)))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get(AuthHeaderName)
			if authHeader == "" {
				logger.Debug("auth failed: missing token", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				SendUnauthorized(w, "Missing authentication token")

				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("auth failed: invalid format", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				SendUnauthorized(w, "Invalid authentication token format")

				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				logger.Info("auth failed: invalid token", zap.String("method", r.Method), zap.String("path", r.URL.Path))
				SendUnauthorized(w, "Invalid authentication token")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OwnerMiddleware stores the caller's owner id in the request context.
// Requests without one are rejected.
func OwnerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(OwnerHeaderName))
		if owner == "" {
			owner = strings.TrimSpace(r.URL.Query().Get(OwnerQueryParam))
		}

		if owner == "" {
			SendUnauthorized(w, "Missing user id")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), owner)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user not authenticated")
	}

	return userID, nil
}

// SendUnauthorized sends a 401 Unauthorized response with JSON error.
func SendUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Code:    http.StatusUnauthorized,
		Message: message,
	})
}
