// Package handlers implements the task lifecycle API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/progress"
)

// Subscriber is the push side of progress propagation.
type Subscriber interface {
	Subscribe(ownerID string) (<-chan progress.Event, func())
}

// Dependencies aggregates shared services used by handlers.
type Dependencies struct {
	Logger    *zap.Logger
	Store     models.TaskStore
	Events    Subscriber
	Heartbeat time.Duration
}

// APIHandlers contains routes for the authenticated JSON API.
type APIHandlers struct {
	Deps     Dependencies
	validate *validator.Validate
}

func NewAPIHandlers(deps Dependencies) *APIHandlers {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 15 * time.Second
	}

	return &APIHandlers{
		Deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func renderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func renderError(w http.ResponseWriter, code int, message string) {
	renderJSON(w, code, models.APIError{Code: code, Message: message})
}

// renderStoreError maps store sentinels to status codes.
func (h *APIHandlers) renderStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		renderError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, models.ErrClaimLost):
		renderError(w, http.StatusConflict, "task already claimed")
	case errors.Is(err, models.ErrTaskNotRunning):
		renderError(w, http.StatusConflict, "task is not running")
	case errors.Is(err, models.ErrInvalidTransition):
		renderError(w, http.StatusConflict, "task is already finished")
	default:
		h.Deps.Logger.Error("store error", zap.Error(err))
		renderError(w, http.StatusInternalServerError, "internal error")
	}
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
