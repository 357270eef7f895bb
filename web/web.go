// Package web serves the task lifecycle API and the progress event stream.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-pipeline/models"
	"github.com/Vector/vector-leads-pipeline/web/auth"
	"github.com/Vector/vector-leads-pipeline/web/handlers"
	"github.com/Vector/vector-leads-pipeline/web/middleware"
)

type Config struct {
	Addr      string
	APIKey    string
	Heartbeat time.Duration
	Store     models.TaskStore
	Events    handlers.Subscriber
	Logger    *zap.Logger
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Events == nil {
		return nil, errors.New("web: store and events are required")
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: cfg.Logger,
	}, nil
}

// NewRouter builds the API routes.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := handlers.NewAPIHandlers(handlers.Dependencies{
		Logger:    cfg.Logger,
		Store:     cfg.Store,
		Events:    cfg.Events,
		Heartbeat: cfg.Heartbeat,
	})

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.BearerTokenMiddleware(cfg.APIKey, cfg.Logger), auth.OwnerMiddleware)

	api.HandleFunc("/tasks", h.CreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks", h.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/running", h.MarkRunning).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}/progress", h.UpdateProgress).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}/completed", h.MarkCompleted).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}/failed", h.MarkFailed).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}/cancel", h.CancelTask).Methods(http.MethodPost)
	api.HandleFunc("/events", h.Events).Methods(http.MethodGet)

	return middleware.Chain(router,
		middleware.RequestLogger(cfg.Logger),
		middleware.SecurityHeaders,
		middleware.CORS,
	)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// request contexts end with ctx so open event streams let go
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
