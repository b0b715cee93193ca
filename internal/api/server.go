// Package api serves the long-running mode's HTTP surface: health, metrics,
// the latest report and the stored revert history.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/processor"
	"github.com/Agnikulu/EditWarCatcher/internal/storage"
)

// ResultSource exposes the most recent pipeline pass.
type ResultSource interface {
	LastResult() *processor.RunResult
}

// AlertSource reads published case alerts back.
type AlertSource interface {
	GetRecentAlerts(ctx context.Context, kind string, count int64) ([]storage.Alert, error)
}

// RevertSource answers history queries against the event store.
type RevertSource interface {
	QueryByArticle(ctx context.Context, article string) ([]models.RevertEvent, error)
	QueryByUser(ctx context.Context, user string) ([]models.RevertEvent, error)
	QuerySince(ctx context.Context, since time.Time) ([]models.RevertEvent, error)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Alerts       AlertSource
	Reverts      RevertSource
	Features     *config.FeatureFlags
	BreakerState func() string
	Version      string
}

// Server is the serve-mode HTTP server.
type Server struct {
	router    chi.Router
	results   ResultSource
	opts      Options
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer builds the router.
func NewServer(results ResultSource, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		results:   results,
		opts:      opts,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.loggerMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/report", s.handleReport)
	r.Get("/cases", s.handleCases)
	if s.opts.Alerts != nil {
		r.Get("/alerts/{kind}", s.handleAlerts)
	}
	if s.opts.Reverts != nil {
		r.Get("/reverts", s.handleReverts)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer wraps the handler in an http.Server listening on port.
func (s *Server) HTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
