// Package api provides the read-only HTTP API over persisted valuation runs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/holdings-tracker/internal/logging"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// SeriesReader reads the series of the latest run
type SeriesReader interface {
	GetChainSeries(ctx context.Context, chain types.ChainID, from, to types.Period) ([]models.ChainSeriesPoint, error)
	GetPortfolioSeries(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error)
}

// RunReader reads run records
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	GetLatestRun(ctx context.Context) (*models.RunRecord, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	series     SeriesReader
	runs       RunReader
	checks     map[string]HealthCheck
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerSecond and Burst bound each client; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a new API server instance. Nil readers leave their
// routes answering 503.
func NewServer(config *ServerConfig, series SeriesReader, runs RunReader, checks map[string]HealthCheck) *Server {
	s := &Server{
		router: mux.NewRouter(),
		series: series,
		runs:   runs,
		checks: checks,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RequestsPerSecond > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)))
	}
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/chains/{chain}/series", s.handleGetChainSeries).Methods("GET")

	api.HandleFunc("/runs/latest", s.handleGetLatestRun).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports the status of every configured dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logging.FromContext(ctx).WithField("dependency", name).WithError(err).Warn("Health check failed")
			deps[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	health := "healthy"
	if status != http.StatusOK {
		health = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       health,
		"service":      "holdings-tracker",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
