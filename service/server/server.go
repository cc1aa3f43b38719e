package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vterekhov/kassa/service/config"
	"github.com/vterekhov/kassa/service/ledger"
	"github.com/vterekhov/kassa/service/metrics"
	natspkg "github.com/vterekhov/kassa/service/nats"
)

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        Store
	resolver     Resolver
	checker      Checker
	aggregator   *ledger.Aggregator
	controlPoint ControlPointCreator
	scheduler    ScheduleUpserter
	publisher    natspkg.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is optional - if nil, crypto rows do not upsert schedules.
// The publisher is optional - if nil, outcomes are not announced on NATS.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store Store, resolver Resolver, checker Checker, aggregator *ledger.Aggregator, controlPoint ControlPointCreator, scheduler ScheduleUpserter, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		resolver:     resolver,
		checker:      checker,
		aggregator:   aggregator,
		controlPoint: controlPoint,
		scheduler:    scheduler,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Ledger routes
	mux.Handle("GET /api/v1/balance", s.instrument("/api/v1/balance",
		handleGetBalance(s.store, s.aggregator, s.cfg.Currencies, s.logger)))
	mux.Handle("GET /api/v1/transactions", s.instrument("/api/v1/transactions",
		handleListTransactions(s.store, s.logger)))
	mux.Handle("POST /api/v1/transactions", s.instrument("/api/v1/transactions",
		handleCreateTransaction(s.store, s.resolver, s.scheduler, s.cfg.ReconcileInterval, s.logger)))
	mux.Handle("POST /api/v1/control-points", s.instrument("/api/v1/control-points",
		handleCreateControlPoint(s.controlPoint, s.publisher, s.logger)))

	// Reconciliation routes
	mux.Handle("GET /api/v1/chain-transactions/{hash}", s.instrument("/api/v1/chain-transactions",
		handleGetChainTransactions(s.store, s.resolver, s.logger)))
	mux.Handle("POST /api/v1/verifications", s.instrument("/api/v1/verifications",
		handleVerifyTransaction(s.store, s.resolver, s.checker, s.publisher, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// instrument wraps a handler with HTTP metrics when a collector is configured.
// The route constant keeps metric label cardinality bounded.
func (s *Server) instrument(route string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return metrics.HTTPMetricsMiddleware(s.metrics, route)(h)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
