package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/config"
	"github.com/vterekhov/kassa/service/db"
	"github.com/vterekhov/kassa/service/ledger"
	"github.com/vterekhov/kassa/service/metrics"
	natspkg "github.com/vterekhov/kassa/service/nats"
	"github.com/vterekhov/kassa/service/server"
	temporalpkg "github.com/vterekhov/kassa/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database store
	store := db.NewStore(dbPool, metricsCollector)

	// Build the chain resolution stack
	resolver, closeLimiters, err := buildResolver(cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to initialize chain clients", "error", err)
		os.Exit(1)
	}
	defer closeLimiters()
	logger.Info("initialized chain explorer clients", "chains", resolver.Chains())

	// Initialize ledger components
	aggregator := ledger.NewAggregator(metricsCollector, logger)
	checker := ledger.NewChecker(store, cfg.VerifyTolerance, metricsCollector, logger)
	controlPointer := ledger.NewControlPointer(store, aggregator, cfg.Currencies, logger)

	// Initialize NATS publisher
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize Temporal client for reconciliation schedules
	temporalClient, err := temporalpkg.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Error("failed to connect to Temporal", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Initialize HTTP server
	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		resolver,
		checker,
		aggregator,
		controlPointer,
		temporalClient,
		natsPublisher,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"nats_url", cfg.NATSURL,
		"currencies", cfg.Currencies,
		"verify_tolerance", cfg.VerifyTolerance.String(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// buildResolver wires the four explorer clients behind one dispatch table.
// Each provider family gets its own rate limiter so one throttled explorer
// never starves the others.
func buildResolver(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*chain.Resolver, func(), error) {
	httpClient := &http.Client{Timeout: cfg.ExplorerRequestTimeout}

	tronLimiter := chain.NewIntervalLimiter(cfg.ExplorerRateLimit, cfg.ExplorerRateInterval)
	ethLimiter := chain.NewIntervalLimiter(cfg.ExplorerRateLimit, cfg.ExplorerRateInterval)
	bscLimiter := chain.NewIntervalLimiter(cfg.ExplorerRateLimit, cfg.ExplorerRateInterval)
	btcLimiter := chain.NewIntervalLimiter(cfg.ExplorerRateLimit, cfg.ExplorerRateInterval)
	closeLimiters := func() {
		tronLimiter.Close()
		ethLimiter.Close()
		bscLimiter.Close()
		btcLimiter.Close()
	}

	tronKeys, err := chain.NewKeyring(cfg.TronscanAPIKeys)
	if err != nil {
		closeLimiters()
		return nil, nil, err
	}
	ethKeys, err := chain.NewKeyring(cfg.EtherscanAPIKeys)
	if err != nil {
		closeLimiters()
		return nil, nil, err
	}
	bscKeys, err := chain.NewKeyring(cfg.BscscanAPIKeys)
	if err != nil {
		closeLimiters()
		return nil, nil, err
	}

	tronClient := chain.NewTronClient(cfg.TronscanAPIURL, tronKeys, tronLimiter, httpClient, m, logger)
	ethClient := chain.NewEVMClient(cfg.EtherscanAPIURL, chain.EVMConfig{
		Chain:              chain.ChainEth,
		StablecoinContract: cfg.USDTEthContract,
		TokenSymbol:        "USDT",
		TokenDecimals:      6,
		NativeSymbol:       "ETH",
	}, ethKeys, ethLimiter, httpClient, m, logger)
	bscClient := chain.NewEVMClient(cfg.BscscanAPIURL, chain.EVMConfig{
		Chain:              chain.ChainBsc,
		StablecoinContract: cfg.USDTBscContract,
		TokenSymbol:        "BSC-USD",
		TokenDecimals:      18,
		NativeSymbol:       "BNB",
	}, bscKeys, bscLimiter, httpClient, m, logger)
	btcClient := chain.NewBTCClient(cfg.BTCAPIURL, btcLimiter, httpClient, m, logger)

	resolver := chain.NewResolver(map[chain.Chain]chain.TransactionFetcher{
		chain.ChainTron: tronClient,
		chain.ChainEth:  ethClient,
		chain.ChainBsc:  bscClient,
		chain.ChainBtc:  btcClient,
	}, m, logger)

	return resolver, closeLimiters, nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
