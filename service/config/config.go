package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Explorer endpoints and credentials. Key lists are comma-separated and
	// rotate round-robin. The BTC provider takes no key.
	TronscanAPIURL   string
	TronscanAPIKeys  []string
	EtherscanAPIURL  string
	EtherscanAPIKeys []string
	BscscanAPIURL    string
	BscscanAPIKeys   []string
	BTCAPIURL        string

	// Stablecoin contract addresses whose transactions are decoded from
	// receipt logs.
	USDTEthContract string
	USDTBscContract string

	// Explorer call budget: RateLimit calls per RateInterval, per provider.
	ExplorerRateLimit      int
	ExplorerRateInterval   time.Duration
	ExplorerRequestTimeout time.Duration

	// Reconciliation
	VerifyTolerance   decimal.Decimal
	ReconcileInterval time.Duration

	// Currencies rendered on balance sheets, e.g. "USD ($),USDT (₮)".
	Currencies []string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Explorer configuration
	cfg.TronscanAPIURL = getEnvOrDefault("TRONSCAN_API_URL", "https://apilist.tronscanapi.com/api")
	cfg.TronscanAPIKeys = splitList(os.Getenv("TRONSCAN_API_KEYS"))
	if len(cfg.TronscanAPIKeys) == 0 {
		errs = append(errs, fmt.Errorf("TRONSCAN_API_KEYS is required"))
	}

	cfg.EtherscanAPIURL = getEnvOrDefault("ETHERSCAN_API_URL", "https://api.etherscan.io/api")
	cfg.EtherscanAPIKeys = splitList(os.Getenv("ETHERSCAN_API_KEYS"))
	if len(cfg.EtherscanAPIKeys) == 0 {
		errs = append(errs, fmt.Errorf("ETHERSCAN_API_KEYS is required"))
	}

	cfg.BscscanAPIURL = getEnvOrDefault("BSC_API_URL", "https://api.bscscan.com/api")
	cfg.BscscanAPIKeys = splitList(os.Getenv("BSC_API_KEYS"))
	if len(cfg.BscscanAPIKeys) == 0 {
		errs = append(errs, fmt.Errorf("BSC_API_KEYS is required"))
	}

	cfg.BTCAPIURL = getEnvOrDefault("BTC_API_URL", "https://blockchain.info")

	cfg.USDTEthContract = getEnvOrDefault("USDT_ETH_CONTRACT", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	cfg.USDTBscContract = getEnvOrDefault("USDT_BSC_CONTRACT", "0x55d398326f99059fF775485246999027B3197955")

	rateLimit, err := parseInt("EXPLORER_RATE_LIMIT", 4)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExplorerRateLimit = rateLimit
	}

	rateInterval, err := parseDuration("EXPLORER_RATE_INTERVAL", "1500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExplorerRateInterval = rateInterval
	}

	requestTimeout, err := parseDuration("EXPLORER_REQUEST_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ExplorerRequestTimeout = requestTimeout
	}

	// Reconciliation configuration
	tolerance, err := parseDecimal("VERIFY_TOLERANCE", "1")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.VerifyTolerance = tolerance
	}

	reconcileInterval, err := parseDuration("RECONCILE_INTERVAL", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = reconcileInterval
	}

	cfg.Currencies = splitList(getEnvOrDefault("CURRENCIES", "USD ($),USDT (₮)"))

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "kassa-reconciliation")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.TronscanAPIURL == "" {
		errs = append(errs, fmt.Errorf("TronscanAPIURL is required"))
	}

	if c.EtherscanAPIURL == "" {
		errs = append(errs, fmt.Errorf("EtherscanAPIURL is required"))
	}

	if c.BscscanAPIURL == "" {
		errs = append(errs, fmt.Errorf("BscscanAPIURL is required"))
	}

	if c.BTCAPIURL == "" {
		errs = append(errs, fmt.Errorf("BTCAPIURL is required"))
	}

	if c.USDTEthContract == "" {
		errs = append(errs, fmt.Errorf("USDTEthContract is required"))
	}

	if c.USDTBscContract == "" {
		errs = append(errs, fmt.Errorf("USDTBscContract is required"))
	}

	if c.ExplorerRateLimit < 1 {
		errs = append(errs, fmt.Errorf("ExplorerRateLimit must be at least 1"))
	}

	if c.ExplorerRateInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ExplorerRateInterval must be at least 100ms"))
	}

	if c.ExplorerRequestTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ExplorerRequestTimeout must be at least 1 second"))
	}

	if c.VerifyTolerance.IsNegative() {
		errs = append(errs, fmt.Errorf("VerifyTolerance cannot be negative"))
	}

	if c.ReconcileInterval < time.Minute {
		errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 minute"))
	}

	if len(c.Currencies) == 0 {
		errs = append(errs, fmt.Errorf("Currencies is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma-separated value, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseDecimal parses a decimal from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}
