package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/kassa")
	t.Setenv("TRONSCAN_API_KEYS", "tron-key-1")
	t.Setenv("ETHERSCAN_API_KEYS", "eth-key-1")
	t.Setenv("BSC_API_KEYS", "bsc-key-1")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 4, cfg.ExplorerRateLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.ExplorerRateInterval)
	assert.Equal(t, 15*time.Second, cfg.ExplorerRequestTimeout)
	assert.True(t, decimal.NewFromInt(1).Equal(cfg.VerifyTolerance))
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, []string{"USD ($)", "USDT (₮)"}, cfg.Currencies)
	assert.Equal(t, "kassa-reconciliation", cfg.TemporalTaskQueue)
	assert.NotEmpty(t, cfg.USDTEthContract)
	assert.NotEmpty(t, cfg.USDTBscContract)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TRONSCAN_API_KEYS", "")
	t.Setenv("ETHERSCAN_API_KEYS", "")
	t.Setenv("BSC_API_KEYS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "TRONSCAN_API_KEYS")
	assert.Contains(t, err.Error(), "ETHERSCAN_API_KEYS")
	assert.Contains(t, err.Error(), "BSC_API_KEYS")
}

func TestLoadKeyListSplitting(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRONSCAN_API_KEYS", "k1, k2 ,,k3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.TronscanAPIKeys)
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EXPLORER_RATE_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXPLORER_RATE_INTERVAL")
}

func TestLoadInvalidTolerance(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VERIFY_TOLERANCE", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VERIFY_TOLERANCE")
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:            "postgres://localhost/kassa",
		TronscanAPIURL:         "https://apilist.tronscanapi.com/api",
		EtherscanAPIURL:        "https://api.etherscan.io/api",
		BscscanAPIURL:          "https://api.bscscan.com/api",
		BTCAPIURL:              "https://blockchain.info",
		USDTEthContract:        "0xdac1",
		USDTBscContract:        "0x55d3",
		ExplorerRateLimit:      4,
		ExplorerRateInterval:   1500 * time.Millisecond,
		ExplorerRequestTimeout: 15 * time.Second,
		VerifyTolerance:        decimal.NewFromInt(1),
		ReconcileInterval:      10 * time.Minute,
		Currencies:             []string{"USD ($)"},
		TemporalHost:           "localhost:7233",
		TemporalNamespace:      "default",
		TemporalTaskQueue:      "kassa-reconciliation",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "negative tolerance", mutate: func(c *Config) { c.VerifyTolerance = decimal.NewFromInt(-1) }, want: "VerifyTolerance"},
		{name: "zero rate limit", mutate: func(c *Config) { c.ExplorerRateLimit = 0 }, want: "ExplorerRateLimit"},
		{name: "tiny interval", mutate: func(c *Config) { c.ExplorerRateInterval = time.Millisecond }, want: "ExplorerRateInterval"},
		{name: "short reconcile", mutate: func(c *Config) { c.ReconcileInterval = time.Second }, want: "ReconcileInterval"},
		{name: "no currencies", mutate: func(c *Config) { c.Currencies = nil }, want: "Currencies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
