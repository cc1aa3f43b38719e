package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUSDTContract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

func newTestEVMClient(t *testing.T, cfg EVMConfig, handler http.Handler) *EVMClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEVMClient(srv.URL, cfg, testKeyring(t), noopLimiter{}, srv.Client(), nil, testLogger())
}

func ethConfig() EVMConfig {
	return EVMConfig{
		Chain:              ChainEth,
		StablecoinContract: testUSDTContract,
		TokenSymbol:        "USDT",
		TokenDecimals:      6,
		NativeSymbol:       "ETH",
	}
}

func TestEVMFetchTransfersNative(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "proxy", r.URL.Query().Get("module"))
		assert.Equal(t, "eth_getTransactionByHash", r.URL.Query().Get("action"))
		assert.Equal(t, "0xhash", r.URL.Query().Get("txhash"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`{"result": {"to": "0x1111111111111111111111111111111111111111", "value": "0xde0b6b3a7640000"}}`))
	}))

	transfers, err := c.FetchTransfers(context.Background(), "0xhash")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "1", transfers[0].Amount.String())
	assert.Equal(t, "ETH", transfers[0].Token)
	assert.Equal(t, ChainEth, transfers[0].Chain)
}

func TestEVMFetchTransfersTokenLogs(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionByHash":
			// Recipient matches the contract in a different case; the
			// comparison must be case-insensitive.
			w.Write([]byte(`{"result": {"to": "0xdac17f958d2ee523a2206206994597c13d831ec7", "value": "0x0"}}`))
		case "eth_getTransactionReceipt":
			w.Write([]byte(`{"result": {"logs": [
				{"address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "data": "0x00000000000000000000000000000000000000000000000000000000000f4240"},
				{"address": "0xdac17f958d2ee523a2206206994597c13d831ec7", "data": "0x00000000000000000000000000000000000000000000000000000000001e8480"}
			]}}`))
		default:
			t.Errorf("unexpected action %s", r.URL.Query().Get("action"))
		}
	}))

	transfers, err := c.FetchTransfers(context.Background(), "0xhash")
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "1", transfers[0].Amount.String())
	assert.Equal(t, "USDT", transfers[0].Token)
	assert.Equal(t, "2", transfers[1].Amount.String())
}

func TestEVMFetchTransfersBscTokenDecimals(t *testing.T) {
	cfg := EVMConfig{
		Chain:              ChainBsc,
		StablecoinContract: "0x55d398326f99059fF775485246999027B3197955",
		TokenSymbol:        "BSC-USD",
		TokenDecimals:      BscTokenLogDecimals,
		NativeSymbol:       "BNB",
	}
	c := newTestEVMClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionByHash":
			w.Write([]byte(`{"result": {"to": "0x55d398326f99059ff775485246999027b3197955", "value": "0x0"}}`))
		default:
			w.Write([]byte(`{"result": {"logs": [{"address": "0x55d398326f99059ff775485246999027b3197955", "data": "0xde0b6b3a7640000"}]}}`))
		}
	}))

	transfers, err := c.FetchTransfers(context.Background(), "0xhash")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "1", transfers[0].Amount.String(), "BEP-20 logs carry 18 decimals")
	assert.Equal(t, "BSC-USD", transfers[0].Token)
}

func TestEVMFetchTransfersAbsent(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": null}`))
	}))

	transfers, err := c.FetchTransfers(context.Background(), "0xmissing")
	require.NoError(t, err)
	assert.Empty(t, transfers, "null result is verified absence")
}

func TestEVMFetchTransfersProviderError(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": -32602, "message": "invalid argument"}}`))
	}))

	_, err := c.FetchTransfers(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEVMFetchTransfersMissingReceipt(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "eth_getTransactionByHash":
			w.Write([]byte(`{"result": {"to": "` + testUSDTContract + `", "value": "0x0"}}`))
		default:
			w.Write([]byte(`{"result": null}`))
		}
	}))

	_, err := c.FetchTransfers(context.Background(), "0xhash")
	assert.ErrorIs(t, err, ErrUnavailable, "a known transaction with no receipt is an outage, not absence")
}

func TestEVMFetchTransfersTransportError(t *testing.T) {
	c := newTestEVMClient(t, ethConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.FetchTransfers(context.Background(), "0xhash")
	assert.ErrorIs(t, err, ErrUnavailable)
}
