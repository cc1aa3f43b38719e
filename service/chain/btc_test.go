package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBTCClient(t *testing.T, handler http.Handler) *BTCClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBTCClient(srv.URL, noopLimiter{}, srv.Client(), nil, testLogger())
}

func TestBTCFetchTransfersNetOfFee(t *testing.T) {
	c := newTestBTCClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rawtx/deadbeef", r.URL.Path)
		w.Write([]byte(`{
			"inputs": [
				{"prev_out": {"value": 60000000}},
				{"prev_out": {"value": 50000000}}
			],
			"fee": 10000000
		}`))
	}))

	transfers, err := c.FetchTransfers(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "1", transfers[0].Amount.String(), "amount is input sum minus fee at 8 decimals")
	assert.Equal(t, "BTC", transfers[0].Token)
	assert.Equal(t, ChainBtc, transfers[0].Chain)
}

func TestBTCFetchTransfersNotFound(t *testing.T) {
	c := newTestBTCClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Transaction not found", http.StatusNotFound)
	}))

	transfers, err := c.FetchTransfers(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, transfers, "404 is verified absence")
}

func TestBTCFetchTransfersUnavailable(t *testing.T) {
	c := newTestBTCClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.FetchTransfers(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrUnavailable)
}
