package chain

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vterekhov/kassa/service/metrics"
)

// BTCClient talks to a Blockchain.info-style rawtx API. The reference
// deployment uses no API key for this provider, so there is no keyring; calls
// still pass through the provider's rate limiter.
type BTCClient struct {
	baseURL    string
	limiter    Limiter
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewBTCClient creates a Blockchain.info-style client.
func NewBTCClient(baseURL string, limiter Limiter, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *BTCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &BTCClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

type btcRawTransaction struct {
	Inputs []btcInput `json:"inputs"`
	Fee    int64      `json:"fee"`
}

type btcInput struct {
	PrevOut btcPrevOut `json:"prev_out"`
}

type btcPrevOut struct {
	Value int64 `json:"value"`
}

// FetchTransfers resolves a transaction hash into a single BTC transfer.
//
// The amount is sum(input values) − fee, not the output sum: outputs include
// change returned to the sender, so the net of inputs over fee is the value
// that actually moved. This must be preserved exactly.
func (c *BTCClient) FetchTransfers(ctx context.Context, hash string) ([]Transfer, error) {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	c.metrics.RecordLimiterWait(string(ChainBtc), time.Since(waitStart).Seconds())

	var raw btcRawTransaction
	start := time.Now()
	err := getJSON(ctx, c.httpClient, c.baseURL+"/rawtx/"+url.PathEscape(hash), nil, &raw)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordExplorerCall(string(ChainBtc), "rawtx", status, time.Since(start).Seconds())

	if err != nil {
		// An explicit 404 is the provider's way of saying the hash does not
		// exist: verified absence rather than an outage.
		if httpErr, ok := err.(*errHTTPStatus); ok && httpErr.code == http.StatusNotFound {
			return []Transfer{}, nil
		}
		c.logger.ErrorContext(ctx, "failed to fetch raw transaction",
			"hash", hash,
			"error", err,
		)
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, hash, err)
	}

	var inputSum int64
	for _, in := range raw.Inputs {
		inputSum += in.PrevOut.Value
	}

	return []Transfer{{
		Hash:   hash,
		Chain:  ChainBtc,
		Amount: NormalizeInt(inputSum-raw.Fee, BtcDecimals),
		Token:  "BTC",
	}}, nil
}
