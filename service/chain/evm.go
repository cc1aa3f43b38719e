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

// EVMConfig parameterizes an EVMClient for one explorer family. Etherscan and
// BscScan expose the same proxy API; only the token contract, symbols and log
// precision differ.
type EVMConfig struct {
	Chain Chain

	// StablecoinContract is the token contract address whose transactions are
	// decoded from receipt logs instead of the top-level value field.
	StablecoinContract string

	// TokenSymbol and TokenDecimals describe amounts found in receipt logs.
	TokenSymbol   string
	TokenDecimals int32

	// NativeSymbol labels plain value transfers (ETH, BNB).
	NativeSymbol string
}

// EVMClient talks to an Etherscan-style JSON-RPC proxy API. The API key
// travels as an apikey query parameter and rotates on every request.
//
// Resolution is a two-step fetch: get the transaction, and when its recipient
// is the known stablecoin contract, get the receipt and decode every log as a
// separate token transfer. The top-level value of a token-contract call
// encodes the contract invocation, not the amount moved, so using it there
// would silently misreport the transfer.
type EVMClient struct {
	cfg        EVMConfig
	baseURL    string
	keys       *Keyring
	limiter    Limiter
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewEVMClient creates a client for one EVM explorer family.
func NewEVMClient(baseURL string, cfg EVMConfig, keys *Keyring, limiter Limiter, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *EVMClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &EVMClient{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		keys:       keys,
		limiter:    limiter,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger,
	}
}

type evmProxyResponse struct {
	Error  *evmRPCError   `json:"error"`
	Result *evmResultBody `json:"result"`
}

type evmRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// evmResultBody covers both eth_getTransactionByHash and
// eth_getTransactionReceipt result objects; unused fields decode to zero
// values.
type evmResultBody struct {
	To    string       `json:"to"`
	Value string       `json:"value"`
	Logs  []evmLogItem `json:"logs"`
}

type evmLogItem struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

func (c *EVMClient) proxyCall(ctx context.Context, action, hash string) (*evmProxyResponse, error) {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	c.metrics.RecordLimiterWait(string(c.cfg.Chain), time.Since(waitStart).Seconds())

	key := c.keys.Next()
	c.metrics.RecordKeyRotation(string(c.cfg.Chain))

	u := fmt.Sprintf("%s?module=proxy&action=%s&txhash=%s&apikey=%s",
		c.baseURL, action, url.QueryEscape(hash), url.QueryEscape(key))

	var resp evmProxyResponse
	start := time.Now()
	err := getJSON(ctx, c.httpClient, u, nil, &resp)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordExplorerCall(string(c.cfg.Chain), action, status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchTransfers resolves a transaction hash into its transfers.
//
// A nil result with no error means the explorer does not know the hash:
// verified absence. A provider-reported error or a missing receipt for a
// known token transaction is an outage, not absence, and surfaces as
// ErrUnavailable so the reconciliation layer can retry instead of silently
// failing a legitimate transaction.
func (c *EVMClient) FetchTransfers(ctx context.Context, hash string) ([]Transfer, error) {
	tx, err := c.proxyCall(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch transaction",
			"chain", c.cfg.Chain,
			"hash", hash,
			"error", err,
		)
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, hash, err)
	}
	if tx.Error != nil {
		c.logger.WarnContext(ctx, "provider reported error for transaction",
			"chain", c.cfg.Chain,
			"hash", hash,
			"code", tx.Error.Code,
			"message", tx.Error.Message,
		)
		return nil, fmt.Errorf("%w: transaction %s: provider error %d: %s",
			ErrUnavailable, hash, tx.Error.Code, tx.Error.Message)
	}
	if tx.Result == nil {
		return []Transfer{}, nil
	}

	if strings.EqualFold(tx.Result.To, c.cfg.StablecoinContract) {
		return c.fetchReceiptTransfers(ctx, hash)
	}

	amount, err := NormalizeHex(tx.Result.Value, EvmNativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, hash, err)
	}
	return []Transfer{{
		Hash:   hash,
		Chain:  c.cfg.Chain,
		Amount: amount,
		Token:  c.cfg.NativeSymbol,
	}}, nil
}

func (c *EVMClient) fetchReceiptTransfers(ctx context.Context, hash string) ([]Transfer, error) {
	receipt, err := c.proxyCall(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch transaction receipt",
			"chain", c.cfg.Chain,
			"hash", hash,
			"error", err,
		)
		return nil, fmt.Errorf("%w: receipt %s: %v", ErrUnavailable, hash, err)
	}
	if receipt.Error != nil {
		return nil, fmt.Errorf("%w: receipt %s: provider error %d: %s",
			ErrUnavailable, hash, receipt.Error.Code, receipt.Error.Message)
	}
	// The transaction exists, so a missing receipt is a provider lag or
	// outage rather than absence.
	if receipt.Result == nil {
		return nil, fmt.Errorf("%w: receipt %s: no receipt data", ErrUnavailable, hash)
	}

	transfers := make([]Transfer, 0, len(receipt.Result.Logs))
	for _, log := range receipt.Result.Logs {
		amount, err := NormalizeHex(log.Data, c.cfg.TokenDecimals)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping log with unparsable data",
				"chain", c.cfg.Chain,
				"hash", hash,
				"error", err,
			)
			continue
		}
		transfers = append(transfers, Transfer{
			Hash:   hash,
			Chain:  c.cfg.Chain,
			Amount: amount,
			Token:  c.cfg.TokenSymbol,
		})
	}
	return transfers, nil
}
