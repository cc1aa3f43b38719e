package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vterekhov/kassa/service/metrics"
)

const (
	// tronTransfersPerPage is the page size used when crawling a wallet's
	// transfer history.
	tronTransfersPerPage = 20

	// maxTransferRecords caps the crawl of high-volume wallets. A result that
	// hits the cap is marked Truncated and must be treated as possibly
	// incomplete by callers.
	maxTransferRecords = 200

	// tronTokenCacheSize bounds the wallet token descriptor cache.
	tronTokenCacheSize = 512
)

// TronClient talks to a Tronscan-style explorer API. The API key travels in
// the TRON-PRO-API-KEY header and rotates on every request.
type TronClient struct {
	baseURL    string
	keys       *Keyring
	limiter    Limiter
	httpClient *http.Client
	tokenCache *lru.Cache[string, []Token]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewTronClient creates a Tronscan client. The limiter and keyring are
// injected so tests can instantiate isolated state per test case.
func NewTronClient(baseURL string, keys *Keyring, limiter Limiter, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *TronClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	cache, _ := lru.New[string, []Token](tronTokenCacheSize)
	return &TronClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keys:       keys,
		limiter:    limiter,
		httpClient: httpClient,
		tokenCache: cache,
		metrics:    m,
		logger:     logger,
	}
}

// get performs one rate-limited, key-rotated GET against the explorer.
func (c *TronClient) get(ctx context.Context, endpoint, path string, out any) error {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}
	c.metrics.RecordLimiterWait(string(ChainTron), time.Since(waitStart).Seconds())

	key := c.keys.Next()
	c.metrics.RecordKeyRotation(string(ChainTron))

	start := time.Now()
	err := getJSON(ctx, c.httpClient, c.baseURL+path, map[string]string{"TRON-PRO-API-KEY": key}, out)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordExplorerCall(string(ChainTron), endpoint, status, time.Since(start).Seconds())
	return err
}

type tronWalletResponse struct {
	Data []tronTokenRecord `json:"data"`
}

type tronTokenRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Abbr     string `json:"abbr"`
	Type     int    `json:"type"`
	Decimals int32  `json:"decimals"`
}

// WalletTokens enumerates the fungible assets held by a wallet. Results are
// cached per address: token holdings change rarely relative to how often the
// wizard re-enumerates them, and each call burns a rate-limiter token.
func (c *TronClient) WalletTokens(ctx context.Context, address string) ([]Token, error) {
	if tokens, ok := c.tokenCache.Get(address); ok {
		return tokens, nil
	}

	var resp tronWalletResponse
	path := fmt.Sprintf("/account/wallet?address=%s&asset_type=0", url.QueryEscape(address))
	if err := c.get(ctx, "account/wallet", path, &resp); err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch wallet tokens",
			"address", address,
			"error", err,
		)
		return nil, fmt.Errorf("%w: wallet tokens for %s: %v", ErrUnavailable, address, err)
	}

	tokens := make([]Token, 0, len(resp.Data))
	for _, t := range resp.Data {
		tokens = append(tokens, Token{
			ID:       t.ID,
			Name:     t.Name,
			Symbol:   t.Abbr,
			Type:     t.Type,
			Decimals: t.Decimals,
		})
	}
	c.tokenCache.Add(address, tokens)
	return tokens, nil
}

type tronTransferListResponse struct {
	Code     int                 `json:"code"`
	PageSize int                 `json:"page_size"`
	Data     []tronTransferEntry `json:"data"`
}

type tronTransferEntry struct {
	Hash   string      `json:"hash"`
	Amount json.Number `json:"amount"`
}

// TokenTransfers crawls a wallet's transfer history for one token, paging
// until a short page or the record cap. The cap stops unbounded crawls of
// high-volume wallets; a capped page is flagged Truncated.
func (c *TronClient) TokenTransfers(ctx context.Context, address string, token Token) (*TransferPage, error) {
	var transferType, tokenQuery string
	switch token.Type {
	case 0:
		transferType = "trx"
	case 10:
		transferType = "token10"
		tokenQuery = "&trc10Id=" + url.QueryEscape(token.ID)
	default:
		transferType = "trc20"
		tokenQuery = "&trc20Id=" + url.QueryEscape(token.ID)
	}

	page := &TransferPage{}
	start := 0
	for {
		path := fmt.Sprintf("/transfer/%s?address=%s%s&start=%d&limit=%d&direction=0",
			transferType, url.QueryEscape(address), tokenQuery, start, tronTransfersPerPage)

		var resp tronTransferListResponse
		if err := c.get(ctx, "transfer", path, &resp); err != nil {
			c.logger.ErrorContext(ctx, "failed to fetch transfers",
				"address", address,
				"token", token.Symbol,
				"error", err,
			)
			return nil, fmt.Errorf("%w: transfers for %s: %v", ErrUnavailable, address, err)
		}
		if resp.Code != http.StatusOK {
			return nil, fmt.Errorf("%w: transfers for %s: provider code %d", ErrUnavailable, address, resp.Code)
		}

		for _, e := range resp.Data {
			amount, err := Normalize(e.Amount.String(), token.Decimals)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping transfer with unparsable amount",
					"hash", e.Hash,
					"amount", e.Amount.String(),
					"error", err,
				)
				continue
			}
			page.Transfers = append(page.Transfers, Transfer{
				Hash:   e.Hash,
				Chain:  ChainTron,
				Amount: amount,
				Token:  token.Symbol,
			})
		}

		if resp.PageSize < tronTransfersPerPage {
			break
		}
		if start+tronTransfersPerPage >= maxTransferRecords {
			page.Truncated = true
			break
		}
		start += tronTransfersPerPage
	}

	return page, nil
}

type tronTransactionInfo struct {
	ContractData     *tronContractData  `json:"contractData"`
	TransfersAllList []tronTransferItem `json:"transfersAllList"`
}

type tronContractData struct {
	Data      string         `json:"data"`
	Amount    json.Number    `json:"amount"`
	TokenInfo *tronTokenInfo `json:"tokenInfo"`
}

type tronTokenInfo struct {
	TokenDecimal int32  `json:"tokenDecimal"`
	TokenAbbr    string `json:"tokenAbbr"`
}

type tronTransferItem struct {
	AmountStr string `json:"amount_str"`
	Decimals  int32  `json:"decimals"`
	Symbol    string `json:"symbol"`
}

// FetchTransfers resolves a transaction hash into its transfers.
//
// A contract invocation (contractData.data present) fans out one transfer per
// entry in transfersAllList, each with its own provider-reported decimals. A
// plain transfer yields a single record using the asset's token info, falling
// back to TRX at the default precision. A null contractData means the
// transaction is unknown to the explorer: verified absence, not an error.
func (c *TronClient) FetchTransfers(ctx context.Context, hash string) ([]Transfer, error) {
	var info tronTransactionInfo
	path := "/transaction-info?hash=" + url.QueryEscape(hash)
	if err := c.get(ctx, "transaction-info", path, &info); err != nil {
		c.logger.ErrorContext(ctx, "failed to fetch transaction info",
			"hash", hash,
			"error", err,
		)
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, hash, err)
	}

	if info.ContractData == nil {
		return []Transfer{}, nil
	}

	if info.ContractData.Data != "" {
		transfers := make([]Transfer, 0, len(info.TransfersAllList))
		for _, item := range info.TransfersAllList {
			amount, err := Normalize(item.AmountStr, item.Decimals)
			if err != nil {
				c.logger.WarnContext(ctx, "skipping transfer with unparsable amount",
					"hash", hash,
					"amount", item.AmountStr,
					"error", err,
				)
				continue
			}
			transfers = append(transfers, Transfer{
				Hash:   hash,
				Chain:  ChainTron,
				Amount: amount,
				Token:  item.Symbol,
			})
		}
		return transfers, nil
	}

	decimals := DefaultTokenDecimals
	symbol := "TRX"
	if ti := info.ContractData.TokenInfo; ti != nil {
		decimals = ti.TokenDecimal
		symbol = ti.TokenAbbr
	}
	amount, err := Normalize(info.ContractData.Amount.String(), decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s: %v", ErrUnavailable, hash, err)
	}
	return []Transfer{{
		Hash:   hash,
		Chain:  ChainTron,
		Amount: amount,
		Token:  symbol,
	}}, nil
}
