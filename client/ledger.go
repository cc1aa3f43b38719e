package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row of the shared ledger as reported by the service.
type Transaction struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	AccountID int64           `json:"account_id"`
	Direction string          `json:"direction"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Comment   string          `json:"comment,omitempty"`
	Created   time.Time       `json:"created"`
	ProjectID int64           `json:"project_id"`
	Hash      string          `json:"hash,omitempty"`
	Chain     string          `json:"chain,omitempty"`
}

// Transfer is a resolved on-chain value movement for a hash.
type Transfer struct {
	Hash   string          `json:"hash"`
	Chain  string          `json:"chain"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

// Balance is a project or user balance sheet.
type Balance struct {
	ProjectID int64                      `json:"project_id"`
	UserID    int64                      `json:"user_id,omitempty"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	Total     decimal.Decimal            `json:"total"`
}

// ControlPoint is a recorded balance snapshot.
type ControlPoint struct {
	ProjectID int64                      `json:"project_id"`
	EventID   int64                      `json:"event_id"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	Created   time.Time                  `json:"created"`
}

// Verification is the outcome of reconciling one ledger row.
type Verification struct {
	TransactionID int64           `json:"transaction_id"`
	Confirmed     bool            `json:"confirmed"`
	RecordedSum   decimal.Decimal `json:"recorded_sum"`
	ExplorerLink  string          `json:"explorer_link,omitempty"`
}

// CreateTransactionRequest holds the fields for a new ledger row.
type CreateTransactionRequest struct {
	UserID    int64           `json:"user_id"`
	AccountID int64           `json:"account_id,omitempty"`
	Direction string          `json:"direction"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Comment   string          `json:"comment,omitempty"`
	ProjectID int64           `json:"project_id"`
	Hash      string          `json:"hash,omitempty"`
	Chain     string          `json:"chain,omitempty"`
}

// CreateTransactionResult is the created row plus the immediate resolution
// status for crypto rows ("recorded", "pending" or "absent"; empty for cash).
type CreateTransactionResult struct {
	Transaction  Transaction `json:"transaction"`
	Verification string      `json:"verification,omitempty"`
}

// Client is the HTTP client for the kassa ledger service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ledger service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetBalance retrieves a project balance sheet. userID 0 means the whole
// project; a non-zero userID narrows to one participant.
func (c *Client) GetBalance(ctx context.Context, projectID, userID int64) (*Balance, error) {
	q := url.Values{}
	q.Set("project_id", strconv.FormatInt(projectID, 10))
	if userID != 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}

	var balance Balance
	if err := c.get(ctx, "/api/v1/balance?"+q.Encode(), &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// CreateTransaction appends a row to the ledger.
func (c *Client) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (*CreateTransactionResult, error) {
	// The API takes amounts as strings to keep decimal precision on the wire.
	payload := map[string]interface{}{
		"user_id":    req.UserID,
		"account_id": req.AccountID,
		"direction":  req.Direction,
		"currency":   req.Currency,
		"amount":     req.Amount.String(),
		"comment":    req.Comment,
		"project_id": req.ProjectID,
		"hash":       req.Hash,
		"chain":      req.Chain,
	}

	var result CreateTransactionResult
	if err := c.post(ctx, "/api/v1/transactions", payload, &result, http.StatusCreated); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction created",
		"transaction_id", result.Transaction.ID,
		"project_id", req.ProjectID,
		"verification", result.Verification,
	)
	return &result, nil
}

// ListTransactions retrieves a project's ledger rows. userID 0 lists the
// whole project.
func (c *Client) ListTransactions(ctx context.Context, projectID, userID int64) ([]Transaction, error) {
	q := url.Values{}
	q.Set("project_id", strconv.FormatInt(projectID, 10))
	if userID != 0 {
		q.Set("user_id", strconv.FormatInt(userID, 10))
	}

	var response struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.get(ctx, "/api/v1/transactions?"+q.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// CreateControlPoint records a balance snapshot in the project's audit log.
func (c *Client) CreateControlPoint(ctx context.Context, projectID int64) (*ControlPoint, error) {
	payload := map[string]interface{}{"project_id": projectID}

	var cp ControlPoint
	if err := c.post(ctx, "/api/v1/control-points", payload, &cp, http.StatusCreated); err != nil {
		return nil, err
	}

	c.logger.Debug("control point created", "project_id", projectID, "event_id", cp.EventID)
	return &cp, nil
}

// ResolveChainTransaction resolves a hash live against its chain explorer.
func (c *Client) ResolveChainTransaction(ctx context.Context, hash, chain string) ([]Transfer, error) {
	u := fmt.Sprintf("/api/v1/chain-transactions/%s?chain=%s", url.PathEscape(hash), url.QueryEscape(chain))

	var response struct {
		Transfers []Transfer `json:"transfers"`
	}
	if err := c.get(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Transfers, nil
}

// VerifyTransaction reconciles one ledger row against its chain.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID int64) (*Verification, error) {
	payload := map[string]interface{}{"transaction_id": transactionID}

	var verification Verification
	if err := c.post(ctx, "/api/v1/verifications", payload, &verification, http.StatusOK); err != nil {
		return nil, err
	}

	c.logger.Debug("transaction verified",
		"transaction_id", transactionID,
		"confirmed", verification.Confirmed,
	)
	return &verification, nil
}

// Health checks the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
