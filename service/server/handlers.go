package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/db"
	"github.com/vterekhov/kassa/service/ledger"
	natspkg "github.com/vterekhov/kassa/service/nats"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a ledger row
	maxHashLength      = 120     // longest supported hash is 0x + 64 hex chars
	maxCommentLength   = 1024
)

var (
	// Transaction hashes: hex with an optional 0x prefix (ETH/BSC), plain hex
	// for Tron and BTC.
	validHashRegex = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)
)

// Store is the slice of persistence the HTTP handlers need.
type Store interface {
	CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (ledger.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	ListTransactionsByProject(ctx context.Context, projectID int64) ([]ledger.Transaction, error)
	ListTransactionsByUser(ctx context.Context, projectID, userID int64) ([]ledger.Transaction, error)
	ListTransactionsByTimeRange(ctx context.Context, params db.ListTransactionsByTimeRangeParams) ([]ledger.Transaction, error)
	CreateChainTransfer(ctx context.Context, params db.CreateChainTransferParams) (ledger.ChainTransfer, error)
	ListChainTransfersByHash(ctx context.Context, hash string) ([]ledger.ChainTransfer, error)
}

// Resolver resolves transaction hashes against their chain explorers.
type Resolver interface {
	Resolve(ctx context.Context, hash string, c chain.Chain) ([]chain.Transfer, error)
}

// Checker reconciles ledger transactions against recorded transfers.
type Checker interface {
	Verify(ctx context.Context, tx ledger.Transaction) (bool, error)
}

// ControlPointCreator records balance snapshots in the audit log.
type ControlPointCreator interface {
	Create(ctx context.Context, projectID int64) (ledger.BalanceSheet, ledger.Event, error)
}

// ScheduleUpserter keeps a project's reconciliation schedule in step with its
// crypto activity.
type ScheduleUpserter interface {
	UpsertProjectSchedule(ctx context.Context, projectID int64, interval time.Duration) error
}

// handleGetBalance returns a handler that computes a project balance sheet.
// GET /api/v1/balance?project_id=N&user_id=N&from=RFC3339&to=RFC3339
// user_id narrows the sheet to one participant; from/to narrow the fold to a
// time window.
func handleGetBalance(store Store, aggregator *ledger.Aggregator, currencies []string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		projectID, err := parseIDParam(query.Get("project_id"), "project_id")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		from, to, err := parseTimeRange(query.Get("from"), query.Get("to"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var txs []ledger.Transaction
		if !from.IsZero() || !to.IsZero() {
			txs, err = store.ListTransactionsByTimeRange(r.Context(), db.ListTransactionsByTimeRangeParams{
				ProjectID: projectID,
				StartTime: from,
				EndTime:   to,
			})
		} else {
			txs, err = store.ListTransactionsByProject(r.Context(), projectID)
		}
		if err != nil {
			logger.Error("failed to list transactions for balance", "project_id", projectID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := map[string]interface{}{
			"project_id": projectID,
		}

		if userIDStr := query.Get("user_id"); userIDStr != "" {
			userID, err := parseIDParam(userIDStr, "user_id")
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			sheets := aggregator.AggregateByUser(currencies, txs)
			sheet, ok := sheets[userID]
			if !ok {
				sheet = aggregator.Aggregate(currencies, nil)
			}
			resp["user_id"] = userID
			resp["balances"] = sheet
			resp["total"] = sheet.Total()
		} else {
			sheet := aggregator.Aggregate(currencies, txs)
			resp["balances"] = sheet
			resp["total"] = sheet.Total()
		}

		logger.Debug("balance computed", "project_id", projectID, "transactions", len(txs))
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleCreateControlPoint returns a handler that records a balance snapshot.
// POST /api/v1/control-points {"project_id": N}
func handleCreateControlPoint(cp ControlPointCreator, publisher natspkg.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			ProjectID int64 `json:"project_id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ProjectID <= 0 {
			writeError(w, "project_id is required", http.StatusBadRequest)
			return
		}

		sheet, event, err := cp.Create(r.Context(), req.ProjectID)
		if err != nil {
			logger.Error("failed to create control point", "project_id", req.ProjectID, "error", err)
			writeError(w, "failed to create control point", http.StatusInternalServerError)
			return
		}

		if publisher != nil {
			cpEvent := &natspkg.ControlPointEvent{
				ProjectID:   req.ProjectID,
				EventID:     event.ID,
				Balances:    sheet,
				PublishedAt: time.Now().UTC(),
			}
			if err := publisher.PublishControlPoint(r.Context(), cpEvent); err != nil {
				// The snapshot is durably recorded; the announcement is best-effort.
				logger.Error("failed to publish control point event", "project_id", req.ProjectID, "error", err)
			}
		}

		writeJSON(w, map[string]interface{}{
			"project_id": req.ProjectID,
			"event_id":   event.ID,
			"balances":   sheet,
			"created":    event.Created,
		}, http.StatusCreated)
	})
}

// handleListTransactions returns a handler that lists ledger rows.
// GET /api/v1/transactions?project_id=N&user_id=N&from=RFC3339&to=RFC3339
func handleListTransactions(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		projectID, err := parseIDParam(query.Get("project_id"), "project_id")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		from, to, err := parseTimeRange(query.Get("from"), query.Get("to"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var txs []ledger.Transaction
		switch {
		case query.Get("user_id") != "":
			userID, err := parseIDParam(query.Get("user_id"), "user_id")
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			txs, err = store.ListTransactionsByUser(r.Context(), projectID, userID)
			if err != nil {
				logger.Error("failed to list transactions", "project_id", projectID, "user_id", userID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		case !from.IsZero() || !to.IsZero():
			txs, err = store.ListTransactionsByTimeRange(r.Context(), db.ListTransactionsByTimeRangeParams{
				ProjectID: projectID,
				StartTime: from,
				EndTime:   to,
			})
			if err != nil {
				logger.Error("failed to list transactions", "project_id", projectID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		default:
			txs, err = store.ListTransactionsByProject(r.Context(), projectID)
			if err != nil {
				logger.Error("failed to list transactions", "project_id", projectID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		resp := make([]transactionResponse, len(txs))
		for i := range txs {
			resp[i] = transactionToResponse(txs[i])
		}

		logger.Debug("transactions listed", "project_id", projectID, "count", len(resp))
		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
		}, http.StatusOK)
	})
}

// handleCreateTransaction returns a handler that appends a row to the ledger.
// POST /api/v1/transactions
// When the row carries a hash, the handler attempts to resolve it immediately
// and records the discovered transfers. An explorer outage does not block the
// append: the row stays unverified and the reconciliation worker picks it up.
// A crypto row also upserts the project's reconciliation schedule so the
// worker keeps checking the project at the configured interval.
func handleCreateTransaction(store Store, resolver Resolver, scheduler ScheduleUpserter, reconcileInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			UserID    int64  `json:"user_id"`
			AccountID int64  `json:"account_id"`
			Direction string `json:"direction"`
			Currency  string `json:"currency"`
			Amount    string `json:"amount"`
			Comment   string `json:"comment"`
			ProjectID int64  `json:"project_id"`
			Hash      string `json:"hash"`
			Chain     string `json:"chain"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if req.ProjectID <= 0 {
			writeError(w, "project_id is required", http.StatusBadRequest)
			return
		}
		if req.UserID <= 0 {
			writeError(w, "user_id is required", http.StatusBadRequest)
			return
		}

		direction, err := ledger.ParseDirection(req.Direction)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if req.Currency == "" {
			writeError(w, "currency is required", http.StatusBadRequest)
			return
		}
		if len(req.Comment) > maxCommentLength {
			writeError(w, fmt.Sprintf("comment too long: maximum length is %d characters", maxCommentLength), http.StatusBadRequest)
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(w, "invalid amount: must be a decimal number", http.StatusBadRequest)
			return
		}
		if amount.Sign() <= 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		var cryptoType chain.Chain
		if req.Hash != "" {
			if err := validateHash(req.Hash); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			cryptoType, err = chain.ParseChain(req.Chain)
			if err != nil {
				writeError(w, "chain is required when hash is set: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		tx, err := store.CreateTransaction(r.Context(), db.CreateTransactionParams{
			UserID:     req.UserID,
			AccountID:  req.AccountID,
			Direction:  direction,
			Currency:   req.Currency,
			Amount:     amount,
			Comment:    req.Comment,
			ProjectID:  req.ProjectID,
			Hash:       req.Hash,
			CryptoType: cryptoType,
		})
		if err != nil {
			logger.Error("failed to create transaction", "project_id", req.ProjectID, "error", err)
			writeError(w, "failed to create transaction", http.StatusInternalServerError)
			return
		}

		resp := map[string]interface{}{
			"transaction": transactionToResponse(tx),
		}

		if tx.IsCrypto() {
			resp["verification"] = resolveAndRecord(r.Context(), store, resolver, tx.Hash, tx.CryptoType, logger)

			if scheduler != nil {
				if err := scheduler.UpsertProjectSchedule(r.Context(), tx.ProjectID, reconcileInterval); err != nil {
					// The row is durably recorded; scheduling is best-effort
					// and retried on the next crypto row.
					logger.Warn("failed to upsert reconciliation schedule",
						"project_id", tx.ProjectID,
						"error", err,
					)
				}
			}
		}

		logger.Info("transaction created",
			"transaction_id", tx.ID,
			"project_id", tx.ProjectID,
			"direction", tx.Direction,
			"amount", tx.Amount.String(),
		)
		writeJSON(w, resp, http.StatusCreated)
	})
}

// resolveAndRecord resolves a hash and records the discovered transfers,
// returning a status tag for the response. Failures are reported, not fatal:
// the reconciliation worker retries anything left pending.
func resolveAndRecord(ctx context.Context, store Store, resolver Resolver, hash string, c chain.Chain, logger *slog.Logger) string {
	transfers, err := resolver.Resolve(ctx, hash, c)
	if err != nil {
		logger.Warn("could not resolve hash at creation, deferring to reconciliation",
			"hash", hash,
			"chain", c,
			"error", err,
		)
		return "pending"
	}
	if len(transfers) == 0 {
		return "absent"
	}
	for _, tr := range transfers {
		if _, err := store.CreateChainTransfer(ctx, db.CreateChainTransferParams{
			Hash:   tr.Hash,
			Chain:  tr.Chain,
			Amount: tr.Amount,
			Token:  tr.Token,
		}); err != nil {
			logger.Error("failed to record chain transfer", "hash", hash, "error", err)
			return "pending"
		}
	}
	return "recorded"
}

// handleGetChainTransactions returns a handler that reports resolved transfers
// for a hash.
// GET /api/v1/chain-transactions/{hash}?chain=
// Recorded transfers are served from the database; with an explicit chain the
// hash is resolved live against the explorer instead.
func handleGetChainTransactions(store Store, resolver Resolver, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := r.PathValue("hash")
		if err := validateHash(hash); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if chainParam := r.URL.Query().Get("chain"); chainParam != "" {
			c, err := chain.ParseChain(chainParam)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}

			transfers, err := resolver.Resolve(r.Context(), hash, c)
			if err != nil {
				if errors.Is(err, chain.ErrUnavailable) {
					logger.Warn("explorer unavailable", "hash", hash, "chain", c, "error", err)
					writeError(w, "could not confirm transaction", http.StatusServiceUnavailable)
					return
				}
				logger.Error("failed to resolve hash", "hash", hash, "chain", c, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if len(transfers) == 0 {
				writeError(w, "transaction not found on chain", http.StatusNotFound)
				return
			}

			writeJSON(w, map[string]interface{}{
				"hash":      hash,
				"source":    "explorer",
				"transfers": transfers,
			}, http.StatusOK)
			return
		}

		transfers, err := store.ListChainTransfersByHash(r.Context(), hash)
		if err != nil {
			logger.Error("failed to list chain transfers", "hash", hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if len(transfers) == 0 {
			writeError(w, "no recorded transfers for hash", http.StatusNotFound)
			return
		}

		resp := make([]transferResponse, len(transfers))
		for i := range transfers {
			resp[i] = transferToResponse(transfers[i])
		}
		writeJSON(w, map[string]interface{}{
			"hash":      hash,
			"source":    "recorded",
			"transfers": resp,
		}, http.StatusOK)
	})
}

// handleVerifyTransaction returns a handler that reconciles one ledger row
// against its chain.
// POST /api/v1/verifications {"transaction_id": N}
// Resolves the hash first when no transfers are recorded yet. An explorer
// outage surfaces as 503; raw provider errors are never exposed.
func handleVerifyTransaction(store Store, resolver Resolver, checker Checker, publisher natspkg.Publisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			TransactionID int64 `json:"transaction_id"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.TransactionID <= 0 {
			writeError(w, "transaction_id is required", http.StatusBadRequest)
			return
		}

		tx, err := store.GetTransaction(r.Context(), req.TransactionID)
		if err != nil {
			logger.Debug("transaction not found", "transaction_id", req.TransactionID, "error", err)
			writeError(w, "transaction not found", http.StatusNotFound)
			return
		}

		if !tx.IsCrypto() {
			writeJSON(w, map[string]interface{}{
				"transaction_id": tx.ID,
				"confirmed":      true,
				"recorded_sum":   "0",
			}, http.StatusOK)
			return
		}

		recorded, err := store.ListChainTransfersByHash(r.Context(), tx.Hash)
		if err != nil {
			logger.Error("failed to list chain transfers", "hash", tx.Hash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if len(recorded) == 0 {
			transfers, err := resolver.Resolve(r.Context(), tx.Hash, tx.CryptoType)
			if err != nil {
				if errors.Is(err, chain.ErrUnavailable) {
					logger.Warn("explorer unavailable during verification",
						"transaction_id", tx.ID,
						"hash", tx.Hash,
						"error", err,
					)
					writeError(w, "could not confirm transaction", http.StatusServiceUnavailable)
					return
				}
				logger.Error("failed to resolve hash", "hash", tx.Hash, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			for _, tr := range transfers {
				created, err := store.CreateChainTransfer(r.Context(), db.CreateChainTransferParams{
					Hash:   tr.Hash,
					Chain:  tr.Chain,
					Amount: tr.Amount,
					Token:  tr.Token,
				})
				if err != nil {
					logger.Error("failed to record chain transfer", "hash", tx.Hash, "error", err)
					writeError(w, "internal server error", http.StatusInternalServerError)
					return
				}
				recorded = append(recorded, created)
			}
		}

		confirmed, err := checker.Verify(r.Context(), tx)
		if err != nil {
			logger.Error("verification failed", "transaction_id", tx.ID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		sum := decimal.Zero
		for _, tr := range recorded {
			sum = sum.Add(tr.Amount)
		}

		if publisher != nil {
			event := natspkg.FromVerification(tx, sum, confirmed)
			if err := publisher.PublishVerification(r.Context(), event); err != nil {
				logger.Error("failed to publish verification event", "transaction_id", tx.ID, "error", err)
			}
		}

		logger.Info("transaction verified",
			"transaction_id", tx.ID,
			"hash", tx.Hash,
			"confirmed", confirmed,
			"recorded_sum", sum.String(),
		)
		writeJSON(w, map[string]interface{}{
			"transaction_id": tx.ID,
			"confirmed":      confirmed,
			"recorded_sum":   sum.String(),
			"explorer_link":  chain.ExplorerLink(tx.CryptoType, tx.Hash),
		}, http.StatusOK)
	})
}

// transactionResponse is the JSON response format for a ledger row.
type transactionResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	AccountID int64     `json:"account_id"`
	Direction string    `json:"direction"`
	Currency  string    `json:"currency"`
	Amount    string    `json:"amount"`
	Comment   string    `json:"comment,omitempty"`
	Created   time.Time `json:"created"`
	ProjectID int64     `json:"project_id"`
	Hash      string    `json:"hash,omitempty"`
	Chain     string    `json:"chain,omitempty"`
}

// transactionToResponse converts a domain Transaction to a response format.
func transactionToResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		AccountID: t.AccountID,
		Direction: string(t.Direction),
		Currency:  t.Currency,
		Amount:    t.Amount.String(),
		Comment:   t.Comment,
		Created:   t.Created,
		ProjectID: t.ProjectID,
		Hash:      t.Hash,
		Chain:     string(t.CryptoType),
	}
}

// transferResponse is the JSON response format for a recorded transfer.
type transferResponse struct {
	ID      int64     `json:"id"`
	Hash    string    `json:"hash"`
	Chain   string    `json:"chain"`
	Amount  string    `json:"amount"`
	Token   string    `json:"token"`
	Created time.Time `json:"created"`
}

// transferToResponse converts a recorded transfer to a response format.
func transferToResponse(t ledger.ChainTransfer) transferResponse {
	return transferResponse{
		ID:      t.ID,
		Hash:    t.Hash,
		Chain:   string(t.Chain),
		Amount:  t.Amount.String(),
		Token:   t.Token,
		Created: t.Created,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a request body, translating size-limit errors into
// something the caller can show.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			return errors.New("request body too large: maximum size is 1MB")
		}
		return errors.New("invalid request body: must be valid JSON")
	}
	return nil
}

// parseIDParam parses a required positive integer parameter.
func parseIDParam(value, name string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return id, nil
}

// parseTimeRange parses optional from/to bounds. A missing bound defaults to
// the open end of the range.
func parseTimeRange(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from: must be RFC3339")
		}
	}
	if toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to: must be RFC3339")
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("invalid range: to precedes from")
	}

	// Open-ended bounds
	if !from.IsZero() && to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() && !to.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	return from, to, nil
}

// validateHash validates a transaction hash for format and length.
func validateHash(hash string) error {
	if hash == "" {
		return errors.New("hash is required")
	}
	if len(hash) > maxHashLength {
		return fmt.Errorf("hash too long: maximum length is %d characters", maxHashLength)
	}
	if !validHashRegex.MatchString(hash) {
		return errors.New("invalid hash format: must be hexadecimal")
	}
	return nil
}
