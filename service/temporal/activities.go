package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/db"
	"github.com/vterekhov/kassa/service/ledger"
	"github.com/vterekhov/kassa/service/metrics"
	natspkg "github.com/vterekhov/kassa/service/nats"
)

// ListUnverifiedInput contains parameters for the ListUnverified activity.
type ListUnverifiedInput struct {
	ProjectID int64 `json:"project_id"`
	Limit     int32 `json:"limit"`
}

// ListUnverifiedResult contains the transactions awaiting reconciliation.
type ListUnverifiedResult struct {
	Transactions []ledger.Transaction `json:"transactions"`
}

// ResolveTransfersInput contains parameters for the ResolveTransfers activity.
type ResolveTransfersInput struct {
	Hash  string      `json:"hash"`
	Chain chain.Chain `json:"chain"`
}

// ResolveTransfersResult contains the result of resolving a hash.
type ResolveTransfersResult struct {
	Recorded int  `json:"recorded"`
	Absent   bool `json:"absent"` // explorer verified the hash does not exist
}

// VerifyTransactionInput contains parameters for the VerifyTransaction activity.
type VerifyTransactionInput struct {
	TransactionID int64 `json:"transaction_id"`
}

// VerifyTransactionResult contains the outcome of one reconciliation check.
type VerifyTransactionResult struct {
	Confirmed   bool   `json:"confirmed"`
	RecordedSum string `json:"recorded_sum"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	ListUnverifiedTransactions(ctx context.Context, projectID int64, limit int32) ([]ledger.Transaction, error)
	CreateChainTransfer(ctx context.Context, params db.CreateChainTransferParams) (ledger.ChainTransfer, error)
	ListChainTransfersByHash(ctx context.Context, hash string) ([]ledger.ChainTransfer, error)
}

// ResolverInterface defines the chain resolution operations needed by activities.
// This allows for easy mocking in tests.
type ResolverInterface interface {
	Resolve(ctx context.Context, hash string, c chain.Chain) ([]chain.Transfer, error)
}

// CheckerInterface defines the reconciliation operations needed by activities.
// This allows for easy mocking in tests.
type CheckerInterface interface {
	Verify(ctx context.Context, tx ledger.Transaction) (bool, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishVerification(ctx context.Context, event *natspkg.VerificationEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	store     StoreInterface
	resolver  ResolverInterface
	checker   CheckerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	resolver ResolverInterface,
	checker CheckerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		resolver:  resolver,
		checker:   checker,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// ListUnverified fetches crypto transactions whose hash has not been resolved yet.
func (a *Activities) ListUnverified(ctx context.Context, input ListUnverifiedInput) (*ListUnverifiedResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("ListUnverified", time.Since(start).Seconds())
	}()

	limit := input.Limit
	if limit == 0 {
		limit = 100
	}

	txs, err := a.store.ListUnverifiedTransactions(ctx, input.ProjectID, limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to list unverified transactions",
			"project_id", input.ProjectID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to list unverified transactions: %w", err)
	}

	a.logger.InfoContext(ctx, "listed unverified transactions",
		"project_id", input.ProjectID,
		"count", len(txs),
	)
	return &ListUnverifiedResult{Transactions: txs}, nil
}

// ResolveTransfers resolves a hash against its explorer and records the
// discovered transfers. An explorer outage surfaces as an error so the
// activity retry policy drives the backoff; a verified absence succeeds with
// Absent set so the workflow does not retry a hash that will never appear.
func (a *Activities) ResolveTransfers(ctx context.Context, input ResolveTransfersInput) (*ResolveTransfersResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("ResolveTransfers", time.Since(start).Seconds())
	}()

	transfers, err := a.resolver.Resolve(ctx, input.Hash, input.Chain)
	if err != nil {
		if errors.Is(err, chain.ErrUnavailable) {
			a.logger.WarnContext(ctx, "explorer unavailable, will retry",
				"hash", input.Hash,
				"chain", input.Chain,
				"error", err,
			)
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", input.Hash, err)
	}

	if len(transfers) == 0 {
		return &ResolveTransfersResult{Absent: true}, nil
	}

	recorded := 0
	for _, tr := range transfers {
		if _, err := a.store.CreateChainTransfer(ctx, db.CreateChainTransferParams{
			Hash:   tr.Hash,
			Chain:  tr.Chain,
			Amount: tr.Amount,
			Token:  tr.Token,
		}); err != nil {
			a.logger.ErrorContext(ctx, "failed to record chain transfer",
				"hash", tr.Hash,
				"error", err,
			)
			return nil, fmt.Errorf("failed to record transfer for %s: %w", tr.Hash, err)
		}
		recorded++
	}

	a.logger.InfoContext(ctx, "recorded chain transfers",
		"hash", input.Hash,
		"chain", input.Chain,
		"recorded", recorded,
	)
	return &ResolveTransfersResult{Recorded: recorded}, nil
}

// VerifyTransaction reconciles one transaction against its recorded transfers
// and publishes the outcome.
func (a *Activities) VerifyTransaction(ctx context.Context, input VerifyTransactionInput) (*VerifyTransactionResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("VerifyTransaction", time.Since(start).Seconds())
	}()

	tx, err := a.store.GetTransaction(ctx, input.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %d: %w", input.TransactionID, err)
	}

	confirmed, err := a.checker.Verify(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction %d: %w", input.TransactionID, err)
	}

	recorded, err := a.store.ListChainTransfersByHash(ctx, tx.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers for %s: %w", tx.Hash, err)
	}
	sum := decimal.Zero
	for _, tr := range recorded {
		sum = sum.Add(tr.Amount)
	}

	if a.publisher != nil {
		event := natspkg.FromVerification(tx, sum, confirmed)
		if err := a.publisher.PublishVerification(ctx, event); err != nil {
			// The check itself succeeded and its result is derivable from the
			// database; the announcement is best-effort.
			a.logger.ErrorContext(ctx, "failed to publish verification event",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	a.logger.InfoContext(ctx, "verified transaction",
		"transaction_id", tx.ID,
		"hash", tx.Hash,
		"confirmed", confirmed,
		"recorded_sum", sum.String(),
	)
	return &VerifyTransactionResult{
		Confirmed:   confirmed,
		RecordedSum: sum.String(),
	}, nil
}
