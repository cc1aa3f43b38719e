package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/metrics"
)

// DefaultTolerance is the absolute difference allowed between a ledger amount
// and the summed recorded transfers for its hash. The operators key amounts by
// hand from explorer pages, so sub-unit rounding noise is expected; anything
// beyond one whole unit is treated as a mismatch.
var DefaultTolerance = decimal.NewFromInt(1)

// TransferStore is the slice of persistence the checker needs.
type TransferStore interface {
	ListChainTransfersByHash(ctx context.Context, hash string) ([]ChainTransfer, error)
}

// Checker reconciles ledger transactions against recorded on-chain transfers.
type Checker struct {
	store     TransferStore
	tolerance decimal.Decimal
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewChecker creates a checker. A zero tolerance falls back to
// DefaultTolerance; pass a negative value to demand exact equality.
func NewChecker(store TransferStore, tolerance decimal.Decimal, m *metrics.Metrics, logger *slog.Logger) *Checker {
	if tolerance.IsZero() {
		tolerance = DefaultTolerance
	}
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return &Checker{
		store:     store,
		tolerance: tolerance,
		metrics:   m,
		logger:    logger,
	}
}

// Verify reports whether the transaction's amount agrees with the sum of
// recorded transfers for its hash, within the tolerance. Cash transactions
// (no hash) have nothing to reconcile and always pass. A store failure is
// surfaced as an error, never collapsed into a false: the caller must be able
// to tell "mismatch" from "could not check".
func (c *Checker) Verify(ctx context.Context, tx Transaction) (bool, error) {
	if !tx.IsCrypto() {
		return true, nil
	}

	transfers, err := c.store.ListChainTransfersByHash(ctx, tx.Hash)
	if err != nil {
		c.metrics.RecordVerification("unavailable")
		return false, fmt.Errorf("list transfers for %s: %w", tx.Hash, err)
	}

	sum := decimal.Zero
	for _, tr := range transfers {
		sum = sum.Add(tr.Amount)
	}

	diff := sum.Sub(tx.Amount).Abs()
	ok := diff.LessThanOrEqual(c.tolerance)
	if ok {
		c.metrics.RecordVerification("confirmed")
	} else {
		c.metrics.RecordVerification("mismatch")
		c.logger.WarnContext(ctx, "transaction amount disagrees with recorded transfers",
			"hash", tx.Hash,
			"ledger_amount", tx.Amount.String(),
			"recorded_sum", sum.String(),
			"difference", diff.String(),
		)
	}
	return ok, nil
}
