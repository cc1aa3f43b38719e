package ledger

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/metrics"
)

// Aggregator folds transaction logs into balance sheets. Folding is a pure
// commutative sum, so the result does not depend on transaction order.
type Aggregator struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{metrics: m, logger: logger}
}

// Aggregate folds transactions into per-currency signed totals. Every currency
// in currencies gets a bucket even when no transaction touched it, so callers
// render a complete sheet without probing for missing keys. Transactions in a
// currency outside the configured set still get a bucket.
func (a *Aggregator) Aggregate(currencies []string, txs []Transaction) BalanceSheet {
	start := time.Now()
	sheet := newSheet(currencies)
	for _, tx := range txs {
		sheet[tx.Currency] = sheet[tx.Currency].Add(tx.Signed())
	}
	a.metrics.RecordBalanceFold("project", time.Since(start).Seconds())
	return sheet
}

// AggregateByUser folds transactions into one sheet per user. Only users that
// appear in the log get an entry; each entry carries the full currency bucket
// set.
func (a *Aggregator) AggregateByUser(currencies []string, txs []Transaction) map[int64]BalanceSheet {
	start := time.Now()
	sheets := make(map[int64]BalanceSheet)
	for _, tx := range txs {
		sheet, ok := sheets[tx.UserID]
		if !ok {
			sheet = newSheet(currencies)
			sheets[tx.UserID] = sheet
		}
		sheet[tx.Currency] = sheet[tx.Currency].Add(tx.Signed())
	}
	a.metrics.RecordBalanceFold("user", time.Since(start).Seconds())
	return sheets
}

func newSheet(currencies []string) BalanceSheet {
	sheet := make(BalanceSheet, len(currencies))
	for _, c := range currencies {
		sheet[c] = decimal.Zero
	}
	return sheet
}
