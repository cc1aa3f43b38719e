package nats

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/chain"
	"github.com/vterekhov/kassa/service/ledger"
)

// VerificationEvent is published to "ledger.verifications.{project_id}" after
// a reconciliation check completes with a definite answer. Checks that could
// not run (explorer outage) publish nothing; they are retried, not announced.
type VerificationEvent struct {
	TransactionID int64           `json:"transaction_id"`
	ProjectID     int64           `json:"project_id"`
	Hash          string          `json:"hash"`
	Chain         chain.Chain     `json:"chain"`
	LedgerAmount  decimal.Decimal `json:"ledger_amount"`
	RecordedSum   decimal.Decimal `json:"recorded_sum"`
	Confirmed     bool            `json:"confirmed"`
	ExplorerLink  string          `json:"explorer_link,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// ControlPointEvent is published to "ledger.control-points.{project_id}" when
// a balance snapshot is recorded.
type ControlPointEvent struct {
	ProjectID int64               `json:"project_id"`
	EventID   int64               `json:"event_id"`
	Balances  ledger.BalanceSheet `json:"balances"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromVerification builds a VerificationEvent from a checked transaction.
func FromVerification(tx ledger.Transaction, recordedSum decimal.Decimal, confirmed bool) *VerificationEvent {
	return &VerificationEvent{
		TransactionID: tx.ID,
		ProjectID:     tx.ProjectID,
		Hash:          tx.Hash,
		Chain:         tx.CryptoType,
		LedgerAmount:  tx.Amount,
		RecordedSum:   recordedSum,
		Confirmed:     confirmed,
		ExplorerLink:  chain.ExplorerLink(tx.CryptoType, tx.Hash),
		PublishedAt:   time.Now().UTC(),
	}
}
