package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vterekhov/kassa/service/chain"
)

// Direction marks whether a transaction adds to or subtracts from the shared
// cash pool.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// ParseDirection validates a direction tag from the API or the database.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionIn, DirectionOut:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Transaction is one row of the append-only shared ledger. Hash and CryptoType
// are empty for cash entries; crypto entries carry the on-chain hash and the
// explorer family it verifies against.
type Transaction struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	AccountID  int64           `json:"account_id"`
	Direction  Direction       `json:"direction"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	Comment    string          `json:"comment,omitempty"`
	Created    time.Time       `json:"created"`
	ProjectID  int64           `json:"project_id"`
	Hash       string          `json:"hash,omitempty"`
	CryptoType chain.Chain     `json:"crypto_type,omitempty"`
}

// IsCrypto reports whether the transaction claims an on-chain counterpart.
func (t Transaction) IsCrypto() bool {
	return t.Hash != ""
}

// Signed returns the amount with the direction applied.
func (t Transaction) Signed() decimal.Decimal {
	if t.Direction == DirectionOut {
		return t.Amount.Neg()
	}
	return t.Amount
}

// ChainTransfer is a recorded on-chain transfer tied to a transaction hash.
// Rows are written when a hash is first resolved and read back during
// reconciliation, so a verification never depends on explorer availability.
type ChainTransfer struct {
	ID      int64           `json:"id"`
	Hash    string          `json:"hash"`
	Chain   chain.Chain     `json:"chain"`
	Amount  decimal.Decimal `json:"amount"`
	Token   string          `json:"token"`
	Created time.Time       `json:"created"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	ProjectID  int64           `json:"project_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	ObjectType string          `json:"object_type"`
	Created    time.Time       `json:"created"`
}

// BalanceSheet maps currency names to signed totals. It is always derived by
// folding the transaction log; it is never stored as mutable state.
type BalanceSheet map[string]decimal.Decimal

// Total sums every currency bucket. Used to detect the all-zero case.
func (b BalanceSheet) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b {
		total = total.Add(v)
	}
	return total
}

// IsZero reports whether every bucket nets to zero.
func (b BalanceSheet) IsZero() bool {
	for _, v := range b {
		if !v.IsZero() {
			return false
		}
	}
	return true
}
