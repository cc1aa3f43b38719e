package chain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Chain identifies one of the supported blockchain explorer families.
// The string values are wire tags: they are persisted on ledger transactions
// as crypto_type and accepted by the HTTP API, so they must stay stable.
type Chain string

const (
	ChainTron Chain = "tronscan"
	ChainEth  Chain = "etherscan"
	ChainBsc  Chain = "bscscan"
	ChainBtc  Chain = "blockchain"
)

// Chains lists every supported chain family.
var Chains = []Chain{ChainTron, ChainEth, ChainBsc, ChainBtc}

// ParseChain validates a chain tag coming from the API or the database.
func ParseChain(s string) (Chain, error) {
	switch Chain(s) {
	case ChainTron, ChainEth, ChainBsc, ChainBtc:
		return Chain(s), nil
	}
	return "", fmt.Errorf("unknown chain type %q", s)
}

// ErrUnavailable indicates the explorer could not be reached or returned a
// provider-side error. Callers must treat it as "unknown", never as
// "transaction absent": the reconciliation layer retries or defers instead
// of failing the transaction.
var ErrUnavailable = errors.New("explorer unavailable")

// Transfer is a single on-chain value movement discovered for a transaction
// hash. One hash may fan out into several transfers (multi-log ERC-20/BEP-20
// transactions). Transfers live only for the duration of a resolution call;
// persisting them is the caller's decision.
type Transfer struct {
	Hash   string          `json:"hash"`
	Chain  Chain           `json:"chain"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token"`
}

// Token describes a fungible asset held by a Tron wallet.
type Token struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Type     int    `json:"type"` // 0 = TRX, 10 = TRC-10, 20 = TRC-20
	Decimals int32  `json:"decimals"`
}

// TransferPage is the result of crawling a wallet's transfer history.
// Truncated is set when the crawl stopped at the record cap, meaning the
// result is possibly incomplete and must not be treated as exhaustive.
type TransferPage struct {
	Transfers []Transfer `json:"transfers"`
	Truncated bool       `json:"truncated"`
}

// ExplorerLink returns the public explorer URL for a transaction.
func ExplorerLink(c Chain, hash string) string {
	switch c {
	case ChainTron:
		return "https://tronscan.org/#/transaction/" + hash
	case ChainEth:
		return "https://etherscan.io/tx/" + hash
	case ChainBsc:
		return "https://bscscan.com/tx/" + hash
	default:
		return "https://www.blockchain.com/explorer/transactions/btc/" + hash
	}
}
