package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vterekhov/kassa/service/metrics"
)

// TransactionFetcher resolves a transaction hash into the transfers it moved.
// An empty slice with a nil error means the explorer verified the hash does
// not exist; an ErrUnavailable-wrapped error means the explorer could not be
// consulted and the answer is unknown.
type TransactionFetcher interface {
	FetchTransfers(ctx context.Context, hash string) ([]Transfer, error)
}

// Resolver dispatches hash resolution to the fetcher registered for each
// chain. The table is built once at startup; an unregistered chain is a
// configuration error, not an outage.
type Resolver struct {
	fetchers map[Chain]TransactionFetcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewResolver builds a resolver over the given dispatch table.
func NewResolver(fetchers map[Chain]TransactionFetcher, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetchers: fetchers,
		metrics:  m,
		logger:   logger,
	}
}

// Resolve fetches the transfers for a hash on the named chain.
func (r *Resolver) Resolve(ctx context.Context, hash string, chain Chain) ([]Transfer, error) {
	fetcher, ok := r.fetchers[chain]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for chain %q", chain)
	}

	transfers, err := fetcher.FetchTransfers(ctx, hash)
	switch {
	case errors.Is(err, ErrUnavailable):
		r.metrics.RecordTransfersResolved(string(chain), "unavailable", 0)
		return nil, err
	case err != nil:
		r.metrics.RecordTransfersResolved(string(chain), "error", 0)
		return nil, err
	case len(transfers) == 0:
		r.metrics.RecordTransfersResolved(string(chain), "absent", 0)
		r.logger.InfoContext(ctx, "transaction not found on chain",
			"chain", chain,
			"hash", hash,
		)
		return transfers, nil
	default:
		r.metrics.RecordTransfersResolved(string(chain), "resolved", float64(len(transfers)))
		r.logger.DebugContext(ctx, "resolved transaction",
			"chain", chain,
			"hash", hash,
			"transfers", strconv.Itoa(len(transfers)),
		)
		return transfers, nil
	}
}

// Chains lists the chains the resolver can dispatch to.
func (r *Resolver) Chains() []Chain {
	chains := make([]Chain, 0, len(r.fetchers))
	for _, c := range Chains {
		if _, ok := r.fetchers[c]; ok {
			chains = append(chains, c)
		}
	}
	return chains
}
