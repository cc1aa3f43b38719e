package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Default decimal precisions per chain family. Tron reports per-asset
// decimals; the rest are fixed by convention.
const (
	DefaultTokenDecimals int32 = 6  // TRC/ERC stablecoins
	EvmNativeDecimals    int32 = 18 // ETH, BNB
	BtcDecimals          int32 = 8  // satoshi
	BscTokenLogDecimals  int32 = 18 // BEP-20 USDT logs
)

// Normalize converts a raw base-unit amount string into a canonical decimal
// by scaling down 10^decimals. The raw value is an integer count of the
// smallest denomination (sun, wei, satoshi, ...).
func Normalize(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d.Shift(-decimals), nil
}

// NormalizeInt is Normalize for amounts already parsed as integers.
func NormalizeInt(raw int64, decimals int32) decimal.Decimal {
	return decimal.New(raw, -decimals)
}

// ParseHexQuantity decodes an EVM 0x-prefixed hex quantity (transaction value
// or log data word) into a decimal integer count of base units.
func ParseHexQuantity(s string) (decimal.Decimal, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if h == "" {
		return decimal.Zero, nil
	}
	n := new(big.Int)
	if _, ok := n.SetString(h, 16); !ok {
		return decimal.Zero, fmt.Errorf("invalid hex quantity %q", s)
	}
	return decimal.NewFromBigInt(n, 0), nil
}

// NormalizeHex decodes a hex quantity and scales it by 10^decimals.
func NormalizeHex(s string, decimals int32) (decimal.Decimal, error) {
	n, err := ParseHexQuantity(s)
	if err != nil {
		return decimal.Zero, err
	}
	return n.Shift(-decimals), nil
}
