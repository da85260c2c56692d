package utils

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatTokenAmount renders a smallest-unit amount as a decimal token string,
// e.g. 1500000000000000000 with 18 decimals → "1.5".
func FormatTokenAmount(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseTokenAmount is the inverse of FormatTokenAmount. Extra precision
// beyond decimals is truncated.
func ParseTokenAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}
