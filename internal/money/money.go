// Package money provides decimal money parsing and formatting helpers.
//
// All balances and invoice amounts are decimal.Decimal; float64 is never
// used for money anywhere in the service.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts a user-supplied amount string into a positive decimal.
// Rejects malformed input and non-positive values.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return d, nil
}

// InBounds reports whether amount lies within [min, max] inclusive.
func InBounds(amount, min, max decimal.Decimal) bool {
	return amount.Cmp(min) >= 0 && amount.Cmp(max) <= 0
}

// Format renders an amount for provider requests and user messages.
// Trailing zeros are dropped ("10.50" not "10.50000000").
func Format(d decimal.Decimal) string {
	return d.String()
}
