// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount parsing errors.
var (
	ErrEmptyAmount     = errors.New("empty amount")
	ErrMalformedAmount = errors.New("amount is not a decimal number")
	ErrNegativeAmount  = errors.New("amount is negative")
	ErrTooPrecise      = errors.New("amount has more fractional digits than the asset supports")
	ErrAmountOverflow  = errors.New("amount does not fit in 256 bits")
)

// maxUint256Digits is the number of decimal digits in 2^256-1.
const maxUint256Digits = 78

// FormatUnits formats an amount in smallest units as a decimal string with
// trailing zeros trimmed. FormatUnits(1500000000000000000, 18) returns "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits parses a human readable decimal string into smallest units.
// ParseUnits("2.0", 6) returns 2000000. Surrounding whitespace is ignored and
// exponent notation ("1e-3") is accepted. Negative values, values with more
// fractional digits than decimals, and values above 2^256-1 are rejected.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	if d.IsZero() {
		return new(big.Int), nil
	}

	// Bound the magnitude before materializing, "1e999999999" would
	// otherwise allocate a huge integer.
	if int64(d.NumDigits())+int64(d.Exponent())+int64(decimals) > maxUint256Digits {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrTooPrecise, s, decimals)
	}

	units := shifted.BigInt()
	if units.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, s)
	}
	return units, nil
}

// ValidateAmount reports whether s is a non-negative finite decimal number,
// without regard to any asset precision.
func ValidateAmount(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	if d.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	return nil
}
