package domain

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of base units per whole native unit (lamports).
const NativeDecimals = 9

// CheckedAdd returns a+b or ErrMathOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrMathOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrMathOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrMathOverflow
	}
	return diff, nil
}

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ParseAmount converts a decimal string in whole units ("0.5") into base
// units with the given number of decimals. Fractions finer than one base
// unit are rejected rather than rounded.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("parse amount %q: more than %d decimal places", s, decimals)
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, ErrMathOverflow
	}
	return scaled.BigInt().Uint64(), nil
}

// FormatAmount renders base units as a decimal string in whole units.
func FormatAmount(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0).Shift(-decimals).String()
}
