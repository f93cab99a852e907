// Package money handles monetary amounts as fixed-point decimals.
// Amounts travel as strings ("24.99") and are stored as NUMERIC;
// arithmetic never touches float64.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Parse accepts a decimal string like "24.99". Negative amounts are invalid.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return d, nil
}

// String renders with two-digit scale: "30.97", "10.00".
func String(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MulQty multiplies a unit price by a quantity.
func MulQty(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// Sum adds decimal strings, failing on the first unparsable one.
func Sum(amounts ...string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, a := range amounts {
		d, err := Parse(a)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, nil
}

// Cents converts to the minor unit an external processor expects.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}
