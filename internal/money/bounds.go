package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// IntegerDigits is the widest integer part a stored amount may carry.
const IntegerDigits = 24

// Max is the largest magnitude accepted for an amount, price or notional.
var Max = decimal.New(1, IntegerDigits).Sub(decimal.New(1, -Scale))

// InRange reports whether |d| does not exceed Max.
func InRange(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Max)
}

// SortKey renders a non-negative in-range value as a fixed-width string of
// IntegerDigits integer digits and Scale fraction digits. Byte order of keys
// equals numeric order of values, so keys compare exactly in any SQL dialect.
// Negative values sort as zero and values above Max as Max.
func SortKey(d decimal.Decimal) string {
	d = Normalize(d)
	switch {
	case d.IsNegative():
		d = decimal.Zero
	case d.GreaterThan(Max):
		d = Max
	}
	s := d.StringFixed(Scale)
	return strings.Repeat("0", IntegerDigits+1+int(Scale)-len(s)) + s
}
