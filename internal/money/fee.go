// Package money holds the fixed-scale decimal arithmetic applied to every
// trade, reservation and withdrawal. All results carry at most Scale fraction
// digits and are rounded toward negative infinity.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fraction digits kept by every operation.
const Scale int32 = 8

// Side mirrors the order side for reservation math.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Normalize floors d to Scale fraction digits.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.RoundFloor(Scale)
}

// Fee returns floor(amount/100, 8) * feePercent, floored to Scale.
func Fee(amount, feePercent decimal.Decimal) decimal.Decimal {
	if feePercent.IsZero() {
		return decimal.Zero
	}
	return Normalize(Normalize(amount.Shift(-2)).Mul(feePercent))
}

// WithFee returns amount plus its fee.
func WithFee(amount, feePercent decimal.Decimal) decimal.Decimal {
	return amount.Add(Fee(amount, feePercent))
}

// WithoutFee returns amount minus its fee.
func WithoutFee(amount, feePercent decimal.Decimal) decimal.Decimal {
	return amount.Sub(Fee(amount, feePercent))
}

// Notional returns amount*price floored to Scale.
func Notional(amount, price decimal.Decimal) decimal.Decimal {
	return Normalize(amount.Mul(price))
}

// RequiredTotal is the reservation taken from the source wallet of an order.
// A BUY reserves the quote notional plus the trading fee; a SELL reserves the
// base amount itself.
func RequiredTotal(side Side, amount, price, feePercent decimal.Decimal) decimal.Decimal {
	if side == Buy {
		return WithFee(Notional(amount, price), feePercent)
	}
	return Normalize(amount)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
