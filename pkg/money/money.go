// Package money provides cent-exact decimal helpers for the pricing
// pipeline. Plain float64 arithmetic appears in two places: the outlier
// filter's MAD computation, where relative thresholds dominate and
// sub-cent drift is immaterial, and the store's per-SKU buyback cost
// average, whose result is rounded to the cent. Everywhere else prices
// are shopspring/decimal values rounded to the cent.
package money

import "github.com/shopspring/decimal"

// Cents is the rounding scale for all monetary values in this system.
const Cents = 2

// RoundCent rounds d to two decimal places using banker-free
// round-half-up, matching how a price is actually quoted to a buyer.
func RoundCent(d decimal.Decimal) decimal.Decimal {
	return d.Round(Cents)
}

// CeilCent rounds d UP to the next cent. FloorCalculator uses this so
// a fractional-cent cost basis never erodes the configured margin.
func CeilCent(d decimal.Decimal) decimal.Decimal {
	hundred := decimal.New(100, 0)
	return d.Mul(hundred).Ceil().DivRound(hundred, Cents)
}

// Sub subtracts b from a and rounds to the cent, avoiding the
// sub-cent drift that repeated float64 subtraction would introduce
// (e.g. 10.03 - 0.01 must equal 10.02 exactly).
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return RoundCent(a.Sub(b))
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FromFloat builds a Decimal from a float64 input (e.g. a JSON payload
// field), rounding immediately to the cent so downstream arithmetic
// never inherits binary floating-point noise.
func FromFloat(f float64) decimal.Decimal {
	return RoundCent(decimal.NewFromFloat(f))
}
