// Package cost provides the commission and slippage models used when
// simulating order fills. Models are pure and configured per instance so
// concurrent backtest runs can carry independent settings.
package cost

import (
	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

// CommissionModel computes the fee charged for a trade of the given side,
// quantity, and executed price.
type CommissionModel interface {
	Commission(side domain.Side, qty int64, price decimal.Decimal) decimal.Decimal
}

// SlippageModel adjusts a reference price against the trade direction: buys
// execute at or above the reference, sells at or below.
type SlippageModel interface {
	Adjust(side domain.Side, reference decimal.Decimal) decimal.Decimal
}

// Compile-time interface checks.
var (
	_ CommissionModel = FixedRateCommission{}
	_ SlippageModel   = FixedPctSlippage{}
)

// FixedRateCommission charges max(rate * notional, minimum).
type FixedRateCommission struct {
	Rate    decimal.Decimal // fraction of notional, e.g. 0.0003
	Minimum decimal.Decimal // commission floor, e.g. 5.0
}

// NewFixedRateCommission creates a FixedRateCommission from float settings.
func NewFixedRateCommission(rate, minimum float64) FixedRateCommission {
	return FixedRateCommission{
		Rate:    decimal.NewFromFloat(rate),
		Minimum: decimal.NewFromFloat(minimum),
	}
}

// Commission returns max(rate * qty * price, minimum), rounded to cents.
func (m FixedRateCommission) Commission(_ domain.Side, qty int64, price decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(qty))
	c := notional.Mul(m.Rate)
	if c.LessThan(m.Minimum) {
		c = m.Minimum
	}
	return c.Round(2)
}

// FixedPctSlippage moves the reference price by a fixed fraction against the
// trade direction.
type FixedPctSlippage struct {
	Pct decimal.Decimal // fraction of the reference price, e.g. 0.001
}

// NewFixedPctSlippage creates a FixedPctSlippage from a float setting.
func NewFixedPctSlippage(pct float64) FixedPctSlippage {
	return FixedPctSlippage{Pct: decimal.NewFromFloat(pct)}
}

// Adjust returns reference * (1 + pct) for buys and reference * (1 - pct)
// for sells.
func (m FixedPctSlippage) Adjust(side domain.Side, reference decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == domain.SideBuy {
		return reference.Mul(one.Add(m.Pct))
	}
	return reference.Mul(one.Sub(m.Pct))
}

// ZeroSlippage executes exactly at the reference price. Useful for tests and
// idealized runs.
type ZeroSlippage struct{}

// Adjust returns the reference price unchanged.
func (ZeroSlippage) Adjust(_ domain.Side, reference decimal.Decimal) decimal.Decimal {
	return reference
}

// ZeroCommission charges nothing.
type ZeroCommission struct{}

// Commission returns zero.
func (ZeroCommission) Commission(_ domain.Side, _ int64, _ decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}
