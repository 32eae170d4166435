// Package rules validates and adjusts order quantities against exchange
// constraints: lot-size multiples, minimum notional value, and the
// security's listing window. The execution simulator consults this engine
// before every fill.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

// Rule violations. All of these are recoverable at the driver level: the
// order is dropped or adjusted and the run continues.
var (
	ErrUnknownSymbol    = errors.New("rules: unknown symbol")
	ErrBelowMinNotional = errors.New("rules: order notional below minimum")
	ErrLotSize          = errors.New("rules: quantity not a lot-size multiple")
	ErrInactiveSecurity = errors.New("rules: security not tradable on this session")
	ErrNonPositiveQty   = errors.New("rules: quantity must be positive")
	ErrNonPositivePrice = errors.New("rules: price must be positive")
)

// LotPolicy selects how quantities that are not lot-size multiples are
// handled.
type LotPolicy string

// Lot policies.
const (
	// LotRoundDown silently rounds the quantity down to the nearest lot
	// multiple.
	LotRoundDown LotPolicy = "round_down"

	// LotReject rejects orders whose quantity is not an exact lot multiple.
	LotReject LotPolicy = "reject"
)

// Engine holds the per-run rule configuration and the read-only security
// reference data. It is safe for concurrent use.
type Engine struct {
	securities  map[string]domain.Security
	minNotional decimal.Decimal
	policy      LotPolicy
}

// New creates a rules Engine over the given reference securities. Orders
// whose notional value falls below minNotional are rejected; policy decides
// between silent lot rounding and rejection.
func New(securities []domain.Security, minNotional float64, policy LotPolicy) *Engine {
	m := make(map[string]domain.Security, len(securities))
	for _, s := range securities {
		m[s.Symbol] = s
	}
	if policy == "" {
		policy = LotRoundDown
	}
	return &Engine{
		securities:  m,
		minNotional: decimal.NewFromFloat(minNotional),
		policy:      policy,
	}
}

// Security returns the reference record for symbol.
func (e *Engine) Security(symbol string) (domain.Security, bool) {
	s, ok := e.securities[symbol]
	return s, ok
}

// Symbols returns the number of securities known to the engine.
func (e *Engine) Symbols() int {
	return len(e.securities)
}

// ValidateAdjust checks an intended trade against the engine's rules and
// returns the quantity that may actually execute.
//
// The returned quantity is rounded down to the security's lot size under
// LotRoundDown; under LotReject a non-multiple quantity fails with
// ErrLotSize. A zero adjusted quantity with a nil error means the order
// should be dropped without a fill. Orders whose adjusted notional is below
// the configured minimum fail with ErrBelowMinNotional.
func (e *Engine) ValidateAdjust(symbol string, qty int64, price decimal.Decimal, session time.Time) (int64, error) {
	sec, ok := e.securities[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrNonPositiveQty, qty)
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNonPositivePrice, price)
	}
	if !sec.Active(session) {
		return 0, fmt.Errorf("%w: %s at %s", ErrInactiveSecurity, symbol, session.Format("2006-01-02"))
	}

	adjusted := qty
	if lot := sec.LotSize; lot > 1 {
		if rem := qty % lot; rem != 0 {
			if e.policy == LotReject {
				return 0, fmt.Errorf("%w: %d %% %d != 0", ErrLotSize, qty, lot)
			}
			adjusted = qty - rem
		}
	}
	if adjusted == 0 {
		// Rounded away entirely. Expected behaviour: drop without a fill.
		return 0, nil
	}

	if e.minNotional.Sign() > 0 {
		notional := price.Mul(decimal.NewFromInt(adjusted))
		if notional.LessThan(e.minNotional) {
			return 0, fmt.Errorf("%w: %s < %s", ErrBelowMinNotional, notional, e.minNotional)
		}
	}

	return adjusted, nil
}
