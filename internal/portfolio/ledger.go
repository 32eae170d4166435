// Package portfolio implements the cash and position ledger for a single
// backtest run. All portfolio mutation flows through ApplyFill and
// MarkToMarket; every other component observes the ledger read-only.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

// Ledger errors. Whether ErrInsufficientCash terminates the run or merely
// drops the order is the driver's cash-policy decision; the ledger itself
// never lets cash go negative.
var (
	ErrInsufficientCash     = errors.New("portfolio: insufficient cash")
	ErrInsufficientPosition = errors.New("portfolio: insufficient position")
)

// Ledger holds the cash balance and per-symbol positions for one run. A
// Ledger is owned by exactly one driver and is not safe for concurrent
// mutation; parallel runs must each construct their own.
type Ledger struct {
	cash      decimal.Decimal
	positions map[string]*domain.Position
	longOnly  bool
}

// New creates a Ledger with the given starting cash. With longOnly set,
// sells that exceed the held quantity fail with ErrInsufficientPosition.
func New(initialCapital decimal.Decimal, longOnly bool) *Ledger {
	return &Ledger{
		cash:      initialCapital,
		positions: make(map[string]*domain.Position),
		longOnly:  longOnly,
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// Position returns a copy of the position held in symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions, ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalValue returns cash plus the market value of every position at its
// last mark price.
func (l *Ledger) TotalValue() decimal.Decimal {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// ApplyFill applies an executed fill to cash and positions.
//
// Buys debit notional + commission and raise the weighted-average cost
// basis; sells credit notional - commission and leave the basis unchanged.
// A fill that would drive cash negative fails with ErrInsufficientCash and
// leaves the ledger untouched.
func (l *Ledger) ApplyFill(f domain.Fill) error {
	if f.Qty <= 0 {
		return fmt.Errorf("portfolio: fill quantity must be positive, got %d", f.Qty)
	}

	notional := f.Notional()

	switch f.Side {
	case domain.SideBuy:
		cost := notional.Add(f.Commission)
		if l.cash.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, cost, l.cash)
		}
		l.cash = l.cash.Sub(cost)
		l.addToPosition(f, f.Qty)

	case domain.SideSell:
		pos := l.positions[f.Symbol]
		held := int64(0)
		if pos != nil {
			held = pos.Qty
		}
		if l.longOnly && held < f.Qty {
			return fmt.Errorf("%w: selling %d of %s, hold %d", ErrInsufficientPosition, f.Qty, f.Symbol, held)
		}
		proceeds := notional.Sub(f.Commission)
		if l.cash.Add(proceeds).Sign() < 0 {
			return fmt.Errorf("%w: commission exceeds proceeds and cash", ErrInsufficientCash)
		}
		l.cash = l.cash.Add(proceeds)
		l.addToPosition(f, -f.Qty)

	default:
		return fmt.Errorf("portfolio: unknown fill side %q", f.Side)
	}

	return nil
}

// addToPosition applies a signed quantity delta and maintains the
// weighted-average cost basis. Increasing the magnitude of a position blends
// the fill price into the basis; reducing it leaves the basis unchanged;
// crossing through zero resets the basis to the fill price for the residual.
func (l *Ledger) addToPosition(f domain.Fill, delta int64) {
	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}

	oldQty := pos.Qty
	newQty := oldQty + delta

	switch {
	case newQty == 0:
		delete(l.positions, f.Symbol)
		return
	case oldQty == 0 || (oldQty > 0) != (newQty > 0):
		// Opening, or flipping direction: basis restarts at the fill price.
		pos.AvgCost = f.Price
	case (delta > 0) == (oldQty > 0):
		// Adding to the existing direction: blend the basis.
		oldAbs := decimal.NewFromInt(abs(oldQty))
		addAbs := decimal.NewFromInt(abs(delta))
		totalCost := pos.AvgCost.Mul(oldAbs).Add(f.Price.Mul(addAbs))
		pos.AvgCost = totalCost.Div(oldAbs.Add(addAbs))
	}
	// Reducing without crossing zero keeps AvgCost as-is.

	pos.Qty = newQty
	pos.MarkPrice = f.Price
}

// MarkToMarket updates each held position's mark price from the given price
// map. Cash and quantities are unchanged. Symbols absent from the map keep
// their previous mark (last-known-price carry-forward).
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal) {
	for sym, pos := range l.positions {
		if px, ok := prices[sym]; ok {
			pos.MarkPrice = px
		}
	}
}

// Snapshot produces an immutable snapshot of the ledger at the given
// session.
func (l *Ledger) Snapshot(session time.Time) domain.Snapshot {
	return domain.Snapshot{
		Session:   session,
		Cash:      l.cash,
		Value:     l.TotalValue(),
		Positions: l.Positions(),
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
