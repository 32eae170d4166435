// Package builtins provides the built-in strategy implementations that ship
// with quantbt and registers them with a strategy registry.
package builtins

import (
	"quantbt/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*BuyAndHold)(nil)
	_ strategy.Strategy = (*SMACross)(nil)
)

// RegisterAll registers every built-in strategy factory with r.
func RegisterAll(r *strategy.Registry) {
	r.Register("buy-and-hold", func(params map[string]float64) (strategy.Strategy, error) {
		return NewBuyAndHold(params["weight"]), nil
	})
	r.Register("sma-cross", func(params map[string]float64) (strategy.Strategy, error) {
		return NewSMACross(int(params["short"]), int(params["long"]))
	})
}

// BuyAndHold allocates an equal weight of the portfolio to every symbol in
// the universe on the first session and then holds.
type BuyAndHold struct {
	weight float64 // total fraction of the portfolio to deploy
	done   bool
}

// NewBuyAndHold creates a BuyAndHold deploying the given total weight,
// defaulting to 0.95 to leave headroom for commissions.
func NewBuyAndHold(weight float64) *BuyAndHold {
	if weight <= 0 || weight > 1 {
		weight = 0.95
	}
	return &BuyAndHold{weight: weight}
}

// Name returns "buy-and-hold".
func (s *BuyAndHold) Name() string {
	return "buy-and-hold"
}

// Initialize resets the one-shot entry flag.
func (s *BuyAndHold) Initialize(_ *strategy.Context) error {
	s.done = false
	return nil
}

// HandleData enters equal-weight positions on the first session that has a
// bar for each symbol, then does nothing.
func (s *BuyAndHold) HandleData(ctx *strategy.Context, data strategy.BarSet) error {
	if s.done {
		return nil
	}
	universe := ctx.Universe()
	if len(universe) == 0 {
		return nil
	}
	per := s.weight / float64(len(universe))
	for _, sym := range universe {
		if _, ok := data[sym]; !ok {
			continue
		}
		ctx.OrderTargetPercent(sym, per, "initial allocation")
	}
	s.done = true
	return nil
}
