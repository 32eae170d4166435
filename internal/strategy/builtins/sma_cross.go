package builtins

import (
	"fmt"

	"quantbt/internal/strategy"
)

// SMACross is a simple moving average crossover strategy: it enters a symbol
// when the short SMA crosses above the long SMA and exits when it crosses
// back below.
type SMACross struct {
	short int
	long  int

	// above tracks, per symbol, whether the short SMA was above the long SMA
	// on the previous session.
	above map[string]bool
}

// NewSMACross creates an SMACross with the given periods, defaulting to
// 5/20. The short period must be less than the long period.
func NewSMACross(short, long int) (*SMACross, error) {
	if short <= 0 {
		short = 5
	}
	if long <= 0 {
		long = 20
	}
	if short >= long {
		return nil, fmt.Errorf("sma-cross: short period %d must be below long period %d", short, long)
	}
	return &SMACross{short: short, long: long}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Initialize clears the crossover state.
func (s *SMACross) Initialize(_ *strategy.Context) error {
	s.above = make(map[string]bool)
	return nil
}

// HandleData computes the SMAs from prior closes plus the current session's
// close and trades the crossovers.
func (s *SMACross) HandleData(ctx *strategy.Context, data strategy.BarSet) error {
	universe := ctx.Universe()
	if len(universe) == 0 {
		return nil
	}
	per := 0.95 / float64(len(universe))

	for _, sym := range universe {
		bar, ok := data[sym]
		if !ok {
			continue
		}

		closes := append(ctx.History(sym, "close", s.long-1), bar.Close)
		if len(closes) < s.long {
			continue // not enough lookback yet
		}

		shortSMA := mean(closes[len(closes)-s.short:])
		longSMA := mean(closes)

		above := shortSMA > longSMA
		prev, seen := s.above[sym]
		s.above[sym] = above

		if !seen || above == prev {
			continue
		}
		if above {
			ctx.OrderTargetPercent(sym, per, "sma cross up")
		} else {
			ctx.OrderTargetPercent(sym, 0, "sma cross down")
		}
	}
	return nil
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
