// Package execution turns a strategy's order intents into simulated fills.
// The simulator resolves target-percent sizing against the live portfolio,
// consults the trading rules engine, prices the fill through the commission
// and slippage models, and applies the result to the ledger.
package execution

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"quantbt/internal/cost"
	"quantbt/internal/domain"
	"quantbt/internal/portfolio"
	"quantbt/internal/rules"
)

// PriceMode selects which bar price a fill is referenced against.
type PriceMode string

// Price modes.
const (
	PriceOpen  PriceMode = "open"
	PriceClose PriceMode = "close"
	PriceVWAP  PriceMode = "vwap" // (high + low + close) / 3 proxy
)

// ReferencePrice extracts the configured reference price from a bar.
func ReferencePrice(bar domain.Bar, mode PriceMode) float64 {
	switch mode {
	case PriceOpen:
		return bar.Open
	case PriceVWAP:
		return (bar.High + bar.Low + bar.Close) / 3
	default:
		return bar.Close
	}
}

// Simulator executes order intents against the current session's bar. One
// Simulator belongs to one backtest run and shares that run's ledger.
type Simulator struct {
	ledger     *portfolio.Ledger
	rules      *rules.Engine
	commission cost.CommissionModel
	slippage   cost.SlippageModel
	priceMode  PriceMode
	log        *slog.Logger

	fillSeq int // monotonic counter for deterministic fill IDs
}

// New creates a Simulator over the given run-scoped collaborators.
func New(
	ledger *portfolio.Ledger,
	rulesEngine *rules.Engine,
	commission cost.CommissionModel,
	slippage cost.SlippageModel,
	priceMode PriceMode,
	log *slog.Logger,
) *Simulator {
	if priceMode == "" {
		priceMode = PriceClose
	}
	return &Simulator{
		ledger:     ledger,
		rules:      rulesEngine,
		commission: commission,
		slippage:   slippage,
		priceMode:  priceMode,
		log:        log,
	}
}

// Execute simulates the intent against bar and applies the resulting fill to
// the ledger.
//
// A (nil, nil) return means the order was dropped without a fill: the
// resolved quantity was zero, the lot adjustment rounded it away, or the
// limit price was not satisfied. This is expected behaviour, not an error.
// Rule violations and ledger rejections are returned for the driver to
// classify under its configured policies.
func (s *Simulator) Execute(intent domain.OrderIntent, bar domain.Bar) (*domain.Fill, error) {
	if intent.Symbol != bar.Symbol {
		return nil, fmt.Errorf("execution: intent symbol %s does not match bar %s", intent.Symbol, bar.Symbol)
	}

	reference := decimal.NewFromFloat(ReferencePrice(bar, s.priceMode))
	if reference.Sign() <= 0 {
		return nil, fmt.Errorf("execution: non-positive reference price for %s", bar.Symbol)
	}

	side, qty, err := s.resolveQuantity(intent, reference)
	if err != nil {
		return nil, err
	}
	if qty == 0 {
		s.log.Debug("order resolved to zero quantity, dropped",
			"intent", intent.ID, "symbol", intent.Symbol)
		return nil, nil
	}

	adjusted, err := s.rules.ValidateAdjust(intent.Symbol, qty, reference, bar.Session)
	if err != nil {
		return nil, err
	}
	if adjusted == 0 {
		s.log.Debug("order rounded away by lot size, dropped",
			"intent", intent.ID, "symbol", intent.Symbol, "requested", qty)
		return nil, nil
	}

	price := s.slippage.Adjust(side, reference)

	// A limit order only fills at its limit or better.
	if intent.LimitPrice > 0 {
		limit := decimal.NewFromFloat(intent.LimitPrice)
		if (side == domain.SideBuy && price.GreaterThan(limit)) ||
			(side == domain.SideSell && price.LessThan(limit)) {
			s.log.Debug("limit price not satisfied, order dropped",
				"intent", intent.ID, "limit", intent.LimitPrice, "price", price)
			return nil, nil
		}
	}

	s.fillSeq++
	fill := domain.Fill{
		ID:         fmt.Sprintf("fill-%06d", s.fillSeq),
		IntentID:   intent.ID,
		Symbol:     intent.Symbol,
		Side:       side,
		Qty:        adjusted,
		Price:      price,
		Commission: s.commission.Commission(side, adjusted, price),
		Time:       bar.Session,
	}

	if err := s.ledger.ApplyFill(fill); err != nil {
		return nil, err
	}

	s.log.Debug("fill executed",
		"symbol", fill.Symbol, "side", fill.Side, "qty", fill.Qty,
		"price", fill.Price, "commission", fill.Commission)

	return &fill, nil
}

// resolveQuantity turns the intent's sizing into a concrete side and share
// count. Target-percent intents are resolved as a delta between the target
// share count at the current portfolio value and the shares already held.
func (s *Simulator) resolveQuantity(intent domain.OrderIntent, reference decimal.Decimal) (domain.Side, int64, error) {
	switch intent.Type {
	case domain.IntentShares:
		return intent.Side, intent.Qty, nil

	case domain.IntentTargetPercent:
		pct := intent.TargetPercent
		if pct < 0 {
			return "", 0, fmt.Errorf("execution: negative target percent %f", pct)
		}
		targetValue := s.ledger.TotalValue().Mul(decimal.NewFromFloat(pct))
		targetShares := targetValue.Div(reference).IntPart()

		held := int64(0)
		if pos, ok := s.ledger.Position(intent.Symbol); ok {
			held = pos.Qty
		}

		delta := targetShares - held
		switch {
		case delta > 0:
			return domain.SideBuy, delta, nil
		case delta < 0:
			return domain.SideSell, -delta, nil
		default:
			return intent.Side, 0, nil
		}

	default:
		return "", 0, fmt.Errorf("execution: unknown intent type %q", intent.Type)
	}
}
