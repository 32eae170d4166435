package strategy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

// PortfolioView is a read-only copy of the portfolio handed to strategy
// code. Mutating a view has no effect on the run.
type PortfolioView struct {
	Cash      decimal.Decimal
	Value     decimal.Decimal
	Positions map[string]domain.Position
}

// HeldQty returns the quantity held in symbol, zero if flat.
func (v PortfolioView) HeldQty(symbol string) int64 {
	return v.Positions[symbol].Qty
}

// HistoryProvider answers bounded lookback queries over prior sessions'
// bars. The driver implements this over its preloaded price series.
type HistoryProvider interface {
	// History returns up to window values of the named field ("open",
	// "high", "low", "close", "volume") for sessions strictly before the
	// current one, oldest first.
	History(symbol, field string, window int) []float64
}

// Context is the capability set exposed to strategy hooks for one session.
// The driver rebuilds it every session from current portfolio state, so no
// mutable state is shared across sessions or across concurrent runs.
type Context struct {
	now      time.Time
	view     PortfolioView
	bars     BarSet
	universe []string
	history  HistoryProvider
	log      *slog.Logger

	intents []domain.OrderIntent
	seq     *int // shared per-run counter for deterministic intent IDs
}

// NewContext assembles a Context for one session. The seq counter is shared
// across the run's contexts so intent IDs stay unique and deterministic.
func NewContext(
	now time.Time,
	view PortfolioView,
	bars BarSet,
	universe []string,
	history HistoryProvider,
	seq *int,
	log *slog.Logger,
) *Context {
	return &Context{
		now:      now,
		view:     view,
		bars:     bars,
		universe: universe,
		history:  history,
		seq:      seq,
		log:      log,
	}
}

// Universe returns the run's configured symbol universe.
func (c *Context) Universe() []string {
	return c.universe
}

// Now returns the current simulated session time.
func (c *Context) Now() time.Time {
	return c.now
}

// Portfolio returns the read-only portfolio view for this session.
func (c *Context) Portfolio() PortfolioView {
	return c.view
}

// Bar returns the current session's bar for symbol.
func (c *Context) Bar(symbol string) (domain.Bar, bool) {
	b, ok := c.bars[symbol]
	return b, ok
}

// History returns up to window prior values of field for symbol, oldest
// first.
func (c *Context) History(symbol, field string, window int) []float64 {
	if c.history == nil {
		return nil
	}
	return c.history.History(symbol, field, window)
}

// Log returns the run's logger for strategy diagnostics.
func (c *Context) Log() *slog.Logger {
	return c.log
}

// Intents returns the order intents placed during this session, in
// submission order. The driver drains this after HandleData returns.
func (c *Context) Intents() []domain.OrderIntent {
	return c.intents
}

// ---------------------------------------------------------------------------
// Order placement
// ---------------------------------------------------------------------------

// OrderShares places an order for a fixed share count. Positive qty buys,
// negative sells. Returns the intent ID, or "" for a zero quantity.
func (c *Context) OrderShares(symbol string, qty int64, reason string) string {
	if qty == 0 {
		return ""
	}
	side := domain.SideBuy
	if qty < 0 {
		side = domain.SideSell
		qty = -qty
	}
	return c.place(domain.OrderIntent{
		Symbol: symbol,
		Side:   side,
		Type:   domain.IntentShares,
		Qty:    qty,
		Reason: reason,
	})
}

// OrderValue places an order sized by notional value at the current
// session's close. Positive value buys, negative sells.
func (c *Context) OrderValue(symbol string, value float64, reason string) string {
	px, ok := c.closePrice(symbol)
	if !ok {
		return ""
	}
	return c.OrderShares(symbol, int64(value/px), reason)
}

// OrderTargetShares adjusts the position in symbol to exactly target
// shares.
func (c *Context) OrderTargetShares(symbol string, target int64, reason string) string {
	return c.OrderShares(symbol, target-c.view.HeldQty(symbol), reason)
}

// OrderTargetValue adjusts the position in symbol to the target notional
// value at the current session's close.
func (c *Context) OrderTargetValue(symbol string, value float64, reason string) string {
	px, ok := c.closePrice(symbol)
	if !ok {
		return ""
	}
	return c.OrderTargetShares(symbol, int64(value/px), reason)
}

// OrderTargetPercent adjusts the position in symbol to a target fraction of
// total portfolio value. The share delta is resolved at execution time
// against the live portfolio, not against this session's view.
func (c *Context) OrderTargetPercent(symbol string, pct float64, reason string) string {
	return c.place(domain.OrderIntent{
		Symbol:        symbol,
		Type:          domain.IntentTargetPercent,
		TargetPercent: pct,
		Reason:        reason,
	})
}

func (c *Context) place(intent domain.OrderIntent) string {
	*c.seq++
	intent.ID = fmt.Sprintf("order-%06d", *c.seq)
	intent.PlacedAt = c.now
	c.intents = append(c.intents, intent)
	return intent.ID
}

func (c *Context) closePrice(symbol string) (float64, bool) {
	b, ok := c.bars[symbol]
	if !ok || b.Close <= 0 {
		c.log.Warn("no usable price for order sizing", "symbol", symbol)
		return 0, false
	}
	return b.Close, true
}
