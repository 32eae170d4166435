// Package domain defines the core value types shared across the quantbt
// platform: securities, price bars, order intents, fills, positions, and
// backtest results.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies the venue a security trades on.
type Exchange string

// Supported exchanges.
const (
	ExchangeXSHG Exchange = "XSHG" // Shanghai Stock Exchange
	ExchangeXSHE Exchange = "XSHE" // Shenzhen Stock Exchange
	ExchangeXNYS Exchange = "XNYS" // New York Stock Exchange
)

// Security is an immutable reference record for a tradable instrument. It is
// loaded once per run and never mutated during simulation.
type Security struct {
	Symbol     string    `json:"symbol"`
	Exchange   Exchange  `json:"exchange"`
	LotSize    int64     `json:"lot_size"`  // minimum tradable quantity increment
	ListedAt   time.Time `json:"listed_at"` // zero value means "always listed"
	DelistedAt time.Time `json:"delisted_at,omitzero"`
}

// Active reports whether the security is listed and not yet delisted at t.
func (s Security) Active(t time.Time) bool {
	if !s.ListedAt.IsZero() && t.Before(s.ListedAt) {
		return false
	}
	if !s.DelistedAt.IsZero() && !t.Before(s.DelistedAt) {
		return false
	}
	return true
}

// Bar is one OHLCV row for a (symbol, session) pair. Bars are read-only input
// to the backtest driver.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Session   time.Time `json:"session"` // session date, midnight UTC
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Turnover  float64   `json:"turnover"`
	AdjFactor float64   `json:"adj_factor"`
}

// Side is the direction of an order or fill.
type Side string

// Order sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IntentType distinguishes how an order intent's size is expressed.
type IntentType string

// Intent types.
const (
	// IntentShares requests a fixed number of shares.
	IntentShares IntentType = "shares"

	// IntentTargetPercent requests that the position be brought to a target
	// fraction of total portfolio value. The share delta is resolved at
	// execution time against the live portfolio.
	IntentTargetPercent IntentType = "target_percent"
)

// OrderIntent is a strategy's desired trade for the current session. It is
// created by strategy code, consumed exactly once by the execution simulator,
// and never mutated afterwards.
type OrderIntent struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Type          IntentType `json:"type"`
	Qty           int64      `json:"qty,omitempty"`            // for IntentShares
	TargetPercent float64    `json:"target_percent,omitempty"` // for IntentTargetPercent
	LimitPrice    float64    `json:"limit_price,omitempty"`    // 0 means market
	Reason        string     `json:"reason,omitempty"`
	PlacedAt      time.Time  `json:"placed_at"`
}

// Fill is the executed result of an OrderIntent: quantity after rule
// adjustment, price after slippage, and the commission charged. Immutable
// once created.
type Fill struct {
	ID         string          `json:"id"`
	IntentID   string          `json:"intent_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Qty        int64           `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Time       time.Time       `json:"time"`
}

// Notional returns the traded value of the fill, excluding commission.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Qty))
}

// Position is the current holding in one symbol: signed quantity, weighted
// average cost basis, and the last mark price. Owned exclusively by the
// portfolio ledger.
type Position struct {
	Symbol    string          `json:"symbol"`
	Qty       int64           `json:"qty"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	MarkPrice decimal.Decimal `json:"mark_price"`
}

// MarketValue returns qty * mark price.
func (p Position) MarketValue() decimal.Decimal {
	return p.MarkPrice.Mul(decimal.NewFromInt(p.Qty))
}

// Snapshot is the portfolio state at the end of one session. The ordered
// snapshot sequence is the canonical equity curve; snapshots are never
// mutated after creation.
type Snapshot struct {
	Session   time.Time       `json:"session"`
	Cash      decimal.Decimal `json:"cash"`
	Value     decimal.Decimal `json:"value"` // cash + sum of position market values
	Positions []Position      `json:"positions,omitempty"`
}

// RunState is the lifecycle state of a backtest run.
type RunState string

// Run states.
const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunStopped   RunState = "stopped"
)

// Terminal reports whether the state is one of the three end states.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunStopped
}

// Progress is a session-granularity progress update emitted by the driver.
type Progress struct {
	Fraction float64   `json:"fraction"` // completed sessions / total sessions
	Session  time.Time `json:"session"`
	Message  string    `json:"message"`
}

// FailureReport describes why a run ended Failed or Stopped. LastSession is
// the last session that completed successfully.
type FailureReport struct {
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	LastSession time.Time `json:"last_session,omitzero"`
}

// Metrics is the computed performance and risk summary for a run. Pointer
// fields are nil when the metric is undefined for the input (for example the
// Sharpe ratio of a zero-variance return series) rather than NaN.
type Metrics struct {
	TotalReturn      float64  `json:"total_return"`
	AnnualReturn     float64  `json:"annual_return"`
	Volatility       float64  `json:"volatility"`
	MaxDrawdown      float64  `json:"max_drawdown"`
	Sharpe           *float64 `json:"sharpe"`
	Sortino          *float64 `json:"sortino"`
	TotalTrades      int      `json:"total_trades"`
	ProfitableTrades int      `json:"profitable_trades"`
	WinRate          *float64 `json:"win_rate"`
	ProfitFactor     *float64 `json:"profit_factor"`
	Alpha            *float64 `json:"alpha"`
	Beta             *float64 `json:"beta"`

	// AlignedSessions is the number of sessions the alpha/beta regression was
	// computed over after intersecting the strategy and benchmark series.
	AlignedSessions int `json:"aligned_sessions,omitempty"`
}

// Result aggregates everything a backtest run produced. It is created once
// at run termination and thereafter read-only. A Failed or Stopped run still
// carries the partial snapshot and trade history up to the failure point.
type Result struct {
	RunID          string          `json:"run_id"`
	Strategy       string          `json:"strategy"`
	State          RunState        `json:"state"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalValue     decimal.Decimal `json:"final_value"`
	Snapshots      []Snapshot      `json:"snapshots"`
	Trades         []Fill          `json:"trades"`
	Metrics        *Metrics        `json:"metrics,omitempty"`
	Failure        *FailureReport  `json:"failure,omitempty"`
}
