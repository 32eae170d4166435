package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
	"quantbt/internal/execution"
	"quantbt/internal/rules"
)

// Failure classes. ErrConfiguration covers everything detected before the
// run starts; ErrDataQuality covers bad input data found during the run;
// ErrStrategyRuntime wraps errors and panics escaping strategy hooks.
var (
	ErrConfiguration   = errors.New("backtest: configuration error")
	ErrDataQuality     = errors.New("backtest: data quality error")
	ErrStrategyRuntime = errors.New("backtest: strategy runtime error")
)

// GapPolicy selects how a missing bar for a universe symbol is handled.
type GapPolicy string

// Gap policies.
const (
	// GapCarryForward synthesizes a flat bar at the last known close. A
	// symbol with no bar seen yet simply sits out the session.
	GapCarryForward GapPolicy = "carry_forward"

	// GapStrict promotes a missing bar to a fatal data quality failure.
	GapStrict GapPolicy = "strict"
)

// CashPolicy selects what an insufficient-cash rejection does to the run.
type CashPolicy string

// Cash policies.
const (
	// CashHardStop terminates the run as Failed on the first rejected buy.
	CashHardStop CashPolicy = "hard_stop"

	// CashSoft drops the rejected order, logs it, and continues.
	CashSoft CashPolicy = "soft"
)

// Config is the full parameterization of one backtest run. Each run owns its
// own Config value; sweeps construct one per variant.
type Config struct {
	Strategy string             `yaml:"strategy"`
	Params   map[string]float64 `yaml:"params"`

	Universe  []string        `yaml:"universe"`
	Benchmark string          `yaml:"benchmark"` // optional, for alpha/beta
	Exchange  domain.Exchange `yaml:"exchange"`
	Start     time.Time       `yaml:"start"`
	End       time.Time       `yaml:"end"`

	InitialCapital decimal.Decimal `yaml:"initial_capital"`

	CommissionRate float64             `yaml:"commission_rate"`
	MinCommission  float64             `yaml:"min_commission"`
	SlippagePct    float64             `yaml:"slippage_pct"`
	PriceMode      execution.PriceMode `yaml:"price_mode"`

	MinNotional float64         `yaml:"min_notional"`
	LotPolicy   rules.LotPolicy `yaml:"lot_policy"`
	LongOnly    bool            `yaml:"long_only"`

	GapPolicy  GapPolicy  `yaml:"gap_policy"`
	CashPolicy CashPolicy `yaml:"cash_policy"`

	RiskFreeRate float64 `yaml:"risk_free_rate"`
}

// Validate checks the config and fills in defaults. All violations are
// ErrConfiguration.
func (c *Config) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("%w: strategy name required", ErrConfiguration)
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("%w: universe must not be empty", ErrConfiguration)
	}
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("%w: start and end dates required", ErrConfiguration)
	}
	if c.Start.After(c.End) {
		return fmt.Errorf("%w: start %s after end %s", ErrConfiguration,
			c.Start.Format("2006-01-02"), c.End.Format("2006-01-02"))
	}
	if c.InitialCapital.Sign() <= 0 {
		return fmt.Errorf("%w: initial capital must be positive", ErrConfiguration)
	}
	if c.CommissionRate < 0 || c.MinCommission < 0 {
		return fmt.Errorf("%w: commission parameters must not be negative", ErrConfiguration)
	}
	if c.SlippagePct < 0 {
		return fmt.Errorf("%w: slippage must not be negative", ErrConfiguration)
	}

	if c.Exchange == "" {
		c.Exchange = domain.ExchangeXNYS
	}
	if c.PriceMode == "" {
		c.PriceMode = execution.PriceClose
	}
	if c.LotPolicy == "" {
		c.LotPolicy = rules.LotRoundDown
	}
	if c.GapPolicy == "" {
		c.GapPolicy = GapCarryForward
	}
	if c.CashPolicy == "" {
		c.CashPolicy = CashSoft
	}
	switch c.GapPolicy {
	case GapCarryForward, GapStrict:
	default:
		return fmt.Errorf("%w: unknown gap policy %q", ErrConfiguration, c.GapPolicy)
	}
	switch c.CashPolicy {
	case CashHardStop, CashSoft:
	default:
		return fmt.Errorf("%w: unknown cash policy %q", ErrConfiguration, c.CashPolicy)
	}

	return nil
}
