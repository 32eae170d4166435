// Package backtest contains the run driver: the state machine that walks the
// trading calendar, feeds each session's bars to the strategy, executes the
// resulting order intents, and assembles the final Result.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quantbt/internal/analytics"
	"quantbt/internal/calendar"
	"quantbt/internal/cost"
	"quantbt/internal/domain"
	"quantbt/internal/execution"
	"quantbt/internal/portfolio"
	"quantbt/internal/rules"
	"quantbt/internal/strategy"
)

// Failure report kinds.
const (
	FailConfiguration    = "configuration"
	FailDataQuality      = "data_quality"
	FailInsufficientCash = "insufficient_cash"
	FailStrategyRuntime  = "strategy_runtime"
	FailStopped          = "stopped"
)

// Driver runs one backtest from Pending through a terminal state. A Driver
// is single-use: construct a fresh one per run. There are no retries at this
// layer; the caller decides whether to re-invoke with fresh state.
type Driver struct {
	cfg        Config
	registry   *strategy.Registry
	securities []domain.Security
	data       *Dataset
	log        *slog.Logger

	runID string

	mu       sync.Mutex
	state    domain.RunState
	progress func(domain.Progress)
}

// New validates the configuration against the reference data and creates a
// Pending driver. Unknown universe or benchmark symbols are configuration
// errors surfaced here, before the run starts.
func New(cfg Config, registry *strategy.Registry, securities []domain.Security, data *Dataset, log *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(securities))
	for _, s := range securities {
		known[s.Symbol] = true
	}
	for _, sym := range cfg.Universe {
		if !known[sym] {
			return nil, fmt.Errorf("%w: unknown symbol %s", ErrConfiguration, sym)
		}
		if len(data.Series(sym)) == 0 {
			return nil, fmt.Errorf("%w: no price data for %s", ErrConfiguration, sym)
		}
	}
	if cfg.Benchmark != "" && len(data.Series(cfg.Benchmark)) == 0 {
		return nil, fmt.Errorf("%w: no price data for benchmark %s", ErrConfiguration, cfg.Benchmark)
	}

	runID := uuid.NewString()
	return &Driver{
		cfg:        cfg,
		registry:   registry,
		securities: securities,
		data:       data,
		log:        log.With("run_id", runID, "strategy", cfg.Strategy),
		runID:      runID,
		state:      domain.RunPending,
	}, nil
}

// RunID returns the run's unique identifier.
func (d *Driver) RunID() string {
	return d.runID
}

// State returns the current lifecycle state.
func (d *Driver) State() domain.RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnProgress registers a session-granularity progress observer. Must be
// called before Run.
func (d *Driver) OnProgress(fn func(domain.Progress)) {
	d.progress = fn
}

func (d *Driver) setState(s domain.RunState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.log.Info("run state", "state", s)
}

// Run executes the backtest to a terminal state. It always returns a Result:
// a Failed or Stopped run carries the snapshots and trades recorded up to the
// point of termination plus a failure report, never a bare error.
//
// Cancellation is checked once per session boundary. A cancelled run
// finishes the in-flight session and terminates as Stopped, so no session is
// ever left half-applied.
func (d *Driver) Run(ctx context.Context) *domain.Result {
	d.setState(domain.RunRunning)

	res := &domain.Result{
		RunID:          d.runID,
		Strategy:       d.cfg.Strategy,
		StartedAt:      time.Now().UTC(),
		InitialCapital: d.cfg.InitialCapital,
		FinalValue:     d.cfg.InitialCapital,
	}

	fail := func(state domain.RunState, kind string, err error, lastSession time.Time) *domain.Result {
		d.setState(state)
		res.State = state
		res.FinishedAt = time.Now().UTC()
		// A partial result reports the portfolio value as of the last
		// completed session, consistent with its own snapshot history.
		if n := len(res.Snapshots); n > 0 {
			res.FinalValue = res.Snapshots[n-1].Value
		}
		res.Failure = &domain.FailureReport{
			Kind:        kind,
			Message:     err.Error(),
			LastSession: lastSession,
		}
		if state == domain.RunFailed {
			d.log.Error("run failed", "kind", kind, "err", err)
		} else {
			d.log.Info("run stopped", "err", err)
		}
		return res
	}

	cal := calendar.New(d.cfg.Exchange)
	sessions, err := cal.SessionsBetween(d.cfg.Start, d.cfg.End)
	if err != nil {
		return fail(domain.RunFailed, FailConfiguration, fmt.Errorf("%w: %v", ErrConfiguration, err), time.Time{})
	}
	if len(sessions) == 0 {
		return fail(domain.RunFailed, FailConfiguration,
			fmt.Errorf("%w: no trading sessions in range", ErrConfiguration), time.Time{})
	}

	strat, err := d.registry.New(d.cfg.Strategy, d.cfg.Params)
	if err != nil {
		return fail(domain.RunFailed, FailConfiguration, fmt.Errorf("%w: %v", ErrConfiguration, err), time.Time{})
	}

	// Run-scoped collaborators. Nothing here is shared with other runs.
	ledger := portfolio.New(d.cfg.InitialCapital, d.cfg.LongOnly)
	engine := rules.New(d.securities, d.cfg.MinNotional, d.cfg.LotPolicy)
	sim := execution.New(
		ledger,
		engine,
		cost.NewFixedRateCommission(d.cfg.CommissionRate, d.cfg.MinCommission),
		cost.NewFixedPctSlippage(d.cfg.SlippagePct),
		d.cfg.PriceMode,
		d.log,
	)

	seq := 0
	lastBars := make(map[string]domain.Bar, len(d.cfg.Universe))

	initCtx := d.newContext(sessions[0], ledger, nil, &seq)
	if err := callHook("initialize", func() error { return strat.Initialize(initCtx) }); err != nil {
		return fail(domain.RunFailed, FailStrategyRuntime, err, time.Time{})
	}
	// Intents placed during initialize execute on the first session, ahead
	// of that session's own intents.
	pending := initCtx.Intents()

	var lastDone time.Time
	for i, session := range sessions {
		if ctx.Err() != nil {
			return fail(domain.RunStopped, FailStopped,
				fmt.Errorf("cancelled after %d of %d sessions", i, len(sessions)), lastDone)
		}

		bars, err := d.sessionBars(session, lastBars)
		if err != nil {
			return fail(domain.RunFailed, FailDataQuality, err, lastDone)
		}

		sctx := d.newContext(session, ledger, bars, &seq)
		if err := callHook("handle_data", func() error { return strat.HandleData(sctx, bars) }); err != nil {
			return fail(domain.RunFailed, FailStrategyRuntime, err, lastDone)
		}

		intents := sctx.Intents()
		if len(pending) > 0 {
			intents = append(pending, intents...)
			pending = nil
		}
		if err := d.executeIntents(sim, intents, bars, res); err != nil {
			return fail(domain.RunFailed, failureKind(err), err, lastDone)
		}

		marks := make(map[string]decimal.Decimal, len(bars))
		for sym, b := range bars {
			marks[sym] = decimal.NewFromFloat(b.Close)
		}
		ledger.MarkToMarket(marks)
		res.Snapshots = append(res.Snapshots, ledger.Snapshot(session))
		lastDone = session

		if d.progress != nil {
			d.progress(domain.Progress{
				Fraction: float64(i+1) / float64(len(sessions)),
				Session:  session,
				Message:  fmt.Sprintf("session %d/%d", i+1, len(sessions)),
			})
		}
	}

	d.setState(domain.RunCompleted)
	res.State = domain.RunCompleted
	res.FinishedAt = time.Now().UTC()
	res.FinalValue = ledger.TotalValue()

	var benchmark []domain.Bar
	if d.cfg.Benchmark != "" {
		benchmark = d.data.Series(d.cfg.Benchmark)
	}
	metrics, err := analytics.Analyze(res.Snapshots, res.Trades, benchmark, analytics.Options{
		RiskFreeRate: d.cfg.RiskFreeRate,
	})
	if err != nil {
		// Too short for a return series. The run itself still completed.
		d.log.Warn("metrics unavailable", "err", err)
	} else {
		res.Metrics = metrics
	}

	d.log.Info("run completed",
		"sessions", len(sessions), "trades", len(res.Trades), "final_value", res.FinalValue)
	return res
}

// newContext builds the per-session strategy context from live ledger state.
func (d *Driver) newContext(session time.Time, ledger *portfolio.Ledger, bars strategy.BarSet, seq *int) *strategy.Context {
	positions := make(map[string]domain.Position)
	for _, p := range ledger.Positions() {
		positions[p.Symbol] = p
	}
	view := strategy.PortfolioView{
		Cash:      ledger.Cash(),
		Value:     ledger.TotalValue(),
		Positions: positions,
	}
	return strategy.NewContext(session, view, bars, d.cfg.Universe,
		historyView{data: d.data, now: session}, seq, d.log)
}

// sessionBars assembles the session's bar set for the universe, applying the
// configured gap policy. Under carry-forward a missing bar becomes a flat bar
// at the last known close; a symbol with no history yet sits the session out.
func (d *Driver) sessionBars(session time.Time, lastBars map[string]domain.Bar) (strategy.BarSet, error) {
	bars := make(strategy.BarSet, len(d.cfg.Universe))
	for _, sym := range d.cfg.Universe {
		if b, ok := d.data.Bar(sym, session); ok {
			bars[sym] = b
			lastBars[sym] = b
			continue
		}
		if d.cfg.GapPolicy == GapStrict {
			return nil, fmt.Errorf("%w: missing bar for %s on %s",
				ErrDataQuality, sym, session.Format("2006-01-02"))
		}
		prev, ok := lastBars[sym]
		if !ok {
			continue
		}
		bars[sym] = domain.Bar{
			Symbol:    sym,
			Session:   session,
			Open:      prev.Close,
			High:      prev.Close,
			Low:       prev.Close,
			Close:     prev.Close,
			AdjFactor: prev.AdjFactor,
		}
	}
	return bars, nil
}

// executeIntents runs the session's intents through the simulator in
// submission order. Recoverable rejections are logged and dropped; the
// returned error, if any, is fatal to the run.
func (d *Driver) executeIntents(sim *execution.Simulator, intents []domain.OrderIntent, bars strategy.BarSet, res *domain.Result) error {
	for _, intent := range intents {
		bar, ok := bars[intent.Symbol]
		if !ok {
			d.log.Warn("no bar for intent symbol, order dropped",
				"intent", intent.ID, "symbol", intent.Symbol)
			continue
		}

		fill, err := sim.Execute(intent, bar)
		switch {
		case err == nil:
			if fill != nil {
				res.Trades = append(res.Trades, *fill)
			}

		case errors.Is(err, portfolio.ErrInsufficientCash):
			if d.cfg.CashPolicy == CashHardStop {
				return err
			}
			d.log.Warn("order rejected for insufficient cash",
				"intent", intent.ID, "err", err)

		case isRuleViolation(err):
			d.log.Warn("order rejected by trading rules",
				"intent", intent.ID, "err", err)

		default:
			return err
		}
	}
	return nil
}

// isRuleViolation reports whether err is a recoverable order rejection.
func isRuleViolation(err error) bool {
	return errors.Is(err, rules.ErrBelowMinNotional) ||
		errors.Is(err, rules.ErrLotSize) ||
		errors.Is(err, rules.ErrInactiveSecurity) ||
		errors.Is(err, rules.ErrUnknownSymbol) ||
		errors.Is(err, rules.ErrNonPositiveQty) ||
		errors.Is(err, rules.ErrNonPositivePrice) ||
		errors.Is(err, portfolio.ErrInsufficientPosition)
}

// failureKind maps a fatal error to its failure report kind.
func failureKind(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrInsufficientCash):
		return FailInsufficientCash
	case errors.Is(err, ErrDataQuality):
		return FailDataQuality
	case errors.Is(err, ErrStrategyRuntime):
		return FailStrategyRuntime
	default:
		return FailStrategyRuntime
	}
}

// callHook invokes a strategy hook, converting both returned errors and
// panics into ErrStrategyRuntime so a misbehaving strategy can never crash
// the driver.
func callHook(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s: %v", ErrStrategyRuntime, name, r)
		}
	}()
	if hookErr := fn(); hookErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrStrategyRuntime, name, hookErr)
	}
	return nil
}
