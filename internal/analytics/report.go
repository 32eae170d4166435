// Package analytics computes the performance and risk summary for a finished
// backtest run from its snapshot sequence, trade history, and an optional
// benchmark series.
package analytics

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

// ErrInsufficientData is returned when fewer than two snapshots exist and no
// return series can be computed.
var ErrInsufficientData = errors.New("analytics: fewer than 2 snapshots, no return series")

// tradingDaysPerYear is the annualization base for daily bars.
const tradingDaysPerYear = 252

// Options configures the analyzer.
type Options struct {
	// RiskFreeRate is the annual risk-free rate used by Sharpe and Sortino,
	// e.g. 0.02 for 2%. Zero is a valid choice.
	RiskFreeRate float64
}

// Analyze computes the metric set for a run.
//
// Ratio metrics that are undefined for the input (zero-variance Sharpe, win
// rate with no closed trades, beta against a flat benchmark) come back as nil
// pointers rather than NaN. TotalTrades counts every fill; win rate and
// ProfitableTrades are computed over position-closing fills only, with profit
// attributed by FIFO cost basis. The benchmark series may be nil, in which
// case alpha and beta are nil.
func Analyze(snapshots []domain.Snapshot, trades []domain.Fill, benchmark []domain.Bar, opts Options) (*domain.Metrics, error) {
	if len(snapshots) < 2 {
		return nil, ErrInsufficientData
	}

	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.Value.InexactFloat64()
	}
	returns := returnSeries(values)
	rfDaily := opts.RiskFreeRate / tradingDaysPerYear

	m := &domain.Metrics{
		TotalTrades: len(trades),
		MaxDrawdown: maxDrawdown(values),
	}

	if values[0] != 0 {
		m.TotalReturn = values[len(values)-1]/values[0] - 1
		m.AnnualReturn = math.Pow(1+m.TotalReturn, tradingDaysPerYear/float64(len(returns))) - 1
	}

	sd := stdev(returns)
	m.Volatility = sd * math.Sqrt(tradingDaysPerYear)

	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rfDaily
	}
	if sd > 0 {
		v := mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
		m.Sharpe = &v
	}
	if dd := downsideDev(excess); dd > 0 {
		v := mean(excess) / dd * math.Sqrt(tradingDaysPerYear)
		m.Sortino = &v
	}

	closed, wins, grossProfit, grossLoss := closedTradeStats(trades)
	m.ProfitableTrades = wins
	if closed > 0 {
		wr := float64(wins) / float64(closed)
		m.WinRate = &wr
	}
	if grossLoss > 0 {
		pf := grossProfit / grossLoss
		m.ProfitFactor = &pf
	}

	if len(benchmark) > 0 {
		alpha, beta, aligned := regressOnBenchmark(snapshots, returns, benchmark)
		m.Alpha = alpha
		m.Beta = beta
		m.AlignedSessions = aligned
	}

	return m, nil
}

// ---------------------------------------------------------------------------
// Return series
// ---------------------------------------------------------------------------

// returnSeries computes r_t = v_t / v_{t-1} - 1 over the value curve.
func returnSeries(values []float64) []float64 {
	rs := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			rs = append(rs, 0)
			continue
		}
		rs = append(rs, values[i]/values[i-1]-1)
	}
	return rs
}

// maxDrawdown returns the largest peak-to-trough loss as a positive fraction
// of the running peak.
func maxDrawdown(values []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
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

// stdev is the sample standard deviation. Zero for fewer than two values.
func stdev(vs []float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	mu := mean(vs)
	ss := 0.0
	for _, v := range vs {
		d := v - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vs)-1))
}

// downsideDev is the root mean square of the negative excess returns, the
// denominator of the Sortino ratio.
func downsideDev(excess []float64) float64 {
	if len(excess) == 0 {
		return 0
	}
	ss := 0.0
	for _, r := range excess {
		if r < 0 {
			ss += r * r
		}
	}
	return math.Sqrt(ss / float64(len(excess)))
}

// ---------------------------------------------------------------------------
// Trade attribution
// ---------------------------------------------------------------------------

// lot is an open FIFO lot: shares bought at a per-share cost that includes
// the lot's share of the buy commission.
type lot struct {
	qty  int64
	cost decimal.Decimal // per share
}

// closedTradeStats walks the ordered fill sequence, matching each sell
// against the oldest open buy lots of the same symbol. Every sell fill is one
// closed trade; its profit is proceeds net of the sell commission minus the
// FIFO cost of the matched shares.
func closedTradeStats(trades []domain.Fill) (closed, wins int, grossProfit, grossLoss float64) {
	open := make(map[string][]lot)

	for _, f := range trades {
		if f.Side == domain.SideBuy {
			perShare := f.Price.Add(f.Commission.Div(decimal.NewFromInt(f.Qty)))
			open[f.Symbol] = append(open[f.Symbol], lot{qty: f.Qty, cost: perShare})
			continue
		}

		remaining := f.Qty
		cost := decimal.Zero
		lots := open[f.Symbol]
		for remaining > 0 && len(lots) > 0 {
			take := lots[0].qty
			if take > remaining {
				take = remaining
			}
			cost = cost.Add(lots[0].cost.Mul(decimal.NewFromInt(take)))
			lots[0].qty -= take
			remaining -= take
			if lots[0].qty == 0 {
				lots = lots[1:]
			}
		}
		open[f.Symbol] = lots
		if remaining == f.Qty {
			// Nothing to match, e.g. a short sale. Not a closing trade.
			continue
		}

		matched := f.Qty - remaining
		proceeds := f.Price.Mul(decimal.NewFromInt(matched)).Sub(f.Commission)
		profit := proceeds.Sub(cost).InexactFloat64()

		closed++
		if profit > 0 {
			wins++
			grossProfit += profit
		} else {
			grossLoss += -profit
		}
	}
	return closed, wins, grossProfit, grossLoss
}

// ---------------------------------------------------------------------------
// Benchmark regression
// ---------------------------------------------------------------------------

// regressOnBenchmark runs the OLS regression of strategy returns on benchmark
// returns over the sessions present in both series. The returned alpha is
// annualized. Both come back nil when fewer than two aligned observations
// exist or the benchmark has no variance.
func regressOnBenchmark(snapshots []domain.Snapshot, returns []float64, benchmark []domain.Bar) (alpha, beta *float64, aligned int) {
	// Benchmark return keyed by the session it ends on.
	bench := make(map[int64]float64, len(benchmark))
	for i := 1; i < len(benchmark); i++ {
		if benchmark[i-1].Close == 0 {
			continue
		}
		bench[benchmark[i].Session.Unix()] = benchmark[i].Close/benchmark[i-1].Close - 1
	}

	var rs, rb []float64
	for i, r := range returns {
		// returns[i] ends on snapshots[i+1].Session.
		if b, ok := bench[snapshots[i+1].Session.Unix()]; ok {
			rs = append(rs, r)
			rb = append(rb, b)
		}
	}
	aligned = len(rs)
	if aligned < 2 {
		return nil, nil, aligned
	}

	mus, mub := mean(rs), mean(rb)
	var cov, varb float64
	for i := range rs {
		cov += (rs[i] - mus) * (rb[i] - mub)
		varb += (rb[i] - mub) * (rb[i] - mub)
	}
	if varb == 0 {
		return nil, nil, aligned
	}

	b := cov / varb
	a := (mus - b*mub) * tradingDaysPerYear
	return &a, &b, aligned
}
