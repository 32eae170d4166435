package backtest

import (
	"fmt"
	"sort"
	"time"

	"quantbt/internal/domain"
)

// Dataset is the read-only price input to a run: one ordered bar series per
// symbol, indexed for session lookup. A Dataset is immutable after
// construction and safe to share across concurrent runs in a sweep.
type Dataset struct {
	series map[string][]domain.Bar
	index  map[string]map[int64]int // symbol -> session unix -> series offset
}

// NewDataset validates and indexes the per-symbol bar series. Series must be
// strictly ordered by session with no duplicate (symbol, session) pairs;
// violations fail with ErrDataQuality.
func NewDataset(bars map[string][]domain.Bar) (*Dataset, error) {
	d := &Dataset{
		series: make(map[string][]domain.Bar, len(bars)),
		index:  make(map[string]map[int64]int, len(bars)),
	}
	for sym, series := range bars {
		idx := make(map[int64]int, len(series))
		for i, b := range series {
			if i > 0 && !series[i-1].Session.Before(b.Session) {
				return nil, fmt.Errorf("%w: %s bars not strictly ordered at %s",
					ErrDataQuality, sym, b.Session.Format("2006-01-02"))
			}
			if b.Close <= 0 {
				return nil, fmt.Errorf("%w: %s non-positive close at %s",
					ErrDataQuality, sym, b.Session.Format("2006-01-02"))
			}
			idx[b.Session.Unix()] = i
		}
		d.series[sym] = series
		d.index[sym] = idx
	}
	return d, nil
}

// Bar returns the bar for (symbol, session) if one exists.
func (d *Dataset) Bar(symbol string, session time.Time) (domain.Bar, bool) {
	i, ok := d.index[symbol][session.Unix()]
	if !ok {
		return domain.Bar{}, false
	}
	return d.series[symbol][i], true
}

// Series returns the full ordered bar series for symbol.
func (d *Dataset) Series(symbol string) []domain.Bar {
	return d.series[symbol]
}

// historyView implements strategy.HistoryProvider bounded at one session:
// lookback queries see only bars strictly before now, so strategy code can
// never peek ahead.
type historyView struct {
	data *Dataset
	now  time.Time
}

// History returns up to window values of field for sessions before now,
// oldest first.
func (h historyView) History(symbol, field string, window int) []float64 {
	series := h.data.series[symbol]
	if len(series) == 0 || window <= 0 {
		return nil
	}

	// First bar at or after now.
	end := sort.Search(len(series), func(i int) bool {
		return !series[i].Session.Before(h.now)
	})
	start := end - window
	if start < 0 {
		start = 0
	}

	out := make([]float64, 0, end-start)
	for _, b := range series[start:end] {
		out = append(out, barField(b, field))
	}
	return out
}

func barField(b domain.Bar, field string) float64 {
	switch field {
	case "open":
		return b.Open
	case "high":
		return b.High
	case "low":
		return b.Low
	case "volume":
		return float64(b.Volume)
	case "turnover":
		return b.Turnover
	default:
		return b.Close
	}
}
