package execution

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/cost"
	"quantbt/internal/domain"
	"quantbt/internal/portfolio"
	"quantbt/internal/rules"
)

var testSession = time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSimulator(capital float64, lotSize int64, minNotional float64) (*Simulator, *portfolio.Ledger) {
	ledger := portfolio.New(decimal.NewFromFloat(capital), true)
	engine := rules.New([]domain.Security{
		{Symbol: "X", Exchange: domain.ExchangeXSHG, LotSize: lotSize},
	}, minNotional, rules.LotRoundDown)
	sim := New(ledger, engine,
		cost.NewFixedRateCommission(0.0003, 5.0),
		cost.ZeroSlippage{},
		PriceClose,
		discardLogger(),
	)
	return sim, ledger
}

func bar(symbol string, closePx float64) domain.Bar {
	return domain.Bar{
		Symbol:  symbol,
		Session: testSession,
		Open:    closePx * 0.99,
		High:    closePx * 1.01,
		Low:     closePx * 0.98,
		Close:   closePx,
		Volume:  1_000_000,
	}
}

func sharesIntent(symbol string, side domain.Side, qty int64) domain.OrderIntent {
	return domain.OrderIntent{
		ID: "intent-1", Symbol: symbol, Side: side,
		Type: domain.IntentShares, Qty: qty, PlacedAt: testSession,
	}
}

func TestExecuteBuyScenarioA(t *testing.T) {
	sim, ledger := newTestSimulator(1_000_000, 1, 0)

	fill, err := sim.Execute(sharesIntent("X", domain.SideBuy, 1000), bar("X", 10.00))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill == nil {
		t.Fatal("expected a fill")
	}

	if fill.Qty != 1000 {
		t.Errorf("fill qty = %d, want 1000", fill.Qty)
	}
	if !fill.Price.Equal(decimal.NewFromFloat(10.00)) {
		t.Errorf("fill price = %s, want 10.00", fill.Price)
	}
	// commission = max(1000*10*0.0003, 5) = 5.
	if !fill.Commission.Equal(decimal.NewFromFloat(5.0)) {
		t.Errorf("commission = %s, want 5.00", fill.Commission)
	}
	// cash = 1,000,000 - 10,000 - 5 = 989,995.
	if want := decimal.NewFromFloat(989_995); !ledger.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", ledger.Cash(), want)
	}
}

func TestExecuteLotRounding(t *testing.T) {
	sim, _ := newTestSimulator(1_000_000, 100, 0)

	// Scenario C: 150 requested with lot size 100 executes 100; the
	// remaining 50 are dropped, not queued.
	fill, err := sim.Execute(sharesIntent("X", domain.SideBuy, 150), bar("X", 10.00))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill == nil {
		t.Fatal("expected a fill")
	}
	if fill.Qty != 100 {
		t.Errorf("fill qty = %d, want 100", fill.Qty)
	}
}

func TestExecuteRoundedAwayDropsOrder(t *testing.T) {
	sim, ledger := newTestSimulator(1_000_000, 100, 0)

	fill, err := sim.Execute(sharesIntent("X", domain.SideBuy, 50), bar("X", 10.00))
	if err != nil {
		t.Fatalf("dropped order must not error: %v", err)
	}
	if fill != nil {
		t.Errorf("expected no fill, got %+v", fill)
	}
	if !ledger.Cash().Equal(decimal.NewFromFloat(1_000_000)) {
		t.Error("dropped order must not move cash")
	}
}

func TestExecuteInsufficientCashPropagates(t *testing.T) {
	sim, _ := newTestSimulator(1_000, 1, 0)

	_, err := sim.Execute(sharesIntent("X", domain.SideBuy, 1000), bar("X", 10.00))
	if !errors.Is(err, portfolio.ErrInsufficientCash) {
		t.Errorf("expected ErrInsufficientCash, got %v", err)
	}
}

func TestExecuteBelowMinNotionalPropagates(t *testing.T) {
	sim, _ := newTestSimulator(1_000_000, 100, 5_000)

	_, err := sim.Execute(sharesIntent("X", domain.SideBuy, 100), bar("X", 10.00))
	if !errors.Is(err, rules.ErrBelowMinNotional) {
		t.Errorf("expected ErrBelowMinNotional, got %v", err)
	}
}

func TestExecuteTargetPercent(t *testing.T) {
	sim, ledger := newTestSimulator(1_000_000, 100, 0)

	intent := domain.OrderIntent{
		ID: "intent-2", Symbol: "X", Type: domain.IntentTargetPercent,
		TargetPercent: 0.5, PlacedAt: testSession,
	}

	fill, err := sim.Execute(intent, bar("X", 10.00))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill == nil {
		t.Fatal("expected a fill")
	}
	// Target 50% of 1,000,000 at 10.00 = 50,000 shares, a clean lot multiple.
	if fill.Side != domain.SideBuy || fill.Qty != 50_000 {
		t.Errorf("fill = %s %d, want buy 50000", fill.Side, fill.Qty)
	}

	// Re-issuing the same target is close to a no-op: the delta is only the
	// commission drag, which rounds away below one lot.
	fill2, err := sim.Execute(intent, bar("X", 10.00))
	if err != nil {
		t.Fatalf("second Execute returned error: %v", err)
	}
	if fill2 != nil {
		t.Errorf("expected no second fill, got qty %d", fill2.Qty)
	}

	pos, _ := ledger.Position("X")
	if pos.Qty != 50_000 {
		t.Errorf("position = %d, want 50000", pos.Qty)
	}
}

func TestExecuteTargetPercentSellsDown(t *testing.T) {
	sim, ledger := newTestSimulator(1_000_000, 100, 0)

	buy := domain.OrderIntent{ID: "i1", Symbol: "X", Type: domain.IntentTargetPercent, TargetPercent: 0.5}
	if _, err := sim.Execute(buy, bar("X", 10.00)); err != nil {
		t.Fatal(err)
	}

	sell := domain.OrderIntent{ID: "i2", Symbol: "X", Type: domain.IntentTargetPercent, TargetPercent: 0.25}
	fill, err := sim.Execute(sell, bar("X", 10.00))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill == nil {
		t.Fatal("expected a sell fill")
	}
	if fill.Side != domain.SideSell {
		t.Errorf("fill side = %s, want sell", fill.Side)
	}

	pos, _ := ledger.Position("X")
	if pos.Qty >= 50_000 {
		t.Errorf("position should have been reduced, still %d", pos.Qty)
	}
}

func TestExecuteSlippageDirection(t *testing.T) {
	ledger := portfolio.New(decimal.NewFromFloat(1_000_000), true)
	engine := rules.New([]domain.Security{
		{Symbol: "X", Exchange: domain.ExchangeXSHG, LotSize: 1},
	}, 0, rules.LotRoundDown)
	sim := New(ledger, engine, cost.ZeroCommission{}, cost.NewFixedPctSlippage(0.001), PriceClose, discardLogger())

	fill, err := sim.Execute(sharesIntent("X", domain.SideBuy, 100), bar("X", 100.00))
	if err != nil {
		t.Fatal(err)
	}
	if !fill.Price.Equal(decimal.NewFromFloat(100.1)) {
		t.Errorf("buy fill price = %s, want 100.1", fill.Price)
	}

	fill, err = sim.Execute(sharesIntent("X", domain.SideSell, 100), bar("X", 100.00))
	if err != nil {
		t.Fatal(err)
	}
	if !fill.Price.Equal(decimal.NewFromFloat(99.9)) {
		t.Errorf("sell fill price = %s, want 99.9", fill.Price)
	}
}

func TestExecuteLimitPrice(t *testing.T) {
	sim, _ := newTestSimulator(1_000_000, 1, 0)

	intent := sharesIntent("X", domain.SideBuy, 100)
	intent.LimitPrice = 9.50 // below the 10.00 close: must not fill

	fill, err := sim.Execute(intent, bar("X", 10.00))
	if err != nil {
		t.Fatalf("limit miss must not error: %v", err)
	}
	if fill != nil {
		t.Errorf("expected no fill above the buy limit, got %+v", fill)
	}

	intent.LimitPrice = 10.50 // at or better: fills
	fill, err = sim.Execute(intent, bar("X", 10.00))
	if err != nil {
		t.Fatal(err)
	}
	if fill == nil {
		t.Error("expected a fill at or under the buy limit")
	}
}

func TestReferencePriceModes(t *testing.T) {
	b := domain.Bar{Open: 10, High: 12, Low: 9, Close: 11}

	if got := ReferencePrice(b, PriceOpen); got != 10 {
		t.Errorf("open = %f, want 10", got)
	}
	if got := ReferencePrice(b, PriceClose); got != 11 {
		t.Errorf("close = %f, want 11", got)
	}
	vwap := (12.0 + 9.0 + 11.0) / 3
	if got := ReferencePrice(b, PriceVWAP); got != vwap {
		t.Errorf("vwap = %f, want %f", got, vwap)
	}
}
