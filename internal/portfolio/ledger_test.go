package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func buyFill(symbol string, qty int64, price, commission float64) domain.Fill {
	return domain.Fill{
		ID: "f", IntentID: "i", Symbol: symbol, Side: domain.SideBuy,
		Qty: qty, Price: dec(price), Commission: dec(commission),
		Time: time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC),
	}
}

func sellFill(symbol string, qty int64, price, commission float64) domain.Fill {
	f := buyFill(symbol, qty, price, commission)
	f.Side = domain.SideSell
	return f
}

func TestApplyFillBuy(t *testing.T) {
	l := New(dec(1_000_000), true)

	// Scenario A: buy 1000 @ 10.00 with commission 5.
	if err := l.ApplyFill(buyFill("X", 1000, 10.00, 5.0)); err != nil {
		t.Fatalf("ApplyFill returned error: %v", err)
	}

	if want := dec(989_995); !l.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", l.Cash(), want)
	}
	pos, ok := l.Position("X")
	if !ok {
		t.Fatal("position X not found")
	}
	if pos.Qty != 1000 {
		t.Errorf("qty = %d, want 1000", pos.Qty)
	}
	if !pos.AvgCost.Equal(dec(10.00)) {
		t.Errorf("avg cost = %s, want 10.00", pos.AvgCost)
	}
}

func TestWeightedAverageCost(t *testing.T) {
	l := New(dec(1_000_000), true)

	if err := l.ApplyFill(buyFill("X", 100, 10.00, 0)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(buyFill("X", 100, 20.00, 0)); err != nil {
		t.Fatal(err)
	}

	pos, _ := l.Position("X")
	if !pos.AvgCost.Equal(dec(15.00)) {
		t.Errorf("avg cost = %s, want 15.00", pos.AvgCost)
	}

	// Selling part of the position leaves the basis unchanged.
	if err := l.ApplyFill(sellFill("X", 100, 25.00, 0)); err != nil {
		t.Fatal(err)
	}
	pos, _ = l.Position("X")
	if !pos.AvgCost.Equal(dec(15.00)) {
		t.Errorf("avg cost after partial sell = %s, want 15.00", pos.AvgCost)
	}
	if pos.Qty != 100 {
		t.Errorf("qty after partial sell = %d, want 100", pos.Qty)
	}
}

func TestSellClosesPosition(t *testing.T) {
	l := New(dec(10_000), true)

	if err := l.ApplyFill(buyFill("X", 100, 10.00, 1.0)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(sellFill("X", 100, 11.00, 1.0)); err != nil {
		t.Fatal(err)
	}

	if _, ok := l.Position("X"); ok {
		t.Error("position should be removed when quantity reaches zero")
	}
	// 10000 - 1000 - 1 + 1100 - 1 = 10098.
	if want := dec(10_098); !l.Cash().Equal(want) {
		t.Errorf("cash = %s, want %s", l.Cash(), want)
	}
}

func TestInsufficientCash(t *testing.T) {
	l := New(dec(1_000), true)

	err := l.ApplyFill(buyFill("X", 1000, 10.00, 5.0))
	if !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}

	// Rejected fill leaves the ledger untouched.
	if !l.Cash().Equal(dec(1_000)) {
		t.Errorf("cash changed after rejected fill: %s", l.Cash())
	}
	if len(l.Positions()) != 0 {
		t.Error("positions changed after rejected fill")
	}
}

func TestLongOnlyRejectsOverselling(t *testing.T) {
	l := New(dec(10_000), true)

	if err := l.ApplyFill(buyFill("X", 100, 10.00, 0)); err != nil {
		t.Fatal(err)
	}
	err := l.ApplyFill(sellFill("X", 200, 10.00, 0))
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("expected ErrInsufficientPosition, got %v", err)
	}
}

func TestShortSellAllowedWhenNotLongOnly(t *testing.T) {
	l := New(dec(10_000), false)

	if err := l.ApplyFill(sellFill("X", 100, 10.00, 0)); err != nil {
		t.Fatalf("short sell returned error: %v", err)
	}
	pos, ok := l.Position("X")
	if !ok {
		t.Fatal("short position not found")
	}
	if pos.Qty != -100 {
		t.Errorf("qty = %d, want -100", pos.Qty)
	}
	if !l.Cash().Equal(dec(11_000)) {
		t.Errorf("cash = %s, want 11000", l.Cash())
	}
}

func TestMarkToMarketAndValueInvariant(t *testing.T) {
	l := New(dec(100_000), true)

	if err := l.ApplyFill(buyFill("X", 100, 10.00, 0)); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill(buyFill("Y", 200, 50.00, 0)); err != nil {
		t.Fatal(err)
	}

	l.MarkToMarket(map[string]decimal.Decimal{
		"X": dec(12.00),
		// Y absent: carries forward its last price of 50.00.
	})

	snap := l.Snapshot(time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC))

	// Invariant: cash + sum of position market values == snapshot value.
	sum := snap.Cash
	for _, p := range snap.Positions {
		sum = sum.Add(p.MarketValue())
	}
	if !sum.Equal(snap.Value) {
		t.Errorf("cash + positions = %s, snapshot value = %s", sum, snap.Value)
	}

	// 100000 - 1000 - 10000 = 89000 cash; 100*12 + 200*50 = 11200 positions.
	if want := dec(100_200); !snap.Value.Equal(want) {
		t.Errorf("value = %s, want %s", snap.Value, want)
	}

	// Mark-to-market must not touch cash or quantities.
	if !snap.Cash.Equal(dec(89_000)) {
		t.Errorf("cash = %s, want 89000", snap.Cash)
	}
}

func TestSnapshotPositionsOrdered(t *testing.T) {
	l := New(dec(100_000), true)

	for _, sym := range []string{"ZZZ", "AAA", "MMM"} {
		if err := l.ApplyFill(buyFill(sym, 100, 10.00, 0)); err != nil {
			t.Fatal(err)
		}
	}

	snap := l.Snapshot(time.Now())
	for i := 1; i < len(snap.Positions); i++ {
		if snap.Positions[i-1].Symbol >= snap.Positions[i].Symbol {
			t.Errorf("positions not ordered by symbol: %v", snap.Positions)
		}
	}
}
