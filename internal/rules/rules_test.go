package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

var testSecurities = []domain.Security{
	{Symbol: "600000.XSHG", Exchange: domain.ExchangeXSHG, LotSize: 100},
	{Symbol: "AAPL", Exchange: domain.ExchangeXNYS, LotSize: 1},
	{
		Symbol:     "DELISTED.XSHG",
		Exchange:   domain.ExchangeXSHG,
		LotSize:    100,
		DelistedAt: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	},
}

var session = time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)

func TestLotRoundDown(t *testing.T) {
	e := New(testSecurities, 0, LotRoundDown)
	price := decimal.NewFromFloat(10.0)

	// 150 shares with lot size 100 adjusts to 100; the remainder is dropped,
	// not queued.
	got, err := e.ValidateAdjust("600000.XSHG", 150, price, session)
	if err != nil {
		t.Fatalf("ValidateAdjust returned error: %v", err)
	}
	if got != 100 {
		t.Errorf("adjusted qty = %d, want 100", got)
	}

	// Exact multiple passes through unchanged.
	got, err = e.ValidateAdjust("600000.XSHG", 300, price, session)
	if err != nil {
		t.Fatalf("ValidateAdjust returned error: %v", err)
	}
	if got != 300 {
		t.Errorf("adjusted qty = %d, want 300", got)
	}

	// Below one lot rounds to zero: drop, no error.
	got, err = e.ValidateAdjust("600000.XSHG", 50, price, session)
	if err != nil {
		t.Fatalf("ValidateAdjust returned error: %v", err)
	}
	if got != 0 {
		t.Errorf("adjusted qty = %d, want 0", got)
	}
}

func TestLotReject(t *testing.T) {
	e := New(testSecurities, 0, LotReject)

	_, err := e.ValidateAdjust("600000.XSHG", 150, decimal.NewFromFloat(10.0), session)
	if !errors.Is(err, ErrLotSize) {
		t.Errorf("expected ErrLotSize, got %v", err)
	}
}

func TestMinNotional(t *testing.T) {
	e := New(testSecurities, 1000.0, LotRoundDown)

	// 100 shares at 5.00 = 500 notional, below the 1000 floor.
	_, err := e.ValidateAdjust("600000.XSHG", 100, decimal.NewFromFloat(5.0), session)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Errorf("expected ErrBelowMinNotional, got %v", err)
	}

	// 300 shares at 5.00 = 1500 notional, passes.
	got, err := e.ValidateAdjust("600000.XSHG", 300, decimal.NewFromFloat(5.0), session)
	if err != nil {
		t.Fatalf("ValidateAdjust returned error: %v", err)
	}
	if got != 300 {
		t.Errorf("adjusted qty = %d, want 300", got)
	}

	// The minimum is checked against the quantity after lot adjustment.
	_, err = e.ValidateAdjust("600000.XSHG", 199, decimal.NewFromFloat(9.0), session)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Errorf("expected ErrBelowMinNotional after rounding, got %v", err)
	}
}

func TestUnknownSymbol(t *testing.T) {
	e := New(testSecurities, 0, LotRoundDown)

	_, err := e.ValidateAdjust("NOPE", 100, decimal.NewFromFloat(10.0), session)
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestInactiveSecurity(t *testing.T) {
	e := New(testSecurities, 0, LotRoundDown)

	_, err := e.ValidateAdjust("DELISTED.XSHG", 100, decimal.NewFromFloat(10.0), session)
	if !errors.Is(err, ErrInactiveSecurity) {
		t.Errorf("expected ErrInactiveSecurity, got %v", err)
	}
}

func TestInvalidInputs(t *testing.T) {
	e := New(testSecurities, 0, LotRoundDown)

	if _, err := e.ValidateAdjust("AAPL", 0, decimal.NewFromFloat(10.0), session); !errors.Is(err, ErrNonPositiveQty) {
		t.Errorf("expected ErrNonPositiveQty, got %v", err)
	}
	if _, err := e.ValidateAdjust("AAPL", 10, decimal.Zero, session); !errors.Is(err, ErrNonPositivePrice) {
		t.Errorf("expected ErrNonPositivePrice, got %v", err)
	}
}

func TestLotSizeOneAcceptsAnyQty(t *testing.T) {
	e := New(testSecurities, 0, LotReject)

	got, err := e.ValidateAdjust("AAPL", 7, decimal.NewFromFloat(200.0), session)
	if err != nil {
		t.Fatalf("ValidateAdjust returned error: %v", err)
	}
	if got != 7 {
		t.Errorf("adjusted qty = %d, want 7", got)
	}
}
