package cost

import (
	"testing"

	"github.com/shopspring/decimal"

	"quantbt/internal/domain"
)

func TestFixedRateCommission(t *testing.T) {
	m := NewFixedRateCommission(0.0003, 5.0)

	// 1000 shares at 10.00: rate component is 3.00, floor wins at 5.00.
	got := m.Commission(domain.SideBuy, 1000, decimal.NewFromFloat(10.00))
	if want := decimal.NewFromFloat(5.0); !got.Equal(want) {
		t.Errorf("Commission(1000 @ 10.00) = %s, want %s", got, want)
	}

	// 10000 shares at 10.00: rate component is 30.00, above the floor.
	got = m.Commission(domain.SideBuy, 10000, decimal.NewFromFloat(10.00))
	if want := decimal.NewFromFloat(30.0); !got.Equal(want) {
		t.Errorf("Commission(10000 @ 10.00) = %s, want %s", got, want)
	}

	// Side does not change the fee under this model.
	buy := m.Commission(domain.SideBuy, 10000, decimal.NewFromFloat(10.00))
	sell := m.Commission(domain.SideSell, 10000, decimal.NewFromFloat(10.00))
	if !buy.Equal(sell) {
		t.Errorf("buy commission %s != sell commission %s", buy, sell)
	}
}

func TestFixedRateCommissionRounding(t *testing.T) {
	m := NewFixedRateCommission(0.0003, 5.0)

	// 7777 shares at 13.37: 7777*13.37*0.0003 = 31.193... rounds to 31.19.
	got := m.Commission(domain.SideBuy, 7777, decimal.NewFromFloat(13.37))
	if want := decimal.NewFromFloat(31.19); !got.Equal(want) {
		t.Errorf("Commission = %s, want %s", got, want)
	}
}

func TestFixedPctSlippage(t *testing.T) {
	m := NewFixedPctSlippage(0.001)
	ref := decimal.NewFromFloat(100.0)

	buy := m.Adjust(domain.SideBuy, ref)
	if want := decimal.NewFromFloat(100.1); !buy.Equal(want) {
		t.Errorf("buy price = %s, want %s", buy, want)
	}

	sell := m.Adjust(domain.SideSell, ref)
	if want := decimal.NewFromFloat(99.9); !sell.Equal(want) {
		t.Errorf("sell price = %s, want %s", sell, want)
	}

	// Buys execute above the reference, sells below.
	if !buy.GreaterThan(ref) || !sell.LessThan(ref) {
		t.Error("slippage must move the price against the trade direction")
	}
}

func TestZeroModels(t *testing.T) {
	ref := decimal.NewFromFloat(42.0)

	if got := (ZeroSlippage{}).Adjust(domain.SideBuy, ref); !got.Equal(ref) {
		t.Errorf("ZeroSlippage changed the price: %s", got)
	}
	if got := (ZeroCommission{}).Commission(domain.SideSell, 100, ref); !got.IsZero() {
		t.Errorf("ZeroCommission charged %s", got)
	}
}

func TestModelsAreDeterministic(t *testing.T) {
	m := NewFixedRateCommission(0.00025, 1.0)
	s := NewFixedPctSlippage(0.0005)
	ref := decimal.NewFromFloat(55.55)

	for i := 0; i < 5; i++ {
		if got := m.Commission(domain.SideBuy, 321, ref); !got.Equal(m.Commission(domain.SideBuy, 321, ref)) {
			t.Fatalf("commission not deterministic: %s", got)
		}
		if got := s.Adjust(domain.SideSell, ref); !got.Equal(s.Adjust(domain.SideSell, ref)) {
			t.Fatalf("slippage not deterministic: %s", got)
		}
	}
}
