package gather

import (
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

func TestDailyBarGathererName(t *testing.T) {
	g := NewDailyBarGatherer("key", "secret", "https://data.alpaca.markets",
		nil, []string{"AAPL"}, 200, 200, DateRange{})
	if got := g.Name(); got != "daily-bars" {
		t.Errorf("DailyBarGatherer.Name() = %q, want %q", got, "daily-bars")
	}
}

func TestConvertMultiBars(t *testing.T) {
	// Alpaca timestamps daily bars at the session open in Eastern time; the
	// conversion must pin them to midnight UTC of the session date.
	ts := time.Date(2024, 6, 3, 4, 0, 0, 0, time.UTC)
	multiBars := map[string][]marketdata.Bar{
		"aapl": {
			{
				Timestamp: ts,
				Open:      185.0, High: 186.5, Low: 184.0, Close: 185.5,
				Volume: 50000000, VWAP: 185.25,
			},
		},
	}

	bars := convertMultiBars(multiBars)
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	b := bars[0]
	if b.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", b.Symbol)
	}
	want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if !b.Session.Equal(want) {
		t.Errorf("Session = %v, want %v", b.Session, want)
	}
	if b.Close != 185.5 {
		t.Errorf("Close = %v, want 185.5", b.Close)
	}
	if b.AdjFactor != 1 {
		t.Errorf("AdjFactor = %v, want 1", b.AdjFactor)
	}
}
