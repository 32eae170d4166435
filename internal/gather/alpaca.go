package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantbt/internal/domain"
	"quantbt/internal/store"
	"quantbt/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer fetches daily OHLCV bars for a configured symbol list via
// the Alpaca market-data API and writes them to the bar store. Re-running the
// same range is idempotent: the store merges by (symbol, session).
type DailyBarGatherer struct {
	client    *marketdata.Client
	store     store.BarStore
	symbols   []string
	batchSize int
	limiter   *util.RateLimiter
	span      DateRange
	log       *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer configured with the given
// Alpaca credentials, target store, symbol list, and batch parameters.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL string, s store.BarStore, symbols []string, batchSize, rateLimitPerMin int, span DateRange) *DailyBarGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 200
	}

	return &DailyBarGatherer{
		client:    marketdata.NewClient(opts),
		store:     s,
		symbols:   symbols,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(rateLimitPerMin),
		span:      span,
		log:       slog.Default().With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Run fetches the configured range batch by batch and writes each batch to
// the store before moving on, so a cancelled run keeps everything gathered so
// far.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.symbols) == 0 {
		return fmt.Errorf("gather: no symbols configured")
	}
	start := time.Now()

	for i := 0; i < len(g.symbols); i += g.batchSize {
		end := i + g.batchSize
		if end > len(g.symbols) {
			end = len(g.symbols)
		}
		batch := g.symbols[i:end]

		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var fetchErr error
			bars, fetchErr = g.fetchMultiBars(ctx, batch)
			return fetchErr
		})
		if err != nil {
			return fmt.Errorf("fetching batch %v: %w", batch, err)
		}

		if err := g.store.WriteBars(ctx, domain.ExchangeXNYS, bars); err != nil {
			return fmt.Errorf("writing batch: %w", err)
		}

		g.log.Info("batch done",
			"symbols", len(batch),
			"bars", len(bars),
			"elapsed", time.Since(start).Round(time.Second),
		)
	}

	g.log.Info("complete", "symbols", len(g.symbols), "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(ctx context.Context, symbols []string) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     g.span.Start,
		End:       g.span.End,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	return convertMultiBars(multiBars), nil
}

// convertMultiBars flattens the Alpaca response into domain bars, pinning
// each bar to its session date at midnight UTC.
func convertMultiBars(multiBars map[string][]marketdata.Bar) []domain.Bar {
	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			ts := ab.Timestamp.UTC()
			session := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
			bars = append(bars, domain.Bar{
				Symbol:    strings.ToUpper(symbol),
				Session:   session,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
				Turnover:  ab.VWAP * float64(ab.Volume),
				AdjFactor: 1,
			})
		}
	}
	return bars
}
