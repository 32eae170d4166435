// Package store defines storage interfaces for persisting and retrieving
// domain objects: price bars, security reference data, and backtest results.
package store

import (
	"context"
	"time"

	"quantbt/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given exchange.
	WriteBars(ctx context.Context, exchange domain.Exchange, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and exchange within
	// [start, end], ordered by session.
	ReadBars(ctx context.Context, exchange domain.Exchange, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available on the given
	// exchange.
	ListSymbols(ctx context.Context, exchange domain.Exchange) ([]string, error)
}

// ResultSummary is the listing row for a stored backtest result.
type ResultSummary struct {
	RunID      string          `json:"run_id"`
	Strategy   string          `json:"strategy"`
	State      domain.RunState `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// ResultStore persists and retrieves completed backtest results, including
// their full snapshot and trade history.
type ResultStore interface {
	// SaveResult persists a run result. Saving the same run ID twice
	// replaces the stored result.
	SaveResult(ctx context.Context, res *domain.Result) error

	// GetResult retrieves a full result by run ID. Returns ErrNotFound if no
	// such run was stored.
	GetResult(ctx context.Context, runID string) (*domain.Result, error)

	// ListResults returns summaries of stored runs, most recent first.
	ListResults(ctx context.Context, limit int) ([]ResultSummary, error)

	// DeleteResult removes a stored run and its history.
	DeleteResult(ctx context.Context, runID string) error
}
