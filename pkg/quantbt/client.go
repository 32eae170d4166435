// Package quantbt provides a Go SDK for the quantbt-server API.
package quantbt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RunRequest describes a backtest to submit. Zero-valued fields fall back to
// the server's configured defaults.
type RunRequest struct {
	Strategy  string             `json:"strategy"`
	Params    map[string]float64 `json:"params,omitempty"`
	Universe  []string           `json:"universe"`
	Benchmark string             `json:"benchmark,omitempty"`
	Exchange  string             `json:"exchange,omitempty"`
	Start     string             `json:"start"` // YYYY-MM-DD
	End       string             `json:"end"`   // YYYY-MM-DD

	InitialCapital float64 `json:"initial_capital,omitempty"`
	CommissionRate float64 `json:"commission_rate,omitempty"`
	MinCommission  float64 `json:"min_commission,omitempty"`
	SlippagePct    float64 `json:"slippage_pct,omitempty"`
	MinNotional    float64 `json:"min_notional,omitempty"`
	PriceMode      string  `json:"price_mode,omitempty"`
	LotPolicy      string  `json:"lot_policy,omitempty"`
	GapPolicy      string  `json:"gap_policy,omitempty"`
	CashPolicy     string  `json:"cash_policy,omitempty"`
	RiskFreeRate   float64 `json:"risk_free_rate,omitempty"`
}

// RunAccepted is the response to a submitted backtest.
type RunAccepted struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// Progress reports how far a running backtest has advanced.
type Progress struct {
	Fraction float64   `json:"fraction"`
	Session  time.Time `json:"session"`
	Message  string    `json:"message,omitempty"`
}

// RunStatus is the state of a submitted backtest. Result is present once the
// run reaches a terminal state; it is raw JSON so callers can decode only the
// fields they need.
type RunStatus struct {
	RunID    string          `json:"run_id"`
	State    string          `json:"state"`
	Progress *Progress       `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	switch s.State {
	case "completed", "failed", "stopped":
		return true
	}
	return false
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Strategy   string    `json:"strategy"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Client provides a Go SDK for interacting with the quantbt-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantbt API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitBacktest submits a backtest for asynchronous execution.
func (c *Client) SubmitBacktest(ctx context.Context, req RunRequest) (*RunAccepted, error) {
	var accepted RunAccepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// GetBacktest fetches the current status of a run.
func (c *Client) GetBacktest(ctx context.Context, runID string) (*RunStatus, error) {
	var status RunStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+runID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForResult polls a run until it reaches a terminal state or the context
// is cancelled.
func (c *Client) WaitForResult(ctx context.Context, runID string, pollInterval time.Duration) (*RunStatus, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetBacktest(ctx, runID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListBacktests retrieves summaries of stored runs, most recent first.
func (c *Client) ListBacktests(ctx context.Context) ([]RunSummary, error) {
	var out struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests", nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Strategies lists the strategy names the server can run.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do performs one JSON request/response round trip against the API.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
