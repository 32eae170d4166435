package httpapi

import (
	"quantbt/internal/domain"
	"quantbt/internal/store"
)

// RunRequest is the POST /api/v1/backtests body. Zero-valued fields fall
// back to the server's configured defaults.
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

// RunAccepted is the POST /api/v1/backtests response.
type RunAccepted struct {
	RunID string          `json:"run_id"`
	State domain.RunState `json:"state"`
}

// RunStatus is the GET /api/v1/backtests/{id} response. Result is present
// once the run reaches a terminal state; Progress while it is running.
type RunStatus struct {
	RunID    string           `json:"run_id"`
	State    domain.RunState  `json:"state"`
	Progress *domain.Progress `json:"progress,omitempty"`
	Result   *domain.Result   `json:"result,omitempty"`
}

// ListResponse is the GET /api/v1/backtests response.
type ListResponse struct {
	Runs []store.ResultSummary `json:"runs"`
}

// StrategiesResponse is the GET /api/v1/strategies response.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}
