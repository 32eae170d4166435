// Package httpapi exposes the backtest platform over a JSON HTTP API: submit
// runs, poll their progress, and fetch stored results.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/backtest"
	"quantbt/internal/config"
	"quantbt/internal/domain"
	"quantbt/internal/execution"
	"quantbt/internal/rules"
	"quantbt/internal/store"
	"quantbt/internal/strategy"
)

// Server serves the backtest HTTP API. Runs execute asynchronously; the
// server tracks in-flight runs in memory and persists terminal results to the
// result store.
type Server struct {
	bars       store.BarStore
	results    store.ResultStore
	registry   *strategy.Registry
	securities map[string]domain.Security
	defaults   config.BacktestConfig
	log        *slog.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

// runHandle tracks one in-flight or recently finished run.
type runHandle struct {
	driver   *backtest.Driver
	progress *domain.Progress
	result   *domain.Result
	done     chan struct{}
}

// NewServer creates a Server over the given stores and strategy registry.
// Universe symbols without a reference record get a default one with lot
// size 1.
func NewServer(
	bars store.BarStore,
	results store.ResultStore,
	registry *strategy.Registry,
	securities []domain.Security,
	defaults config.BacktestConfig,
	log *slog.Logger,
) *Server {
	secMap := make(map[string]domain.Security, len(securities))
	for _, s := range securities {
		secMap[s.Symbol] = s
	}
	return &Server{
		bars:       bars,
		results:    results,
		registry:   registry,
		securities: secMap,
		defaults:   defaults,
		log:        log,
		runs:       make(map[string]*runHandle),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/backtests", s.handleSubmit)
	mux.HandleFunc("GET /api/v1/backtests", s.handleList)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/strategies", s.handleStrategies)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := s.buildConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !slices.Contains(s.registry.List(), cfg.Strategy) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
		return
	}

	data, securities, err := s.loadData(r.Context(), cfg)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, backtest.ErrConfiguration) && !errors.Is(err, backtest.ErrDataQuality) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}

	driver, err := backtest.New(cfg, s.registry, securities, data, s.log)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle := &runHandle{driver: driver, done: make(chan struct{})}
	driver.OnProgress(func(p domain.Progress) {
		s.mu.Lock()
		handle.progress = &p
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.runs[driver.RunID()] = handle
	s.mu.Unlock()

	go func() {
		// Detached from the request context: submitting is fire-and-forget
		// and the run outlives the HTTP request.
		res := driver.Run(context.Background())
		s.mu.Lock()
		handle.result = res
		s.mu.Unlock()
		close(handle.done)

		if err := s.results.SaveResult(context.Background(), res); err != nil {
			s.log.Error("persisting result", "run_id", res.RunID, "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, RunAccepted{
		RunID: driver.RunID(),
		State: driver.State(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	handle, ok := s.runs[id]
	var progress *domain.Progress
	var result *domain.Result
	if ok {
		progress = handle.progress
		result = handle.result
	}
	s.mu.Unlock()

	if ok {
		status := RunStatus{RunID: id, State: handle.driver.State()}
		if result != nil {
			status.Result = result
		} else {
			status.Progress = progress
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	// Not in memory: fall back to the result store.
	res, err := s.results.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading result")
		return
	}
	writeJSON(w, http.StatusOK, RunStatus{RunID: id, State: res.State, Result: res})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sums, err := s.results.ListResults(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing results")
		return
	}
	if sums == nil {
		sums = []store.ResultSummary{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Runs: sums})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StrategiesResponse{Strategies: s.registry.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Request assembly
// ---------------------------------------------------------------------------

// buildConfig merges the request over the server's configured defaults.
func (s *Server) buildConfig(req RunRequest) (backtest.Config, error) {
	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid start date %q", req.Start)
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid end date %q", req.End)
	}

	pick := func(v, def float64) float64 {
		if v != 0 {
			return v
		}
		return def
	}
	pickStr := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}

	cfg := backtest.Config{
		Strategy:       req.Strategy,
		Params:         req.Params,
		Universe:       req.Universe,
		Benchmark:      req.Benchmark,
		Exchange:       domain.Exchange(pickStr(req.Exchange, s.defaults.Exchange)),
		Start:          start,
		End:            end,
		InitialCapital: decimal.NewFromFloat(pick(req.InitialCapital, s.defaults.InitialCapital)),
		CommissionRate: pick(req.CommissionRate, s.defaults.CommissionRate),
		MinCommission:  pick(req.MinCommission, s.defaults.MinCommission),
		SlippagePct:    pick(req.SlippagePct, s.defaults.SlippagePct),
		MinNotional:    pick(req.MinNotional, s.defaults.MinNotional),
		PriceMode:      execution.PriceMode(pickStr(req.PriceMode, s.defaults.PriceMode)),
		LotPolicy:      rules.LotPolicy(pickStr(req.LotPolicy, s.defaults.LotPolicy)),
		GapPolicy:      backtest.GapPolicy(pickStr(req.GapPolicy, s.defaults.GapPolicy)),
		CashPolicy:     backtest.CashPolicy(pickStr(req.CashPolicy, s.defaults.CashPolicy)),
		LongOnly:       s.defaults.LongOnly,
		RiskFreeRate:   pick(req.RiskFreeRate, s.defaults.RiskFreeRate),
	}
	return cfg, nil
}

// loadData reads the requested symbols' bars from the store and assembles
// the run's dataset and security reference slice.
func (s *Server) loadData(ctx context.Context, cfg backtest.Config) (*backtest.Dataset, []domain.Security, error) {
	symbols := append([]string{}, cfg.Universe...)
	if cfg.Benchmark != "" {
		symbols = append(symbols, cfg.Benchmark)
	}

	series := make(map[string][]domain.Bar, len(symbols))
	securities := make([]domain.Security, 0, len(symbols))
	for _, sym := range symbols {
		bars, err := s.bars.ReadBars(ctx, cfg.Exchange, sym, cfg.Start, cfg.End)
		if err != nil {
			return nil, nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if len(bars) == 0 {
			return nil, nil, fmt.Errorf("%w: no bars stored for %s", backtest.ErrConfiguration, sym)
		}
		series[sym] = bars

		sec, ok := s.securities[sym]
		if !ok {
			sec = domain.Security{Symbol: sym, Exchange: cfg.Exchange, LotSize: 1}
		}
		securities = append(securities, sec)
	}

	data, err := backtest.NewDataset(series)
	if err != nil {
		return nil, nil, err
	}
	return data, securities, nil
}
