// Run one backtest from the command line and print its metrics.
//
// Usage:
//
//	quantbt-run -strategy sma-cross -universe AAPL,MSFT -start 2024-01-02 -end 2024-06-28
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/internal/backtest"
	"quantbt/internal/config"
	"quantbt/internal/domain"
	"quantbt/internal/execution"
	"quantbt/internal/rules"
	"quantbt/internal/store"
	"quantbt/internal/strategy"
	"quantbt/internal/strategy/builtins"
	"quantbt/internal/util"
)

func main() {
	strategyName := flag.String("strategy", "", "strategy to run (see quantbt-server /api/v1/strategies)")
	universe := flag.String("universe", "", "comma-separated symbols")
	benchmark := flag.String("benchmark", "", "benchmark symbol for alpha/beta (optional)")
	start := flag.String("start", "", "start date YYYY-MM-DD")
	end := flag.String("end", "", "end date YYYY-MM-DD")
	capital := flag.Float64("capital", 0, "initial capital (0 = config default)")
	params := flag.String("params", "", "strategy params as k=v,k=v")
	save := flag.Bool("save", false, "persist the result to the SQLite store")
	flag.Parse()

	cfgPath := "config/quantbt.yaml"
	if p := os.Getenv("QUANTBT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	runCfg, err := buildConfig(cfg.Backtest, *strategyName, *universe, *benchmark, *start, *end, *capital, *params)
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	data, securities, err := loadData(ctx, bars, runCfg)
	if err != nil {
		log.Fatalf("loading data: %v", err)
	}

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	driver, err := backtest.New(runCfg, registry, securities, data, logger)
	if err != nil {
		log.Fatalf("configuring run: %v", err)
	}

	res := driver.Run(ctx)
	printResult(res)

	if *save {
		results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening result store: %v", err)
		}
		defer results.Close()
		if err := results.SaveResult(context.Background(), res); err != nil {
			log.Fatalf("saving result: %v", err)
		}
		fmt.Printf("saved as %s\n", res.RunID)
	}

	if res.State != domain.RunCompleted {
		os.Exit(1)
	}
}

func buildConfig(defaults config.BacktestConfig, strategyName, universe, benchmark, start, end string, capital float64, params string) (backtest.Config, error) {
	startT, err := time.Parse("2006-01-02", start)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid -start %q", start)
	}
	endT, err := time.Parse("2006-01-02", end)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid -end %q", end)
	}
	if capital == 0 {
		capital = defaults.InitialCapital
	}

	paramMap, err := parseParams(params)
	if err != nil {
		return backtest.Config{}, err
	}

	return backtest.Config{
		Strategy:       strategyName,
		Params:         paramMap,
		Universe:       splitList(universe),
		Benchmark:      benchmark,
		Exchange:       domain.Exchange(defaults.Exchange),
		Start:          startT,
		End:            endT,
		InitialCapital: decimal.NewFromFloat(capital),
		CommissionRate: defaults.CommissionRate,
		MinCommission:  defaults.MinCommission,
		SlippagePct:    defaults.SlippagePct,
		PriceMode:      execution.PriceMode(defaults.PriceMode),
		MinNotional:    defaults.MinNotional,
		LotPolicy:      rules.LotPolicy(defaults.LotPolicy),
		LongOnly:       defaults.LongOnly,
		GapPolicy:      backtest.GapPolicy(defaults.GapPolicy),
		CashPolicy:     backtest.CashPolicy(defaults.CashPolicy),
		RiskFreeRate:   defaults.RiskFreeRate,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

func parseParams(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid param %q, want k=v", pair)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid param value %q: %v", pair, err)
		}
		out[strings.TrimSpace(key)] = f
	}
	return out, nil
}

func loadData(ctx context.Context, bars store.BarStore, cfg backtest.Config) (*backtest.Dataset, []domain.Security, error) {
	symbols := append([]string{}, cfg.Universe...)
	if cfg.Benchmark != "" {
		symbols = append(symbols, cfg.Benchmark)
	}

	series := make(map[string][]domain.Bar, len(symbols))
	securities := make([]domain.Security, 0, len(symbols))
	for _, sym := range symbols {
		b, err := bars.ReadBars(ctx, cfg.Exchange, sym, cfg.Start, cfg.End)
		if err != nil {
			return nil, nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if len(b) == 0 {
			return nil, nil, fmt.Errorf("no bars stored for %s, run quantbt-gather first", sym)
		}
		series[sym] = b
		securities = append(securities, domain.Security{Symbol: sym, Exchange: cfg.Exchange, LotSize: 1})
	}

	data, err := backtest.NewDataset(series)
	if err != nil {
		return nil, nil, err
	}
	return data, securities, nil
}

func printResult(res *domain.Result) {
	fmt.Printf("run      %s\n", res.RunID)
	fmt.Printf("state    %s\n", res.State)
	if res.Failure != nil {
		fmt.Printf("failure  [%s] %s\n", res.Failure.Kind, res.Failure.Message)
	}
	fmt.Printf("capital  %s -> %s\n", res.InitialCapital.StringFixed(2), res.FinalValue.StringFixed(2))
	fmt.Printf("trades   %d\n", len(res.Trades))
	fmt.Printf("sessions %d\n", len(res.Snapshots))

	m := res.Metrics
	if m == nil {
		return
	}
	fmt.Println()
	fmt.Printf("total return   %8.2f%%\n", m.TotalReturn*100)
	fmt.Printf("annual return  %8.2f%%\n", m.AnnualReturn*100)
	fmt.Printf("volatility     %8.2f%%\n", m.Volatility*100)
	fmt.Printf("max drawdown   %8.2f%%\n", m.MaxDrawdown*100)
	fmt.Printf("sharpe         %s\n", fmtRatio(m.Sharpe))
	fmt.Printf("sortino        %s\n", fmtRatio(m.Sortino))
	fmt.Printf("win rate       %s\n", fmtPct(m.WinRate))
	fmt.Printf("profit factor  %s\n", fmtRatio(m.ProfitFactor))
	if m.Alpha != nil || m.Beta != nil {
		fmt.Printf("alpha          %s\n", fmtRatio(m.Alpha))
		fmt.Printf("beta           %s\n", fmtRatio(m.Beta))
	}
}

func fmtRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%8.3f", *v)
}

func fmtPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%8.2f%%", *v*100)
}
