// Run a parameter sweep: the cartesian product of a parameter grid, each
// variant as an isolated backtest, executed across a worker pool.
//
// Usage:
//
//	quantbt-sweep -strategy sma-cross -universe AAPL -start 2024-01-02 -end 2024-06-28 \
//	    -grid "short=5|10|20,long=50|100"
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
	"quantbt/internal/sweep"
	"quantbt/internal/util"
)

func main() {
	strategyName := flag.String("strategy", "", "strategy to sweep")
	universe := flag.String("universe", "", "comma-separated symbols")
	start := flag.String("start", "", "start date YYYY-MM-DD")
	end := flag.String("end", "", "end date YYYY-MM-DD")
	grid := flag.String("grid", "", "parameter grid as k=v1|v2,k2=v1|v2")
	workers := flag.Int("workers", 0, "concurrent runs (0 = config default)")
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

	base, err := buildBaseConfig(cfg.Backtest, *strategyName, *universe, *start, *end)
	if err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	params, err := parseGrid(*grid)
	if err != nil {
		log.Fatalf("invalid -grid: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	data, securities, err := loadData(ctx, bars, base)
	if err != nil {
		log.Fatalf("loading data: %v", err)
	}

	registry := strategy.NewRegistry()
	builtins.RegisterAll(registry)

	maxWorkers := *workers
	if maxWorkers == 0 {
		maxWorkers = cfg.Sweep.MaxWorkers
	}

	jobs := sweep.Grid(base, params)
	runner := sweep.New(registry, securities, data, maxWorkers, logger)

	started := time.Now()
	outcomes := runner.Run(ctx, jobs)

	fmt.Printf("%-40s %-10s %12s %10s\n", "variant", "state", "final value", "return")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("%-40s %-10s %v\n", o.Name, "error", o.Err)
			continue
		}
		ret := "n/a"
		if o.Result.Metrics != nil {
			ret = fmt.Sprintf("%.2f%%", o.Result.Metrics.TotalReturn*100)
		}
		fmt.Printf("%-40s %-10s %12s %10s\n",
			o.Name, o.Result.State, o.Result.FinalValue.StringFixed(2), ret)
	}
	fmt.Printf("\n%d variants in %s\n", len(outcomes), time.Since(started).Round(time.Millisecond))
}

func buildBaseConfig(defaults config.BacktestConfig, strategyName, universe, start, end string) (backtest.Config, error) {
	startT, err := time.Parse("2006-01-02", start)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid -start %q", start)
	}
	endT, err := time.Parse("2006-01-02", end)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("invalid -end %q", end)
	}

	return backtest.Config{
		Strategy:       strategyName,
		Universe:       splitList(universe),
		Exchange:       domain.Exchange(defaults.Exchange),
		Start:          startT,
		End:            endT,
		InitialCapital: decimal.NewFromFloat(defaults.InitialCapital),
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

// parseGrid parses "short=5|10,long=50|100" into parameter value lists.
func parseGrid(s string) (map[string][]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("grid required")
	}
	out := make(map[string][]float64)
	for _, pair := range strings.Split(s, ",") {
		key, vals, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid grid entry %q, want k=v1|v2", pair)
		}
		for _, v := range strings.Split(vals, "|") {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q for %s: %v", v, key, err)
			}
			out[strings.TrimSpace(key)] = append(out[strings.TrimSpace(key)], f)
		}
	}
	return out, nil
}

func loadData(ctx context.Context, bars store.BarStore, cfg backtest.Config) (*backtest.Dataset, []domain.Security, error) {
	series := make(map[string][]domain.Bar, len(cfg.Universe))
	securities := make([]domain.Security, 0, len(cfg.Universe))
	for _, sym := range cfg.Universe {
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
