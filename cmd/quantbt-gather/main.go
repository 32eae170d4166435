// Daemon that backfills daily bars from Alpaca into the local parquet store.
//
// Usage:
//
//	quantbt-gather -symbols AAPL,MSFT,SPY
//	quantbt-gather -symbols-file reference/universe.txt
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantbt/internal/config"
	"quantbt/internal/gather"
	"quantbt/internal/store"
)

func main() {
	symbolList := flag.String("symbols", "", "comma-separated symbols to gather")
	symbolsFile := flag.String("symbols-file", "", "file with one symbol per line")
	flag.Parse()

	cfgPath := "config/quantbt.yaml"
	if p := os.Getenv("QUANTBT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/quantbt-gather-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	symbols, err := resolveSymbols(*symbolList, *symbolsFile)
	if err != nil {
		log.Fatalf("resolving symbols: %v", err)
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols given: use -symbols or -symbols-file")
	}

	span, err := resolveSpan(cfg.Gather.StartDate)
	if err != nil {
		log.Fatalf("invalid gather start date: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	gatherer := gather.NewDailyBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		pstore,
		symbols,
		cfg.Gather.BatchSize,
		cfg.Gather.RateLimitPerMin,
		span,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting quantbt-gather",
		"logFile", logFileName,
		"symbols", len(symbols),
		"start", span.Start.Format("2006-01-02"),
	)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}

func resolveSymbols(list, file string) ([]string, error) {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if s := strings.TrimSpace(scanner.Text()); s != "" && !strings.HasPrefix(s, "#") {
				out = append(out, strings.ToUpper(s))
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func resolveSpan(startDate string) (gather.DateRange, error) {
	start := time.Now().UTC().AddDate(-5, 0, 0)
	if startDate != "" {
		parsed, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return gather.DateRange{}, err
		}
		start = parsed
	}
	return gather.DateRange{Start: start, End: time.Now().UTC()}, nil
}
