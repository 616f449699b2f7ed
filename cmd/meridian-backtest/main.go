package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"meridian/internal/book"
	"meridian/internal/broker"
	"meridian/internal/config"
	"meridian/internal/domain"
	"meridian/internal/engine"
	"meridian/internal/histdata"
	"meridian/internal/orders"
	"meridian/internal/perf"
	"meridian/internal/portfolio"
	"meridian/internal/store"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

func main() {
	download := flag.Bool("download", false, "fetch bars from Alpaca into the local store before running")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfgPath := "config/meridian.yaml"
	if p := os.Getenv("MERIDIAN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	instruments, err := cfg.InstrumentMap()
	if err != nil {
		log.Fatalf("invalid instrument config: %v", err)
	}

	start, err := time.Parse("2006-01-02", cfg.Backtest.StartDate)
	if err != nil {
		log.Fatalf("invalid backtest start_date: %v", err)
	}
	end, err := time.Parse("2006-01-02", cfg.Backtest.EndDate)
	if err != nil {
		log.Fatalf("invalid backtest end_date: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	if *download {
		if err := downloadBars(ctx, cfg, pstore, start, end); err != nil {
			log.Fatalf("bar download failed: %v", err)
		}
	}

	source := histdata.NewStoreSource(pstore)
	bars, err := source.GetBarData(ctx, cfg.Backtest.Symbols, start, end)
	if err != nil {
		log.Fatalf("failed to load bars: %v", err)
	}
	if len(bars) == 0 {
		log.Fatalf("no bar data for %v in %s..%s (run with -download?)",
			cfg.Backtest.Symbols, cfg.Backtest.StartDate, cfg.Backtest.EndDate)
	}

	var benchmark []domain.Bar
	if cfg.Backtest.Benchmark != "" {
		benchmark, err = source.GetBenchmarkData(ctx, cfg.Backtest.Benchmark, start, end)
		if err != nil {
			log.Fatalf("failed to load benchmark %s: %v", cfg.Backtest.Benchmark, err)
		}
	}

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewSMACross(20, 50, 1.0))

	strat, ok := registry.Get(cfg.Backtest.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (available: %v)", cfg.Backtest.Strategy, registry.List())
	}
	if err := strat.Init(ctx); err != nil {
		log.Fatalf("strategy init failed: %v", err)
	}

	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open results store: %v", err)
	}
	defer results.Close()

	queue := engine.NewEventQueue(1024)
	priceBook := book.NewPriceBook()
	ledger := portfolio.NewLedger()
	sim := broker.NewSimBroker(instruments, cfg.Trading.Capital, cfg.Trading.SlippageFactor, queue, priceBook, ledger)
	manager := orders.NewManager(cfg.Trading.Allocation, instruments, queue, priceBook, ledger)
	feed := histdata.NewFeed(bars)
	recorder := perf.NewRecorder(strat.Name(), benchmark, cfg.Trading.RiskFreeRate, results)

	ctrl := engine.NewBacktestController(queue, priceBook, strat, manager, sim, feed, recorder)

	slog.Info("starting backtest",
		"strategy", strat.Name(),
		"symbols", cfg.Backtest.Symbols,
		"start", cfg.Backtest.StartDate,
		"end", cfg.Backtest.EndDate,
		"capital", cfg.Trading.Capital)

	if err := ctrl.RunBacktest(ctx); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	printSummary(recorder.Result())
}

// downloadBars fetches daily bars for the configured universe (plus the
// benchmark) and writes them into the local Parquet store.
func downloadBars(ctx context.Context, cfg *config.Config, pstore *store.ParquetStore, start, end time.Time) error {
	src := histdata.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		cfg.Data.BatchSize, cfg.Data.RateLimitPerMin)

	symbols := append([]string{}, cfg.Backtest.Symbols...)
	if cfg.Backtest.Benchmark != "" {
		symbols = append(symbols, cfg.Backtest.Benchmark)
	}

	bars, err := src.GetBarData(ctx, symbols, start, end)
	if err != nil {
		return err
	}
	for symbol, symbolBars := range bars {
		if err := pstore.WriteBars(ctx, symbolBars); err != nil {
			return fmt.Errorf("write %s: %w", symbol, err)
		}
		slog.Info("stored bars", "symbol", symbol, "count", len(symbolBars))
	}
	return nil
}

func printSummary(run *store.BacktestRun) {
	if run == nil {
		return
	}
	fmt.Printf("\nbacktest %s (%s)\n", run.ID, run.Strategy)
	fmt.Printf("  %s .. %s\n", run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	for _, key := range []string{
		"net_profit", "total_return", "max_drawdown", "sharpe_ratio", "sortino_ratio",
		"annual_std_dev", "alpha", "beta", "total_trades", "percent_profitable",
		"profit_factor", "pnl_ratio", "total_fees", "ending_equity",
	} {
		if v, ok := run.Stats[key]; ok {
			fmt.Printf("  %-20s %12.4f\n", key, v)
		}
	}
}
