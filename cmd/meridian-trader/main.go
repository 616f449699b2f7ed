package main

import (
	"context"
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
	"meridian/internal/engine"
	"meridian/internal/histdata"
	"meridian/internal/orders"
	"meridian/internal/perf"
	"meridian/internal/portfolio"
	"meridian/internal/strategy"
	"meridian/internal/strategy/builtins"
	"meridian/internal/util"
)

func main() {
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

	registry := strategy.NewRegistry()
	registry.Register(builtins.NewSMACross(20, 50, 1.0))

	strat, ok := registry.Get(cfg.Backtest.Strategy)
	if !ok {
		log.Fatalf("unknown strategy %q (available: %v)", cfg.Backtest.Strategy, registry.List())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := strat.Init(ctx); err != nil {
		log.Fatalf("strategy init failed: %v", err)
	}

	handshake := time.Duration(cfg.Trading.HandshakeTimeout) * time.Second

	queue := engine.NewEventQueue(1024)
	priceBook := book.NewPriceBook()
	ledger := portfolio.NewLedger()
	manager := orders.NewManager(cfg.Trading.Allocation, instruments, queue, priceBook, ledger)
	bridge := broker.NewLiveBridge(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		instruments, queue, ledger, handshake)
	recorder := perf.NewRecorder(strat.Name(), nil, cfg.Trading.RiskFreeRate, nil)

	if err := bridge.Connect(ctx); err != nil {
		log.Fatalf("broker handshake failed: %v", err)
	}

	source := histdata.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		cfg.Data.BatchSize, cfg.Data.RateLimitPerMin)
	poller := histdata.NewPoller(source, queue, cfg.Backtest.Symbols, 15*time.Minute, 5*24*time.Hour)

	pollErr := make(chan error, 1)
	go func() { pollErr <- poller.Run(ctx) }()

	ctrl := engine.NewLiveController(queue, priceBook, strat, manager, bridge, recorder)

	slog.Info("starting live trading",
		"strategy", strat.Name(),
		"symbols", cfg.Backtest.Symbols,
		"broker", cfg.Alpaca.BaseURL)

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.RunLive(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			log.Fatalf("engine error: %v", err)
		}
	case err := <-pollErr:
		if err != nil {
			log.Fatalf("market data poller error: %v", err)
		}
	}
	cancel()
	slog.Info("meridian-trader stopped")
}
