// OpenBook Market Maker — an automated grid market-making bot for a single
// on-chain order-book market.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires subsystems, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: the periodic trading tick (risk → pivot → grid → bundles)
//	pivot/               — windowed VWAP pivot with live-fill cache and bootstrap seed
//	grid/                — exponentially-weighted two-sided ladder with front-run adjustment
//	pnl/                 — net position, weighted-average cost, exactly-once fill replay
//	risk/                — circuit breakers and the file/shared-key kill switch
//	rebalance/           — grid rebuild policy (first tick, resync, drift, proximity)
//	inventory/           — base/quote envelope via the swap aggregator
//	ingest/              — program-log stream → durable fills → pivot cache
//	executor/            — place/cancel/tip bundles through the block-builder relay
//	rent/                — empty order-state account detection and closing
//	codec/               — market-state and book-side binary decoding, instruction encoding
//	chain/               — JSON-RPC client, keys, transaction assembly
//	store/               — SQLite persistence (fills, price history, state, wallets)
//	api/                 — dashboard HTTP API (login, stats, history, control, simulation)
//	metrics/             — Prometheus exposition
//	health/              — periodic upstream connectivity checks
//
// How it makes money:
//
//	The bot rests a ladder of buys below and sells above a fair-value pivot
//	(a volume-weighted average of recent fills). When price oscillates
//	through the ladder, both sides fill and the bot earns the spacing.
//	Inventory conversions keep enough of each asset on hand to keep quoting,
//	and the kill switch flattens everything when limits are breached.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"openbook-mm/internal/aggregator"
	"openbook-mm/internal/api"
	"openbook-mm/internal/chain"
	"openbook-mm/internal/config"
	"openbook-mm/internal/engine"
	"openbook-mm/internal/executor"
	"openbook-mm/internal/grid"
	"openbook-mm/internal/health"
	"openbook-mm/internal/ingest"
	"openbook-mm/internal/inventory"
	"openbook-mm/internal/metrics"
	"openbook-mm/internal/pivot"
	"openbook-mm/internal/pnl"
	"openbook-mm/internal/rebalance"
	"openbook-mm/internal/rent"
	"openbook-mm/internal/risk"
	"openbook-mm/internal/sim"
	"openbook-mm/internal/store"
	"openbook-mm/internal/swap"
	"openbook-mm/internal/wallet"
	"openbook-mm/pkg/types"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	logger.Debug("configuration loaded", "config", fmt.Sprintf("%+v", cfg.Redacted()))

	// Persistence
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Wallets: configured secrets plus any persisted through the dashboard.
	secrets := cfg.Wallets.Secrets
	if persisted, err := st.GetWallets(); err == nil {
		for _, pair := range persisted {
			secrets = append(secrets, pair[1])
		}
	} else {
		logger.Warn("failed to load persisted wallets", "error", err)
	}
	registry := wallet.NewRegistry(secrets, st, logger)
	if registry.Count() == 0 {
		logger.Error("no usable wallets")
		os.Exit(1)
	}

	// Chain plumbing
	rpc := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.Commitment, logger)
	relay := executor.NewRelay(cfg.Bundle.RelayURL, logger)
	exec := executor.New(cfg.Bundle, cfg.DryRun, cfg.Market.MarketID, cfg.Chain.ProgramID, relay, rpc, logger)
	prices := aggregator.NewClient("")
	swapper := swap.NewClient(cfg.Swap, rpc, logger)

	// Engines
	cache := pivot.NewCache(cfg.LookbackWindow())
	pivotEng := pivot.NewEngine(cfg.Pivot, cache)
	gridBld := grid.NewBuilder(cfg.Grid)
	policy := rebalance.NewPolicy(cfg.Grid)
	tracker := pnl.NewTracker()
	ingestor := pnl.NewIngestor(tracker, st, st)
	riskMgr := risk.NewManager(cfg.Risk)
	killSw := risk.NewKillSwitch(cfg.KillSw, st)
	inv := inventory.NewManager(cfg.Inventory, cfg.Grid, cfg.Market.QuoteMint, rpc, rpc, swapper, registry, logger)
	rentSvc := rent.New(cfg.Chain.ProgramID, cfg.Market.MarketID, rpc, exec, registry, logger)

	// Startup health gate
	checker := health.New(rpc, st, func(ctx context.Context) error {
		_, err := rpc.GetMarket(ctx, cfg.Market.MarketID)
		return err
	}, cfg.Bundle.RelayURL, cfg.Bundle.Enabled, logger)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	reports := checker.RunAll(startupCtx)
	startupCancel()
	if err := health.VerifyCritical(reports); err != nil {
		logger.Error("startup health check failed", "error", err)
		os.Exit(1)
	}

	// Seed price history on first boot.
	seedPriceHistory(cfg, st, prices, logger)

	eng := engine.New(*cfg, engine.Deps{
		Market:    rpc,
		Quotes:    &quoteSource{prices: prices, pair: cfg.Market.PairAddress},
		Store:     st,
		Pivot:     pivotEng,
		Grid:      gridBld,
		Policy:    policy,
		Tracker:   tracker,
		Ingestor:  ingestor,
		Risk:      riskMgr,
		KillSw:    killSw,
		Inventory: inv,
		Rent:      rentSvc,
		Executor:  exec,
		OOFinder:  rentSvc,
		Wallets:   registry,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Fill ingestor
	streamer := ingest.New(cfg.Chain.WSURL, cfg.Chain.ProgramID, cfg.LookbackWindow(), st, cache, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := streamer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("ingestor stopped", "error", err)
		}
	}()

	// Periodic health checks
	if cfg.Health.IntervalSecs > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checker.Run(ctx, time.Duration(cfg.Health.IntervalSecs)*time.Second)
		}()
	}

	// Metrics exposition
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Port); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics exporter started", "port", cfg.Metrics.Port)
	}

	// Dashboard
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		auth := api.NewAuth(cfg.Dashboard.PasswordHash)
		simEng := sim.NewEngine(gridBld)
		handlers := api.NewHandlers(auth, eng, st, registry, eng, simEng, logger)
		apiServer = api.NewServer(cfg.Dashboard, auth, handlers, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	// Trading loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no bundles will leave the process")
	}

	logger.Info("market maker started",
		"market", cfg.Market.MarketID,
		"orders_per_side", cfg.Grid.OrdersPerSide,
		"tick_interval", cfg.TickInterval(),
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
}

// quoteSource adapts the price aggregator to the engine's quote interface.
type quoteSource struct {
	prices *aggregator.Client
	pair   string
}

func (q *quoteSource) FetchQuote(ctx context.Context) (*types.MarketUpdate, error) {
	if q.pair == "" {
		return nil, fmt.Errorf("no pair address configured")
	}
	quote, err := q.prices.FetchPair(ctx, q.pair)
	if err != nil {
		return nil, err
	}
	return &types.MarketUpdate{
		Timestamp: time.Now().Unix(),
		Price:     quote.PriceUSD,
		Volume24h: quote.Volume24h,
	}, nil
}

// seedPriceHistory backfills the price-history table from the aggregator's
// kline series when the table is empty.
func seedPriceHistory(cfg *config.Config, st *store.Store, prices *aggregator.Client, logger *slog.Logger) {
	if cfg.Market.PairAddress == "" {
		return
	}
	existing, err := st.GetPriceHistory(time.Now().Add(-24 * time.Hour).Unix())
	if err != nil || len(existing) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ticks, err := prices.FetchSeedHistory(ctx, cfg.Market.PairAddress, time.Now().Add(-24*time.Hour).Unix())
	if err != nil {
		logger.Warn("price history seed failed", "error", err)
		return
	}
	if err := st.SaveHistoricalPriceTicks(ticks); err != nil {
		logger.Warn("price history seed write failed", "error", err)
		return
	}
	logger.Info("price history seeded", "samples", len(ticks))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
