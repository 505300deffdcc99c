// Package engine is the central orchestrator of the market-making bot.
//
// It owns the periodic trading tick:
//
//  1. Observe the kill switch; when set, cancel everything and do nothing else.
//  2. Evaluate circuit breakers; a trip sets the kill switch and shuts down.
//  3. Inventory housekeeping (per-wallet balance logging).
//  4. Replay new fills into the PnL tracker exactly once.
//  5. Read the market; fall back to the last pivot, then the live quote
//     price, then the floor.
//  6. Compute the pivot from windowed fills + live cache + quote.
//  7. Publish the PnL snapshot at the current spot.
//  8. If the rebalance policy fires, build and submit a fresh grid.
//  9. Inventory conversions and rent recovery.
//  10. Persist a price-history sample.
//
// Any step that fails aborts the tick at its boundary: the error is counted,
// the loop sleeps the recovery delay, and the next tick starts clean.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/api"
	"openbook-mm/internal/chain"
	"openbook-mm/internal/codec"
	"openbook-mm/internal/config"
	"openbook-mm/internal/grid"
	"openbook-mm/internal/inventory"
	"openbook-mm/internal/metrics"
	"openbook-mm/internal/pivot"
	"openbook-mm/internal/pnl"
	"openbook-mm/internal/rebalance"
	"openbook-mm/internal/rent"
	"openbook-mm/internal/risk"
	"openbook-mm/internal/wallet"
	"openbook-mm/pkg/types"
)

const recoveryDelay = 5 * time.Second

// MarketReader decodes the live order book.
type MarketReader interface {
	GetOrderbook(ctx context.Context, marketID string) (*types.Orderbook, *codec.Market, error)
}

// QuoteSource supplies the aggregator's USD quote and 24h volume.
type QuoteSource interface {
	FetchQuote(ctx context.Context) (*types.MarketUpdate, error)
}

// Store is the persistence surface the loop touches each tick.
type Store interface {
	GetRecentTrades(since int64) ([]types.Trade, error)
	SavePriceTick(basePrice, quotePrice decimal.Decimal) error
}

// OrderExecutor is the submission surface.
type OrderExecutor interface {
	PlaceLevel(ctx context.Context, mkt *codec.Market, signer *chain.Keypair, level types.GridLevel, openOrders, userTokenAccount string) (string, error)
	CancelAll(ctx context.Context, mkt *codec.Market, signer *chain.Keypair, openOrders string) (string, error)
}

// OpenOrdersFinder locates a wallet's order-state account.
type OpenOrdersFinder interface {
	FindOpenOrders(ctx context.Context, owner string) (string, chain.ProgramAccount, error)
}

// Engine wires every subsystem into the trading loop.
type Engine struct {
	cfg       config.Config
	market    MarketReader
	quotes    QuoteSource
	store     Store
	pivotEng  *pivot.Engine
	gridBld   *grid.Builder
	policy    *rebalance.Policy
	tracker   *pnl.Tracker
	ingestor  *pnl.Ingestor
	riskMgr   *risk.Manager
	killSw    *risk.KillSwitch
	inventory *inventory.Manager
	rentSvc   *rent.Recovery
	executor  OrderExecutor
	ooFinder  OpenOrdersFinder
	wallets   *wallet.Registry
	logger    *slog.Logger

	mu        sync.RWMutex
	lastSpot  decimal.Decimal
	lastGrid  []types.GridLevel
	killedNow bool
}

// Deps collects the engine's constructor arguments.
type Deps struct {
	Market    MarketReader
	Quotes    QuoteSource
	Store     Store
	Pivot     *pivot.Engine
	Grid      *grid.Builder
	Policy    *rebalance.Policy
	Tracker   *pnl.Tracker
	Ingestor  *pnl.Ingestor
	Risk      *risk.Manager
	KillSw    *risk.KillSwitch
	Inventory *inventory.Manager
	Rent      *rent.Recovery
	Executor  OrderExecutor
	OOFinder  OpenOrdersFinder
	Wallets   *wallet.Registry
}

// New creates the engine.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		market:    deps.Market,
		quotes:    deps.Quotes,
		store:     deps.Store,
		pivotEng:  deps.Pivot,
		gridBld:   deps.Grid,
		policy:    deps.Policy,
		tracker:   deps.Tracker,
		ingestor:  deps.Ingestor,
		riskMgr:   deps.Risk,
		killSw:    deps.KillSw,
		inventory: deps.Inventory,
		rentSvc:   deps.Rent,
		executor:  deps.Executor,
		ooFinder:  deps.OOFinder,
		wallets:   deps.Wallets,
		logger:    logger.With("component", "engine"),
	}
}

// Run drives the trading loop until ctx is cancelled. Late ticks coalesce:
// there is no catch-up burst after scheduler pressure.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	e.logger.Info("trading loop started",
		"interval", e.cfg.TickInterval(),
		"wallets", e.wallets.Count(),
		"dry_run", e.cfg.DryRun,
	)

	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.Background())
			e.logger.Info("trading loop stopped")
			return
		case <-ticker.C:
		}

		metrics.TicksTotal.Inc()
		if err := e.Tick(ctx); err != nil {
			metrics.TickErrorsTotal.Inc()
			e.logger.Error("tick failed, entering recovery delay", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(recoveryDelay):
			}
		}
	}
}

// Tick runs one pass of the loop body.
func (e *Engine) Tick(ctx context.Context) error {
	// 1. Kill switch gate.
	killed, err := e.killSw.IsSet()
	if err != nil {
		return fmt.Errorf("kill switch read: %w", err)
	}
	if killed {
		e.markKilled(true)
		e.logger.Warn("kill switch set, running shutdown path")
		e.shutdown(ctx)
		return nil
	}
	e.markKilled(false)

	// 2. Circuit breakers.
	since := time.Now().Add(-24 * time.Hour).Unix()
	dayTrades, err := e.store.GetRecentTrades(since)
	if err != nil {
		return fmt.Errorf("daily fills: %w", err)
	}
	snapshot := types.RiskSnapshot{
		DailyLossUSD: risk.EstimateDailyLoss(dayTrades, time.Now().Unix()),
		OpenOrders:   uint32(len(e.snapshotGrid())),
	}
	if reason := e.riskMgr.Evaluate(snapshot); reason != nil {
		e.logger.Error("circuit breaker tripped", "reason", reason.String())
		metrics.KillSwitchTriggers.WithLabelValues(reason.Kind).Inc()
		if err := e.killSw.Trigger(reason.String()); err != nil {
			e.logger.Error("failed to persist kill switch", "error", err)
		}
		e.shutdown(ctx)
		return nil
	}

	// 3. Inventory housekeeping.
	if _, _, err := e.inventory.AggregateBalances(ctx, 2*time.Second); err != nil {
		e.logger.Warn("balance aggregation failed", "error", err)
	}

	// 4. PnL ingestion.
	if applied, err := e.ingestor.Ingest(); err != nil {
		return fmt.Errorf("pnl ingest: %w", err)
	} else if applied > 0 {
		e.logger.Info("fills replayed into pnl tracker", "count", applied)
	}

	// 5. Market read with fallback chain.
	spot, update, mkt := e.readMarket(ctx)
	e.mu.Lock()
	e.lastSpot = spot
	e.mu.Unlock()
	metrics.SolUsdcPrice.Set(metrics.Gauge(spot))

	// 6. Pivot.
	windowTrades, err := e.store.GetRecentTrades(time.Now().Add(-e.cfg.LookbackWindow()).Unix())
	if err != nil {
		return fmt.Errorf("windowed fills: %w", err)
	}
	pivotPrice := e.pivotEng.ComputePivot(windowTrades, update)
	metrics.LastPivotPrice.Set(metrics.Gauge(pivotPrice))

	// 7. PnL snapshot.
	pnlSnap := e.tracker.Snapshot(spot)
	metrics.PublishPnl(pnlSnap)

	// 8. Grid rebuild.
	if e.policy.ShouldRebuild(pivotPrice, spot) {
		e.logger.Info("rebuilding grid", "pivot", pivotPrice, "spot", spot)
		if err := e.rebuildGrid(ctx, pivotPrice, mkt); err != nil {
			return fmt.Errorf("rebuild grid: %w", err)
		}
	}

	// 9. Inventory conversions and rent recovery; failures are logged, never fatal.
	if err := e.inventory.CheckBalances(ctx, spot); err != nil {
		e.logger.Warn("inventory check failed", "error", err)
	}
	if err := e.inventory.RebalanceFiat(ctx, spot, pivotPrice); err != nil {
		e.logger.Warn("inventory rebalance failed", "error", err)
	}
	if control, err := e.inventory.SupplyControl(ctx, e.cfg.Market.BaseMint); err != nil {
		e.logger.Warn("supply control check failed", "error", err)
	} else {
		metrics.TargetControlPercent.Set(metrics.Gauge(control))
	}
	e.rentSvc.Run(ctx)

	// 10. Price history sample.
	if err := e.store.SavePriceTick(spot, decimal.NewFromInt(1)); err != nil {
		e.logger.Warn("failed to save price tick", "error", err)
	}

	return nil
}

// readMarket decodes the live book; on failure it falls back to the last
// pivot, then the fetched quote price when one is available, then the
// configured floor.
func (e *Engine) readMarket(ctx context.Context) (decimal.Decimal, *types.MarketUpdate, *codec.Market) {
	var update *types.MarketUpdate
	if e.quotes != nil {
		if q, err := e.quotes.FetchQuote(ctx); err == nil {
			update = q
		} else {
			e.logger.Warn("quote fetch failed", "error", err)
		}
	}

	book, mkt, err := e.market.GetOrderbook(ctx, e.cfg.Market.MarketID)
	if err == nil {
		if mid, ok := book.Mid(); ok {
			return mid, update, mkt
		}
		err = fmt.Errorf("book has an empty side")
	}
	e.logger.Warn("market read failed, falling back", "error", err)

	if last := e.pivotEng.LastPivot(); last.IsPositive() {
		return last, update, mkt
	}
	if update != nil && update.Price.IsPositive() {
		return update.Price, update, mkt
	}
	return e.cfg.Pivot.FallbackPrice, update, mkt
}

// rebuildGrid builds, publishes, and submits a fresh grid around the pivot.
func (e *Engine) rebuildGrid(ctx context.Context, pivotPrice decimal.Decimal, mkt *codec.Market) error {
	levels := e.gridBld.Build(pivotPrice, e.cfg.Grid.TotalSize)
	if len(levels) == 0 {
		return nil
	}

	if mkt != nil {
		if book, _, err := e.market.GetOrderbook(ctx, e.cfg.Market.MarketID); err == nil {
			levels = e.gridBld.AdjustForCompetition(levels, book, pivotPrice)
		}
	}

	metrics.PublishGrid(levels)

	e.mu.Lock()
	e.lastGrid = levels
	e.mu.Unlock()
	e.policy.RecordGrid(levels)

	if mkt == nil {
		e.logger.Warn("no market descriptor, grid not submitted")
		return nil
	}

	// Levels are distributed round-robin across wallets; submissions are
	// serial per wallet and interleave across wallets.
	wallets := e.wallets.List()
	if len(wallets) == 0 {
		return fmt.Errorf("no wallets to submit with")
	}

	perWallet := make([][]types.GridLevel, len(wallets))
	for i, level := range levels {
		w := i % len(wallets)
		perWallet[w] = append(perWallet[w], level)
	}

	var wg sync.WaitGroup
	for wi, kp := range wallets {
		if len(perWallet[wi]) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.submitWalletLevels(ctx, mkt, kp, perWallet[wi])
		}()
	}
	wg.Wait()
	return nil
}

func (e *Engine) submitWalletLevels(ctx context.Context, mkt *codec.Market, kp *chain.Keypair, levels []types.GridLevel) {
	openOrders, _, err := e.ooFinder.FindOpenOrders(ctx, kp.Pubkey())
	if err != nil {
		e.logger.Warn("open-orders lookup failed", "wallet", kp.Pubkey(), "error", err)
		return
	}

	for _, level := range levels {
		tokenAccount, err := e.tokenAccountFor(kp.Pubkey(), level.Side)
		if err != nil {
			e.logger.Warn("token account derivation failed", "wallet", kp.Pubkey(), "error", err)
			return
		}
		if _, err := e.executor.PlaceLevel(ctx, mkt, kp, level, openOrders, tokenAccount); err != nil {
			e.logger.Warn("level submission failed",
				"wallet", kp.Pubkey(),
				"side", level.Side,
				"price", level.Price,
				"error", err,
			)
		}
	}
}

// tokenAccountFor picks the funding account: buys spend quote, sells spend base.
func (e *Engine) tokenAccountFor(owner string, side types.Side) (string, error) {
	if side == types.BUY {
		return chain.AssociatedTokenAccount(owner, e.cfg.Market.QuoteMint)
	}
	return chain.AssociatedTokenAccount(owner, e.cfg.Market.BaseMint)
}

// shutdown cancels all resting orders for every wallet. Errors are logged;
// the path is best-effort by design.
func (e *Engine) shutdown(ctx context.Context) {
	_, mkt, err := e.market.GetOrderbook(ctx, e.cfg.Market.MarketID)
	if err != nil {
		e.logger.Error("shutdown: market read failed, cannot cancel", "error", err)
		return
	}

	for _, kp := range e.wallets.List() {
		openOrders, _, err := e.ooFinder.FindOpenOrders(ctx, kp.Pubkey())
		if err != nil || openOrders == "" {
			continue
		}
		if _, err := e.executor.CancelAll(ctx, mkt, kp, openOrders); err != nil {
			e.logger.Error("shutdown cancel failed", "wallet", kp.Pubkey(), "error", err)
		}
	}

	e.mu.Lock()
	e.lastGrid = nil
	e.mu.Unlock()
}

func (e *Engine) markKilled(killed bool) {
	e.mu.Lock()
	e.killedNow = killed
	e.mu.Unlock()
}

func (e *Engine) snapshotGrid() []types.GridLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastGrid
}

// ————————————————————————————————————————————————————————————————————————
// Dashboard surfaces
// ————————————————————————————————————————————————————————————————————————

// Stats implements api.StatsSource.
func (e *Engine) Stats() api.Stats {
	e.mu.RLock()
	spot := e.lastSpot
	killed := e.killedNow
	e.mu.RUnlock()

	return api.Stats{
		PivotPrice:       e.pivotEng.LastPivot(),
		SpotPrice:        spot,
		BuyChannelWidth:  e.cfg.Grid.BuyChannelWidth,
		SellChannelWidth: e.cfg.Grid.SellChannelWidth,
		ActiveWallets:    e.wallets.Count(),
		KillSwitchActive: killed,
		DryRun:           e.cfg.DryRun,
		Pnl:              e.tracker.Snapshot(spot),
	}
}

// TriggerKillSwitch implements api.Controller.
func (e *Engine) TriggerKillSwitch(reason string) error {
	metrics.KillSwitchTriggers.WithLabelValues("manual").Inc()
	return e.killSw.Trigger(reason)
}

// ClearKillSwitch implements api.Controller.
func (e *Engine) ClearKillSwitch() error {
	return e.killSw.Clear()
}
