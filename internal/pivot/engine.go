package pivot

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

var secondsPerDay = decimal.NewFromInt(86_400)

// Engine computes the pivot and retains the most recent value for the
// dashboard and as the fallback quote when the market decoder fails.
type Engine struct {
	cfg   config.PivotConfig
	cache *Cache
	start time.Time

	mu   sync.RWMutex
	last decimal.Decimal
}

// NewEngine creates a pivot engine over the given live-fill cache.
func NewEngine(cfg config.PivotConfig, cache *Cache) *Engine {
	return &Engine{
		cfg:   cfg,
		cache: cache,
		start: time.Now(),
	}
}

// Cache exposes the live-fill cache for the ingestor.
func (e *Engine) Cache() *Cache { return e.cache }

// LastPivot returns the most recently computed pivot (zero before the first
// computation).
func (e *Engine) LastPivot() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// ComputePivot runs the full pivot computation against the current cache
// contents and records the result as the last pivot.
func (e *Engine) ComputePivot(historical []types.Trade, update *types.MarketUpdate) decimal.Decimal {
	now := time.Now()
	cached := e.cache.Snapshot(now)
	elapsed := int64(now.Sub(e.start).Seconds())

	p := Compute(e.cfg, historical, cached, update, elapsed)

	e.mu.Lock()
	e.last = p
	e.mu.Unlock()
	return p
}

// Compute is the pure pivot function: a VWAP over the union of historical and
// cached fills (deduplicated by id — the cache may overlap persisted data),
// plus the live quote weighted by its 24h volume, plus a bootstrap term that
// covers the portion of the lookback window not yet elapsed since start-up.
//
// With fee adjustment configured, a fee_bps fraction of the traded volume is
// removed from the denominator and the fixed per-cycle SOL overhead, valued
// at the reference price, is added to the numerator; the pivot then sits
// where a full grid cycle breaks even after fees and rent.
//
// Fallback order on a zero denominator: seed price, live quote price, zero.
func Compute(cfg config.PivotConfig, historical, cached []types.Trade, update *types.MarketUpdate, elapsedSecs int64) decimal.Decimal {
	numerator := decimal.Zero
	denominator := decimal.Zero
	tradedVolume := decimal.Zero

	seen := make(map[string]struct{}, len(historical)+len(cached))
	accumulate := func(trades []types.Trade) {
		for _, t := range trades {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			numerator = numerator.Add(t.Price.Mul(t.Volume))
			denominator = denominator.Add(t.Volume)
			tradedVolume = tradedVolume.Add(t.Volume)
		}
	}
	accumulate(historical)
	accumulate(cached)

	if update != nil {
		numerator = numerator.Add(update.Price.Mul(update.Volume24h))
		denominator = denominator.Add(update.Volume24h)
	}

	// Bootstrap: the part of the window that has not elapsed yet is filled
	// with nominal volume at the seed price.
	remaining := cfg.LookbackWindowSecs - elapsedSecs
	if remaining > 0 && cfg.NominalDailyVolume.IsPositive() {
		seedVolume := cfg.NominalDailyVolume.
			Mul(decimal.NewFromInt(remaining)).
			Div(secondsPerDay)
		numerator = numerator.Add(cfg.SeedPrice.Mul(seedVolume))
		denominator = denominator.Add(seedVolume)
	}

	if cfg.FeeBps > 0 || cfg.CostOverheadSOL.IsPositive() {
		reference := cfg.SeedPrice
		if update != nil && update.Price.IsPositive() {
			reference = update.Price
		}
		numerator = numerator.Add(cfg.CostOverheadSOL.Mul(reference))
		if cfg.FeeBps > 0 {
			fee := tradedVolume.Mul(decimal.New(int64(cfg.FeeBps), -4))
			denominator = denominator.Sub(fee)
		}
	}

	if !denominator.IsPositive() {
		if cfg.SeedPrice.IsPositive() {
			return cfg.SeedPrice
		}
		if update != nil {
			return update.Price
		}
		return decimal.Zero
	}
	return numerator.Div(denominator)
}
