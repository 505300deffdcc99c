package pivot

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

func fill(id string, ts int64, price, volume int64) types.Trade {
	return types.Trade{
		ID:        id,
		Timestamp: ts,
		Price:     decimal.NewFromInt(price),
		Volume:    decimal.NewFromInt(volume),
		Side:      types.BUY,
		Wallet:    "w1",
	}
}

func baseCfg() config.PivotConfig {
	return config.PivotConfig{
		LookbackWindowSecs: 864_000, // 10 days
		SeedPrice:          decimal.NewFromInt(100),
		NominalDailyVolume: decimal.NewFromInt(10),
	}
}

func TestComputePureVWAP(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	historical := []types.Trade{
		fill("1", 1000, 100, 10),
		fill("2", 2000, 110, 10),
	}

	// Elapsed beyond the window: seed weight fully faded.
	got := Compute(cfg, historical, nil, nil, cfg.LookbackWindowSecs)
	if !got.Equal(decimal.NewFromInt(105)) {
		t.Errorf("pivot = %s, want 105", got)
	}
}

func TestComputeSeedBootstrap(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	historical := []types.Trade{fill("1", 1000, 120, 50)}

	// 5 of 10 days elapsed: seed volume = 10 * 5 = 50.
	// pivot = (120*50 + 100*50) / (50+50) = 110
	got := Compute(cfg, historical, nil, nil, 432_000)
	if !got.Equal(decimal.NewFromInt(110)) {
		t.Errorf("pivot = %s, want 110", got)
	}
}

func TestComputeCacheDedup(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	cfg.NominalDailyVolume = decimal.Zero // isolate the dedup

	same := fill("dup-1", 1000, 150, 10)
	got := Compute(cfg, []types.Trade{same}, []types.Trade{same}, nil, 0)
	if !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("pivot = %s, want 150 (fill counted once)", got)
	}
}

func TestComputeIncludesLiveQuote(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	cfg.NominalDailyVolume = decimal.Zero

	historical := []types.Trade{fill("1", 1000, 100, 10)}
	update := &types.MarketUpdate{
		Price:     decimal.NewFromInt(120),
		Volume24h: decimal.NewFromInt(10),
	}

	// (100*10 + 120*10) / 20 = 110
	got := Compute(cfg, historical, nil, update, cfg.LookbackWindowSecs)
	if !got.Equal(decimal.NewFromInt(110)) {
		t.Errorf("pivot = %s, want 110", got)
	}
}

func TestComputeFallbackChain(t *testing.T) {
	t.Parallel()

	// Zero denominator, seed set: seed wins.
	cfg := baseCfg()
	cfg.NominalDailyVolume = decimal.Zero
	got := Compute(cfg, nil, nil, nil, 0)
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fallback to seed = %s, want 100", got)
	}

	// No seed, live quote with zero volume: quote price wins.
	cfg.SeedPrice = decimal.Zero
	update := &types.MarketUpdate{Price: decimal.NewFromInt(150)}
	got = Compute(cfg, nil, nil, update, 0)
	if !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("fallback to quote = %s, want 150", got)
	}

	// Nothing at all: zero.
	got = Compute(cfg, nil, nil, nil, 0)
	if !got.IsZero() {
		t.Errorf("fallback to zero = %s", got)
	}
}

func TestComputeDeterministic(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	historical := []types.Trade{
		fill("1", 1000, 100, 3),
		fill("2", 1500, 103, 7),
	}
	update := &types.MarketUpdate{
		Price:     decimal.NewFromInt(101),
		Volume24h: decimal.NewFromInt(5),
	}

	first := Compute(cfg, historical, nil, update, 100_000)
	for i := 0; i < 10; i++ {
		if got := Compute(cfg, historical, nil, update, 100_000); !got.Equal(first) {
			t.Fatalf("non-deterministic pivot: %s != %s", got, first)
		}
	}
}

func TestComputeFeeAdjustedVariant(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	cfg.NominalDailyVolume = decimal.Zero
	cfg.FeeBps = 100 // 1%
	cfg.CostOverheadSOL = decimal.NewFromInt(2)

	historical := []types.Trade{fill("1", 1000, 100, 100)}

	// numerator = 100*100 + 2*seed(100) = 10200
	// denominator = 100 - 100*0.01 = 99
	got := Compute(cfg, historical, nil, nil, cfg.LookbackWindowSecs)
	want := decimal.NewFromInt(10_200).Div(decimal.NewFromInt(99))
	if !got.Equal(want) {
		t.Errorf("fee-adjusted pivot = %s, want %s", got, want)
	}

	// The adjustment shifts the pivot above the raw VWAP.
	if !got.GreaterThan(decimal.NewFromInt(100)) {
		t.Error("fee adjustment should raise the pivot above the raw VWAP")
	}
}

func TestCachePrunesByTime(t *testing.T) {
	t.Parallel()

	c := NewCache(15 * time.Minute)
	now := time.Now()

	c.Record(fill("old", now.Add(-time.Hour).Unix(), 100, 1))
	c.Record(fill("new", now.Unix(), 101, 1))

	got := c.Snapshot(now)
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("Snapshot = %v, want just 'new'", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len after prune = %d, want 1", c.Len())
	}
}

func TestCacheSingleStaleEntryEmptiesOnNextRead(t *testing.T) {
	t.Parallel()

	c := NewCache(time.Minute)
	now := time.Now()
	c.Record(fill("stale", now.Add(-2*time.Minute).Unix(), 100, 1))

	if got := c.Snapshot(now); len(got) != 0 {
		t.Errorf("Snapshot = %v, want empty", got)
	}
}

func TestCacheSeedReplaces(t *testing.T) {
	t.Parallel()

	c := NewCache(time.Hour)
	now := time.Now()
	c.Record(fill("a", now.Unix(), 100, 1))

	c.Seed([]types.Trade{
		fill("b", now.Unix(), 101, 1),
		fill("c", now.Unix(), 102, 1),
	})

	got := c.Snapshot(now)
	if len(got) != 2 || got[0].ID != "b" {
		t.Errorf("Seed did not replace contents: %v", got)
	}
}

func TestEngineRecordsLastPivot(t *testing.T) {
	t.Parallel()

	cfg := baseCfg()
	e := NewEngine(cfg, NewCache(time.Hour))

	if !e.LastPivot().IsZero() {
		t.Error("LastPivot should start at zero")
	}

	p := e.ComputePivot(nil, &types.MarketUpdate{
		Price:     decimal.NewFromInt(140),
		Volume24h: decimal.NewFromInt(10),
	})
	if !e.LastPivot().Equal(p) {
		t.Errorf("LastPivot = %s, want %s", e.LastPivot(), p)
	}
}
