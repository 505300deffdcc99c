package store

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.SetState("k", "v1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, ok, err := s.GetState("k")
	if err != nil || !ok || got != "v1" {
		t.Fatalf("GetState = (%q, %v, %v), want (v1, true, nil)", got, ok, err)
	}

	// Last writer wins.
	if err := s.SetState("k", "v2"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	got, _, _ = s.GetState("k")
	if got != "v2" {
		t.Errorf("GetState after overwrite = %q, want v2", got)
	}

	_, ok, err = s.GetState("missing")
	if err != nil || ok {
		t.Errorf("GetState(missing) = (_, %v, %v), want (false, nil)", ok, err)
	}

	if err := s.DeleteState("k"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, ok, _ := s.GetState("k"); ok {
		t.Error("state survived DeleteState")
	}
}

func mkTrade(id string, ts int64, price string, side types.Side) types.Trade {
	return types.Trade{
		ID:        id,
		Timestamp: ts,
		Price:     decimal.RequireFromString(price),
		Volume:    decimal.NewFromInt(1),
		Side:      side,
		Wallet:    "w1",
	}
}

func TestTradesOrderedByTimestampThenID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	// Insert deliberately out of order, including two fills at the same second.
	for _, tr := range []types.Trade{
		mkTrade("sig-2", 2000, "110", types.SELL),
		mkTrade("sig-1b", 1000, "101", types.BUY),
		mkTrade("sig-1a", 1000, "100", types.BUY),
	} {
		if err := s.SaveTrade(tr); err != nil {
			t.Fatalf("SaveTrade(%s): %v", tr.ID, err)
		}
	}

	trades, err := s.GetRecentTrades(0)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	wantIDs := []string{"sig-1a", "sig-1b", "sig-2"}
	if len(trades) != len(wantIDs) {
		t.Fatalf("got %d trades, want %d", len(trades), len(wantIDs))
	}
	for i, id := range wantIDs {
		if trades[i].ID != id {
			t.Errorf("trades[%d].ID = %s, want %s", i, trades[i].ID, id)
		}
	}
	if !trades[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price round-trip = %s, want 100", trades[0].Price)
	}
	if trades[0].Side != types.BUY {
		t.Errorf("side round-trip = %s, want BUY", trades[0].Side)
	}
}

func TestSaveTradeIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	tr := mkTrade("dup", 1000, "100", types.BUY)
	if err := s.SaveTrade(tr); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	// Re-save with a different price: no-op, original kept.
	tr2 := tr
	tr2.Price = decimal.NewFromInt(999)
	if err := s.SaveTrade(tr2); err != nil {
		t.Fatalf("SaveTrade duplicate: %v", err)
	}

	trades, err := s.GetRecentTrades(0)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if !trades[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("duplicate save overwrote price: %s", trades[0].Price)
	}
}

func TestGetRecentTradesWindow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_ = s.SaveTrade(mkTrade("old", 500, "90", types.BUY))
	_ = s.SaveTrade(mkTrade("new", 1500, "110", types.SELL))

	trades, err := s.GetRecentTrades(1000)
	if err != nil {
		t.Fatalf("GetRecentTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != "new" {
		t.Errorf("window query returned %v, want just 'new'", trades)
	}
}

func TestPriceTickMinuteBucketing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	base := decimal.NewFromInt(150)
	quote := decimal.NewFromInt(1)

	// Two saves inside the same minute bucket collapse to one row.
	if err := s.savePriceTickAt(120, base, quote); err != nil {
		t.Fatalf("savePriceTickAt: %v", err)
	}
	if err := s.savePriceTickAt(120, decimal.NewFromInt(151), quote); err != nil {
		t.Fatalf("savePriceTickAt: %v", err)
	}
	if err := s.savePriceTickAt(180, decimal.NewFromInt(152), quote); err != nil {
		t.Fatalf("savePriceTickAt: %v", err)
	}

	ticks, err := s.GetPriceHistory(0)
	if err != nil {
		t.Fatalf("GetPriceHistory: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}
	if !ticks[0].BasePrice.Equal(base) {
		t.Errorf("first sample in bucket should win, got %s", ticks[0].BasePrice)
	}
}

func TestHistoricalTickBulkLoad(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	ticks := []types.PriceTick{
		{Timestamp: 60, BasePrice: decimal.NewFromInt(100), QuotePrice: decimal.NewFromInt(1)},
		{Timestamp: 120, BasePrice: decimal.NewFromInt(101), QuotePrice: decimal.NewFromInt(1)},
		{Timestamp: 125, BasePrice: decimal.NewFromInt(999), QuotePrice: decimal.NewFromInt(1)}, // same bucket as 120
	}
	if err := s.SaveHistoricalPriceTicks(ticks); err != nil {
		t.Fatalf("SaveHistoricalPriceTicks: %v", err)
	}

	got, err := s.GetPriceHistory(0)
	if err != nil {
		t.Fatalf("GetPriceHistory: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d ticks, want 2 (same-bucket collapse)", len(got))
	}
}

func TestWalletPersistence(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.SaveWallet("pk1", "secret1"); err != nil {
		t.Fatalf("SaveWallet: %v", err)
	}
	if err := s.SaveWallet("pk2", "secret2"); err != nil {
		t.Fatalf("SaveWallet: %v", err)
	}

	wallets, err := s.GetWallets()
	if err != nil {
		t.Fatalf("GetWallets: %v", err)
	}
	if len(wallets) != 2 {
		t.Fatalf("got %d wallets, want 2", len(wallets))
	}
	if wallets[0][0] != "pk1" || wallets[0][1] != "secret1" {
		t.Errorf("wallet[0] = %v", wallets[0])
	}
}

func TestLatencyHistory(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_ = s.SaveLatencyReport(types.LatencyTick{Timestamp: 100, Service: "rpc", LatencyMs: 12, Status: "HEALTHY"})
	_ = s.SaveLatencyReport(types.LatencyTick{Timestamp: 200, Service: "rpc", LatencyMs: 40, Status: "DEGRADED"})
	_ = s.SaveLatencyReport(types.LatencyTick{Timestamp: 200, Service: "relay", LatencyMs: 9, Status: "HEALTHY"})

	ticks, err := s.GetLatencyHistory("rpc", 150)
	if err != nil {
		t.Fatalf("GetLatencyHistory: %v", err)
	}
	if len(ticks) != 1 || ticks[0].LatencyMs != 40 {
		t.Errorf("latency filter wrong: %v", ticks)
	}
}
