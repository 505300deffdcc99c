package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/pivot"
	"openbook-mm/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	saved  []types.Trade
	stored []types.Trade
}

func (f *fakeSink) SaveTrade(t types.Trade) error {
	f.saved = append(f.saved, t)
	return nil
}

func (f *fakeSink) GetRecentTrades(since int64) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range f.stored {
		if t.Timestamp >= since {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestParseFillLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		line       string
		wantOK     bool
		wantPrice  string
		wantVolume string
		wantSide   types.Side
	}{
		{
			name:       "colon form",
			line:       "Program log: FillEvent { maker: x, price: 150.25, volume: 3.5, side: Sell }",
			wantOK:     true,
			wantPrice:  "150.25",
			wantVolume: "3.5",
			wantSide:   types.SELL,
		},
		{
			name:       "equals form with quantity",
			line:       "Program log: TradeEvent price=99.5 quantity=12 side=1",
			wantOK:     true,
			wantPrice:  "99.5",
			wantVolume: "12",
			wantSide:   types.SELL,
		},
		{
			name:       "buy marker",
			line:       "Program log: FillEvent { price: 100, volume: 1, side: Buy }",
			wantOK:     true,
			wantPrice:  "100",
			wantVolume: "1",
			wantSide:   types.BUY,
		},
		{
			name:       "numeric side zero is a buy",
			line:       "Program log: FillEvent { price: 100, volume: 1, side: 0 }",
			wantOK:     true,
			wantPrice:  "100",
			wantVolume: "1",
			wantSide:   types.BUY,
		},
		{
			name:   "missing volume",
			line:   "Program log: FillEvent { price: 100 }",
			wantOK: false,
		},
		{
			name:   "missing price",
			line:   "Program log: FillEvent { volume: 5 }",
			wantOK: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade, ok := ParseFillLine(tc.line, "sig-0", 1000)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if !trade.Price.Equal(decimal.RequireFromString(tc.wantPrice)) {
				t.Errorf("price = %s, want %s", trade.Price, tc.wantPrice)
			}
			if !trade.Volume.Equal(decimal.RequireFromString(tc.wantVolume)) {
				t.Errorf("volume = %s, want %s", trade.Volume, tc.wantVolume)
			}
			if trade.Side != tc.wantSide {
				t.Errorf("side = %s, want %s", trade.Side, tc.wantSide)
			}
			if trade.ID != "sig-0" || trade.Timestamp != 1000 {
				t.Errorf("identity = (%s, %d)", trade.ID, trade.Timestamp)
			}
		})
	}
}

func notification(signature string, logs ...string) []byte {
	note := map[string]interface{}{
		"method": "logsNotification",
		"params": map[string]interface{}{
			"result": map[string]interface{}{
				"value": map[string]interface{}{
					"signature": signature,
					"logs":      logs,
				},
			},
		},
	}
	raw, _ := json.Marshal(note)
	return raw
}

func newIngestor(sink *fakeSink) (*Ingestor, *pivot.Cache) {
	cache := pivot.NewCache(time.Hour)
	in := New("ws://unused", "prog111", time.Hour, sink, cache, quietLogger())
	return in, cache
}

func TestHandleMessagePersistsThenCaches(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	in, cache := newIngestor(sink)

	msg := notification("sig123",
		"Program invoke [1]",
		"Program log: FillEvent { price: 150, volume: 2, side: Buy }",
		"Program log: FillEvent { price: 151, volume: 1, side: Sell }",
		"Program success",
	)
	if err := in.handleMessage(msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	if len(sink.saved) != 2 {
		t.Fatalf("saved %d trades, want 2", len(sink.saved))
	}
	// Ids are <signature>-<index>.
	if sink.saved[0].ID != "sig123-0" || sink.saved[1].ID != "sig123-1" {
		t.Errorf("ids = %s, %s", sink.saved[0].ID, sink.saved[1].ID)
	}
	if got := cache.Snapshot(time.Now()); len(got) != 2 {
		t.Errorf("cache holds %d trades, want 2", len(got))
	}
}

func TestHandleMessageIgnoresUnrelatedTraffic(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	in, cache := newIngestor(sink)

	// Subscription confirmation.
	if err := in.handleMessage([]byte(`{"jsonrpc":"2.0","result":99,"id":1}`)); err != nil {
		t.Errorf("confirmation: %v", err)
	}
	// Notification without fill markers.
	if err := in.handleMessage(notification("sig", "Program log: Instruction: Settle")); err != nil {
		t.Errorf("non-fill logs: %v", err)
	}
	// Garbage is an error but must be survivable.
	if err := in.handleMessage([]byte("not json")); err == nil {
		t.Error("garbage should error")
	}

	if len(sink.saved) != 0 || cache.Len() != 0 {
		t.Error("unrelated traffic produced trades")
	}
}

func TestHandleMessagePersistFailureSkipsCache(t *testing.T) {
	t.Parallel()

	sink := &failingSink{}
	cache := pivot.NewCache(time.Hour)
	in := New("ws://unused", "prog", time.Hour, sink, cache, quietLogger())

	msg := notification("sig", "Program log: FillEvent { price: 1, volume: 1 }")
	if err := in.handleMessage(msg); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if cache.Len() != 0 {
		t.Error("cache holds a trade the store never saw")
	}
}

type failingSink struct{}

func (f *failingSink) SaveTrade(types.Trade) error { return fmt.Errorf("db down") }
func (f *failingSink) GetRecentTrades(int64) ([]types.Trade, error) {
	return nil, nil
}

func TestSeedCacheUsesWindow(t *testing.T) {
	t.Parallel()

	now := time.Now().Unix()
	sink := &fakeSink{stored: []types.Trade{
		{ID: "old", Timestamp: now - 7200, Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)},
		{ID: "recent", Timestamp: now - 60, Price: decimal.NewFromInt(2), Volume: decimal.NewFromInt(1)},
	}}
	in, cache := newIngestor(sink)

	if err := in.seedCache(); err != nil {
		t.Fatalf("seedCache: %v", err)
	}
	got := cache.Snapshot(time.Now())
	if len(got) != 1 || got[0].ID != "recent" {
		t.Errorf("seeded cache = %v, want just 'recent'", got)
	}
}
