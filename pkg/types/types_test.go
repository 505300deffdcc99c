package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideWire(t *testing.T) {
	t.Parallel()

	if got := BUY.Wire(); got != 0 {
		t.Errorf("BUY.Wire() = %d, want 0", got)
	}
	if got := SELL.Wire(); got != 1 {
		t.Errorf("SELL.Wire() = %d, want 1", got)
	}
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Side
	}{
		{"buy", BUY},
		{"Buy", BUY},
		{"BUY", BUY},
		{"0", BUY},
		{"sell", SELL},
		{"SELL", SELL},
		{"1", SELL},
		{"garbage", SELL}, // ambiguous defaults to SELL
		{"", SELL},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseSide(tc.in); got != tc.want {
				t.Errorf("ParseSide(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTradeBefore(t *testing.T) {
	t.Parallel()

	a := Trade{ID: "a", Timestamp: 100}
	b := Trade{ID: "b", Timestamp: 100}
	c := Trade{ID: "a", Timestamp: 200}

	if !a.Before(b) {
		t.Error("same timestamp: id 'a' should precede 'b'")
	}
	if b.Before(a) {
		t.Error("same timestamp: id 'b' should not precede 'a'")
	}
	if !a.Before(c) {
		t.Error("earlier timestamp should precede later")
	}
	if a.Before(a) {
		t.Error("a trade should not precede itself")
	}
}

func TestOrderbookMid(t *testing.T) {
	t.Parallel()

	ob := &Orderbook{
		Bids: []OrderbookLevel{{Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(1)}},
		Asks: []OrderbookLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	}
	mid, ok := ob.Mid()
	if !ok {
		t.Fatal("Mid() not ok with both sides populated")
	}
	if !mid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("mid = %s, want 100", mid)
	}

	empty := &Orderbook{Asks: ob.Asks}
	if _, ok := empty.Mid(); ok {
		t.Error("Mid() should be false with an empty bid side")
	}
}
