package pnl

import (
	"testing"

	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

func d(i int64) decimal.Decimal { return decimal.NewFromInt(i) }

func TestLongRealizedAndUnrealized(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Record(types.BUY, d(100), d(2))
	tr.Record(types.BUY, d(110), d(2))

	snap := tr.Snapshot(d(120))
	if !snap.NetPosition.Equal(d(4)) {
		t.Errorf("net = %s, want 4", snap.NetPosition)
	}
	if !snap.AverageCost.Equal(d(105)) {
		t.Errorf("avg cost = %s, want 105", snap.AverageCost)
	}
	if !snap.UnrealizedPnl.Equal(d(60)) {
		t.Errorf("unrealized = %s, want 60", snap.UnrealizedPnl)
	}

	tr.Record(types.SELL, d(130), d(1))
	snap = tr.Snapshot(d(120))
	if !snap.RealizedPnl.Equal(d(25)) {
		t.Errorf("realized = %s, want 25", snap.RealizedPnl)
	}
	if !snap.NetPosition.Equal(d(3)) {
		t.Errorf("net = %s, want 3", snap.NetPosition)
	}
}

func TestShortPositions(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Record(types.SELL, d(200), d(1))

	snap := tr.Snapshot(d(180))
	if !snap.NetPosition.Equal(d(-1)) {
		t.Errorf("net = %s, want -1", snap.NetPosition)
	}
	if !snap.UnrealizedPnl.Equal(d(20)) {
		t.Errorf("unrealized = %s, want 20", snap.UnrealizedPnl)
	}

	tr.Record(types.BUY, d(190), d(1))
	snap = tr.Snapshot(d(190))
	if !snap.RealizedPnl.Equal(d(10)) {
		t.Errorf("realized = %s, want 10", snap.RealizedPnl)
	}
	if !snap.NetPosition.IsZero() {
		t.Errorf("net = %s, want 0", snap.NetPosition)
	}
	if !snap.AverageCost.IsZero() {
		t.Error("flat position must carry zero average cost")
	}
}

func TestCrossZeroEstablishesNewCost(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Record(types.SELL, d(100), d(2)) // short 2 @ 100
	tr.Record(types.BUY, d(90), d(5))   // cover 2 (+20), open long 3 @ 90

	snap := tr.Snapshot(d(90))
	if !snap.RealizedPnl.Equal(d(20)) {
		t.Errorf("realized = %s, want 20", snap.RealizedPnl)
	}
	if !snap.NetPosition.Equal(d(3)) {
		t.Errorf("net = %s, want 3", snap.NetPosition)
	}
	if !snap.AverageCost.Equal(d(90)) {
		t.Errorf("avg cost = %s, want 90 (fill price after crossing zero)", snap.AverageCost)
	}

	// Mirror: long → short.
	tr2 := NewTracker()
	tr2.Record(types.BUY, d(100), d(1))
	tr2.Record(types.SELL, d(110), d(4)) // close 1 (+10), open short 3 @ 110

	snap = tr2.Snapshot(d(110))
	if !snap.RealizedPnl.Equal(d(10)) {
		t.Errorf("realized = %s, want 10", snap.RealizedPnl)
	}
	if !snap.NetPosition.Equal(d(-3)) {
		t.Errorf("net = %s, want -3", snap.NetPosition)
	}
	if !snap.AverageCost.Equal(d(110)) {
		t.Errorf("avg cost = %s, want 110", snap.AverageCost)
	}
}

func TestZeroPositionZeroCostInvariant(t *testing.T) {
	t.Parallel()

	// Any sequence that nets to zero leaves avg_cost at zero and realized
	// equal to the per-close sum.
	tr := NewTracker()
	tr.Record(types.BUY, d(100), d(5))
	tr.Record(types.SELL, d(105), d(3))
	tr.Record(types.SELL, d(95), d(2))

	snap := tr.Snapshot(d(100))
	if !snap.NetPosition.IsZero() {
		t.Fatalf("net = %s, want 0", snap.NetPosition)
	}
	if !snap.AverageCost.IsZero() {
		t.Error("avg cost must be zero when flat")
	}
	// (105-100)*3 + (95-100)*2 = 15 - 10 = 5
	if !snap.RealizedPnl.Equal(d(5)) {
		t.Errorf("realized = %s, want 5", snap.RealizedPnl)
	}
	if !snap.UnrealizedPnl.IsZero() {
		t.Errorf("unrealized = %s, want 0 when flat", snap.UnrealizedPnl)
	}
}

func TestIgnoresNonPositiveVolume(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Record(types.BUY, d(100), decimal.Zero)
	tr.Record(types.BUY, d(100), d(-1))

	if snap := tr.Snapshot(d(100)); !snap.NetPosition.IsZero() {
		t.Errorf("net = %s, want 0", snap.NetPosition)
	}
}
