// Package pnl tracks the bot's net position, weighted-average cost, and
// realized/unrealized profit over the fill stream.
package pnl

import (
	"sync"

	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

// Tracker is the stateful accumulator. It is locked exclusively during the
// per-tick replay burst and for snapshots.
type Tracker struct {
	mu          sync.Mutex
	netPosition decimal.Decimal
	averageCost decimal.Decimal
	realizedPnl decimal.Decimal
}

// NewTracker starts an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record applies one fill. Zero or negative volumes are ignored.
func (t *Tracker) Record(side types.Side, price, volume decimal.Decimal) {
	if !volume.IsPositive() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if side == types.BUY {
		t.applyBuy(price, volume)
	} else {
		t.applySell(price, volume)
	}

	if t.netPosition.IsZero() {
		t.averageCost = decimal.Zero
	}
}

func (t *Tracker) applyBuy(price, volume decimal.Decimal) {
	switch {
	case t.netPosition.IsNegative():
		// Cover the short first; the gain is (avg − price) per unit closed.
		cover := decimal.Min(volume, t.netPosition.Abs())
		t.realizedPnl = t.realizedPnl.Add(t.averageCost.Sub(price).Mul(cover))
		t.netPosition = t.netPosition.Add(cover)

		if remaining := volume.Sub(cover); remaining.IsPositive() {
			// Crossed zero: the remainder opens a long at the fill price.
			t.averageCost = price
			t.netPosition = t.netPosition.Add(remaining)
		}
	case t.netPosition.IsZero():
		t.averageCost = price
		t.netPosition = volume
	default:
		total := t.averageCost.Mul(t.netPosition).Add(price.Mul(volume))
		t.netPosition = t.netPosition.Add(volume)
		t.averageCost = total.Div(t.netPosition)
	}
}

func (t *Tracker) applySell(price, volume decimal.Decimal) {
	switch {
	case t.netPosition.IsPositive():
		closed := decimal.Min(volume, t.netPosition)
		t.realizedPnl = t.realizedPnl.Add(price.Sub(t.averageCost).Mul(closed))
		t.netPosition = t.netPosition.Sub(closed)

		if remaining := volume.Sub(closed); remaining.IsPositive() {
			t.averageCost = price
			t.netPosition = t.netPosition.Sub(remaining)
		}
	case t.netPosition.IsZero():
		t.averageCost = price
		t.netPosition = volume.Neg()
	default:
		total := t.averageCost.Mul(t.netPosition.Abs()).Add(price.Mul(volume))
		t.netPosition = t.netPosition.Sub(volume)
		t.averageCost = total.Div(t.netPosition.Abs())
	}
}

// Snapshot returns the current accounting marked at the given spot price.
func (t *Tracker) Snapshot(spot decimal.Decimal) types.PnlSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	unrealized := decimal.Zero
	if t.netPosition.IsPositive() {
		unrealized = spot.Sub(t.averageCost).Mul(t.netPosition)
	} else if t.netPosition.IsNegative() {
		unrealized = t.averageCost.Sub(spot).Mul(t.netPosition.Abs())
	}

	return types.PnlSnapshot{
		RealizedPnl:   t.realizedPnl,
		UnrealizedPnl: unrealized,
		NetPosition:   t.netPosition,
		AverageCost:   t.averageCost,
	}
}
