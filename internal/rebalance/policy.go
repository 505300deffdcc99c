// Package rebalance decides when the resting grid must be torn down and
// rebuilt: on first tick, on the mandatory resync interval, on pivot drift
// past the threshold, and when spot drifts into proximity of a resting level.
package rebalance

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// Policy holds the rebuild decision state. The three cells are guarded by
// fine-grained locks acquired in the fixed order
// lastRebuild → lastPivot → lastGrid; the order is a contract, not an
// implementation detail — it is what keeps concurrent deciders cycle-free.
type Policy struct {
	cfg config.GridConfig
	now func() time.Time

	rebuildMu   sync.Mutex
	lastRebuild time.Time
	hasRebuilt  bool

	pivotMu   sync.Mutex
	lastPivot decimal.Decimal

	gridMu   sync.Mutex
	lastGrid []types.GridLevel
}

// NewPolicy creates a rebuild policy.
func NewPolicy(cfg config.GridConfig) *Policy {
	return &Policy{cfg: cfg, now: time.Now}
}

// ShouldRebuild reports whether the grid must be rebuilt for the given pivot
// and spot. A true return has already recorded the new pivot and rebuild
// time; recording the freshly built grid (RecordGrid) is the caller's duty.
// A rebuild that subsequently fails to publish still leaves lastPivot
// advanced, so a noisy pivot cannot force short-interval retries.
func (p *Policy) ShouldRebuild(pivot, spot decimal.Decimal) bool {
	now := p.now()

	// 1 & 2: first tick, or mandatory resync elapsed.
	p.rebuildMu.Lock()
	if !p.hasRebuilt {
		p.markRebuildLocked(now, pivot)
		p.rebuildMu.Unlock()
		return true
	}
	if p.cfg.MandatoryResyncSecs > 0 &&
		now.Sub(p.lastRebuild) >= time.Duration(p.cfg.MandatoryResyncSecs)*time.Second {
		p.markRebuildLocked(now, pivot)
		p.rebuildMu.Unlock()
		return true
	}
	p.rebuildMu.Unlock()

	// 3: pivot drift beyond the threshold.
	threshold := p.cfg.RebalanceThresholdPercent.Div(hundred)
	p.pivotMu.Lock()
	last := p.lastPivot
	p.pivotMu.Unlock()
	if last.IsPositive() {
		drift := pivot.Sub(last).Abs().Div(last)
		if drift.GreaterThan(threshold) {
			p.record(now, pivot)
			return true
		}
	} else if !pivot.IsZero() {
		p.record(now, pivot)
		return true
	}

	// 4: spot drifted into proximity of a resting level.
	if p.cfg.ProximityThreshold.IsPositive() {
		p.gridMu.Lock()
		grid := p.lastGrid
		p.gridMu.Unlock()
		for _, level := range grid {
			if level.Price.IsZero() {
				continue
			}
			distance := spot.Sub(level.Price).Abs().Div(level.Price)
			if distance.LessThan(p.cfg.ProximityThreshold) {
				p.record(now, pivot)
				return true
			}
		}
	}

	return false
}

// RecordGrid stores the published grid for the next proximity check.
func (p *Policy) RecordGrid(grid []types.GridLevel) {
	copied := make([]types.GridLevel, len(grid))
	copy(copied, grid)

	p.gridMu.Lock()
	p.lastGrid = copied
	p.gridMu.Unlock()
}

// LastPivot exposes the recorded pivot for the dashboard.
func (p *Policy) LastPivot() decimal.Decimal {
	p.pivotMu.Lock()
	defer p.pivotMu.Unlock()
	return p.lastPivot
}

// record updates both cells in lock order.
func (p *Policy) record(now time.Time, pivot decimal.Decimal) {
	p.rebuildMu.Lock()
	p.markRebuildLocked(now, pivot)
	p.rebuildMu.Unlock()
}

// markRebuildLocked requires rebuildMu held; takes pivotMu per the lock order.
func (p *Policy) markRebuildLocked(now time.Time, pivot decimal.Decimal) {
	p.lastRebuild = now
	p.hasRebuilt = true

	p.pivotMu.Lock()
	p.lastPivot = pivot
	p.pivotMu.Unlock()
}
