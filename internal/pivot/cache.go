// Package pivot computes the fair-value reference price the grid is centered
// on: a volume-weighted average over windowed historical and live fills, with
// a bootstrap seed that fades out as the lookback window elapses.
package pivot

import (
	"sync"
	"time"

	"openbook-mm/pkg/types"
)

// Cache is the live-fill hot cache: a FIFO bounded by time, not count.
// The ingestor writes, the trading loop reads; entries older than the window
// are pruned lazily on every read, under the writer lock.
type Cache struct {
	mu     sync.RWMutex
	window time.Duration
	fills  []types.Trade
}

// NewCache creates a cache covering the given lookback window.
func NewCache(window time.Duration) *Cache {
	return &Cache{window: window}
}

// Record appends one fill. Callers append in arrival order; the FIFO relies
// on timestamps being roughly monotone for pruning.
func (c *Cache) Record(t types.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills = append(c.fills, t)
}

// Seed replaces the cache contents, used after reconnects to rebuild from the
// durable store.
func (c *Cache) Seed(trades []types.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills = append(c.fills[:0], trades...)
}

// Snapshot prunes entries older than now − window and returns a copy of the
// remainder.
func (c *Cache) Snapshot(now time.Time) []types.Trade {
	cutoff := now.Add(-c.window).Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	keep := 0
	for keep < len(c.fills) && c.fills[keep].Timestamp < cutoff {
		keep++
	}
	if keep > 0 {
		c.fills = append(c.fills[:0], c.fills[keep:]...)
	}

	out := make([]types.Trade, len(c.fills))
	copy(out, c.fills)
	return out
}

// Len reports the current cache size (after the last prune).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fills)
}
