// Package grid projects the two-sided ladder of resting orders around the
// pivot: exponentially-weighted sizes per side, with an optional price
// adjustment that posts one tick inside large same-side competitors.
package grid

import (
	"github.com/shopspring/decimal"

	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

var two = decimal.NewFromInt(2)

// Front-run adjustment bands: competitors are searched within searchBand of
// our level, and the shifted price may not leave safetyBand of the original.
var (
	searchBand = decimal.NewFromFloat(0.05)
	safetyBand = decimal.NewFromFloat(0.10)
)

// Builder constructs grids from the configured channel and weighting knobs.
type Builder struct {
	cfg config.GridConfig
}

// NewBuilder creates a grid builder.
func NewBuilder(cfg config.GridConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build produces exactly 2·orders_per_side levels: buys first (prices
// strictly decreasing below mid), then sells (strictly increasing above).
// totalSize is split evenly between the sides; within a side, level i gets
// weight m^(i−1) with the side's volume multiplier m.
func (b *Builder) Build(mid, totalSize decimal.Decimal) []types.GridLevel {
	n := b.cfg.OrdersPerSide
	if n == 0 {
		return nil
	}

	grid := make([]types.GridLevel, 0, 2*n)
	nDec := decimal.NewFromInt(int64(n))
	sideTotal := totalSize.Div(two)

	buyStep := mid.Mul(b.cfg.BuyChannelWidth).Div(nDec)
	buySizes := weightedSizes(sideTotal, b.cfg.BuyVolumeMultiplier, n)
	for i := uint32(1); i <= n; i++ {
		grid = append(grid, types.GridLevel{
			Price: mid.Sub(buyStep.Mul(decimal.NewFromInt(int64(i)))),
			Size:  buySizes[i-1],
			Side:  types.BUY,
		})
	}

	sellStep := mid.Mul(b.cfg.SellChannelWidth).Div(nDec)
	sellSizes := weightedSizes(sideTotal, b.cfg.SellVolumeMultiplier, n)
	for i := uint32(1); i <= n; i++ {
		grid = append(grid, types.GridLevel{
			Price: mid.Add(sellStep.Mul(decimal.NewFromInt(int64(i)))),
			Size:  sellSizes[i-1],
			Side:  types.SELL,
		})
	}

	return grid
}

// weightedSizes distributes sideTotal across n levels with weights m^(i-1).
// m == 1 degenerates to uniform; m > 1 grows sizes outward from mid.
func weightedSizes(sideTotal, multiplier decimal.Decimal, n uint32) []decimal.Decimal {
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}

	weights := make([]decimal.Decimal, n)
	sum := decimal.Zero
	w := decimal.NewFromInt(1)
	for i := uint32(0); i < n; i++ {
		weights[i] = w
		sum = sum.Add(w)
		w = w.Mul(multiplier)
	}

	sizes := make([]decimal.Decimal, n)
	for i := range weights {
		sizes[i] = sideTotal.Mul(weights[i]).Div(sum)
	}
	return sizes
}

// AdjustForCompetition shifts grid prices one tick inside large same-side
// competitors. For each level, the first same-side book level with size at
// or above the configured threshold and within 5% of our price wins the
// adjustment: buys post one tick above it, sells one tick below. The shift
// is dropped when it would leave a 10% band of the original price or cross
// the mid.
func (b *Builder) AdjustForCompetition(grid []types.GridLevel, book *types.Orderbook, mid decimal.Decimal) []types.GridLevel {
	if book == nil || b.cfg.LargeOrderThreshold.IsZero() || b.cfg.TickSize.IsZero() {
		return grid
	}

	out := make([]types.GridLevel, len(grid))
	copy(out, grid)

	for i, level := range out {
		var sideLevels []types.OrderbookLevel
		if level.Side == types.BUY {
			sideLevels = book.Bids
		} else {
			sideLevels = book.Asks
		}

		competitor, found := findCompetitor(sideLevels, level.Price, b.cfg.LargeOrderThreshold)
		if !found {
			continue
		}

		var shifted decimal.Decimal
		if level.Side == types.BUY {
			shifted = competitor.Add(b.cfg.TickSize)
			if mid.IsPositive() && shifted.GreaterThanOrEqual(mid) {
				continue
			}
		} else {
			shifted = competitor.Sub(b.cfg.TickSize)
			if mid.IsPositive() && shifted.LessThanOrEqual(mid) {
				continue
			}
		}

		if relativeDistance(shifted, level.Price).GreaterThan(safetyBand) {
			continue
		}
		out[i].Price = shifted
	}
	return out
}

// findCompetitor returns the first level at or above threshold size within
// the search band of price.
func findCompetitor(levels []types.OrderbookLevel, price, threshold decimal.Decimal) (decimal.Decimal, bool) {
	for _, l := range levels {
		if l.Size.LessThan(threshold) {
			continue
		}
		if relativeDistance(l.Price, price).LessThanOrEqual(searchBand) {
			return l.Price, true
		}
	}
	return decimal.Zero, false
}

// relativeDistance is |a − b| / b, or zero when b is zero.
func relativeDistance(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(b)
}
