// Package sim projects grids over synthetic price scenarios so the dashboard
// can visualize how the ladder would track a moving market.
package sim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/grid"
	"openbook-mm/pkg/types"
)

// Scenario selects the synthetic price path shape.
type Scenario string

const (
	UpwardSaw   Scenario = "upward_saw"
	DownwardSaw Scenario = "downward_saw"
	FlashCrash  Scenario = "flash_crash"
	Pump        Scenario = "pump"
	Flat        Scenario = "flat"
	UpDownHills Scenario = "up_down_hills"
)

// ParseScenario validates a scenario name from the API.
func ParseScenario(s string) (Scenario, error) {
	switch Scenario(s) {
	case UpwardSaw, DownwardSaw, FlashCrash, Pump, Flat, UpDownHills:
		return Scenario(s), nil
	default:
		return "", fmt.Errorf("unknown scenario %q", s)
	}
}

// PricePoint is one step of the synthetic path.
type PricePoint struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// DensityLevel aggregates projected volume by price and side.
type DensityLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Side   types.Side      `json:"side"`
}

// Result is the full simulation output.
type Result struct {
	PriceHistory   []PricePoint        `json:"price_history"`
	ProjectedGrids [][]types.GridLevel `json:"projected_grids"`
	Density        []DensityLevel      `json:"density_distribution"`
}

// Engine runs simulations with the live grid configuration.
type Engine struct {
	builder *grid.Builder
}

// NewEngine creates a simulation engine.
func NewEngine(builder *grid.Builder) *Engine {
	return &Engine{builder: builder}
}

// Run generates the price path, builds a grid at every step, and aggregates
// the density distribution.
func (e *Engine) Run(scenario Scenario, basePrice decimal.Decimal, steps int, volatility decimal.Decimal) Result {
	if steps <= 0 {
		steps = 1
	}
	if steps > 500 {
		steps = 500
	}

	history := generatePath(scenario, basePrice, steps, volatility)
	grids := make([][]types.GridLevel, 0, steps)
	totalSize := decimal.NewFromInt(100)
	for _, point := range history {
		grids = append(grids, e.builder.Build(point.Price, totalSize))
	}

	return Result{
		PriceHistory:   history,
		ProjectedGrids: grids,
		Density:        densityOf(grids),
	}
}

func generatePath(scenario Scenario, base decimal.Decimal, steps int, volatility decimal.Decimal) []PricePoint {
	rng := rand.New(rand.NewSource(42)) // reproducible paths for the dashboard
	now := time.Now().Unix()
	points := make([]PricePoint, 0, steps)

	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps)
		var trend float64
		switch scenario {
		case UpwardSaw:
			trend = t*0.20 + float64(i%10)*0.005
		case DownwardSaw:
			trend = -t*0.20 - float64(i%10)*0.005
		case FlashCrash:
			if t > 0.5 {
				trend = -0.30
			}
		case Pump:
			if t > 0.3 {
				trend = 0.40 * (t - 0.3) / 0.7
			}
		case UpDownHills:
			// Two full hills over the path.
			trend = 0.15 * hill(t)
		default: // Flat
			trend = 0
		}

		noise, _ := volatility.Float64()
		jitter := (rng.Float64()*2 - 1) * noise
		factor := decimal.NewFromFloat(1 + trend + jitter)

		points = append(points, PricePoint{
			Timestamp: now + int64(i)*60,
			Price:     base.Mul(factor),
		})
	}
	return points
}

// hill maps [0,1] onto a -1..1 double bump.
func hill(t float64) float64 {
	switch {
	case t < 0.25:
		return t * 4
	case t < 0.5:
		return (0.5 - t) * 4
	case t < 0.75:
		return -(t - 0.5) * 4
	default:
		return -(1 - t) * 4
	}
}

// densityOf buckets projected volume by exact price and side.
func densityOf(grids [][]types.GridLevel) []DensityLevel {
	type key struct {
		price string
		side  types.Side
	}
	byLevel := map[key]decimal.Decimal{}
	order := []key{}

	for _, g := range grids {
		for _, level := range g {
			k := key{price: level.Price.StringFixed(8), side: level.Side}
			if _, seen := byLevel[k]; !seen {
				order = append(order, k)
			}
			byLevel[k] = byLevel[k].Add(level.Size)
		}
	}

	out := make([]DensityLevel, 0, len(order))
	for _, k := range order {
		price, _ := decimal.NewFromString(k.price)
		out = append(out, DensityLevel{Price: price, Volume: byLevel[k], Side: k.side})
	}
	return out
}
