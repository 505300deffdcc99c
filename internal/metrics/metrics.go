// Package metrics exposes the bot's Prometheus surface on its own port.
//
// Gauges:
//   - bot_last_pivot_price, bot_grid_levels_count, bot_active_depth_usd
//   - bot_grid_level_price / bot_grid_level_size {side,index}
//   - bot_pnl_realized_sol, bot_pnl_unrealized_sol
//   - bot_position_net_sol, bot_position_avg_cost
//   - bot_sol_usdc_price, bot_target_control_percent
//   - bot_service_health_status / bot_service_latency_ms {service}
//
// Counters:
//   - bot_ticks_total, bot_tick_errors_total
//   - bot_kill_switch_trigger_total {reason}
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

var (
	LastPivotPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_last_pivot_price",
		Help: "Most recently computed pivot price",
	})

	GridLevelsCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_grid_levels_count",
		Help: "Number of levels in the last published grid",
	})

	GridLevelPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_grid_level_price",
		Help: "Price of each grid level",
	}, []string{"side", "index"})

	GridLevelSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_grid_level_size",
		Help: "Size of each grid level",
	}, []string{"side", "index"})

	ActiveDepthUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_active_depth_usd",
		Help: "Total notional resting in the last published grid",
	})

	PnlRealized = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_pnl_realized_sol",
		Help: "Realized profit and loss",
	})

	PnlUnrealized = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_pnl_unrealized_sol",
		Help: "Mark-to-market profit and loss",
	})

	PositionNet = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_position_net_sol",
		Help: "Signed net position",
	})

	PositionAvgCost = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_position_avg_cost",
		Help: "Weighted-average entry cost",
	})

	SolUsdcPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_sol_usdc_price",
		Help: "Latest observed spot price",
	})

	TargetControlPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_target_control_percent",
		Help: "Percentage of the base-mint supply held by the wallet set",
	})

	ServiceHealthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_service_health_status",
		Help: "Health per upstream service (1 healthy, 0.5 degraded, 0 failed, -1 skipped)",
	}, []string{"service"})

	ServiceLatencyMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_service_latency_ms",
		Help: "Last health-check latency per upstream service",
	}, []string{"service"})

	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_ticks_total",
		Help: "Trading loop ticks",
	})

	TickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_tick_errors_total",
		Help: "Trading loop ticks that errored",
	})

	KillSwitchTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_kill_switch_trigger_total",
		Help: "Kill-switch activations by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		LastPivotPrice, GridLevelsCount, GridLevelPrice, GridLevelSize,
		ActiveDepthUSD, PnlRealized, PnlUnrealized, PositionNet,
		PositionAvgCost, SolUsdcPrice, TargetControlPercent,
		ServiceHealthStatus, ServiceLatencyMs,
		TicksTotal, TickErrorsTotal, KillSwitchTriggers,
	)
}

// Handler returns the text-exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs the exposition endpoint on the given port. Blocks.
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// Gauge converts a decimal for the float-only exposition boundary.
func Gauge(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// PublishGrid updates the per-level gauges and the aggregate depth.
func PublishGrid(grid []types.GridLevel) {
	GridLevelPrice.Reset()
	GridLevelSize.Reset()
	GridLevelsCount.Set(float64(len(grid)))

	depth := decimal.Zero
	for i, level := range grid {
		labels := prometheus.Labels{
			"side":  string(level.Side),
			"index": fmt.Sprintf("%d", i),
		}
		GridLevelPrice.With(labels).Set(Gauge(level.Price))
		GridLevelSize.With(labels).Set(Gauge(level.Size))
		depth = depth.Add(level.Price.Mul(level.Size))
	}
	ActiveDepthUSD.Set(Gauge(depth))
}

// PublishPnl updates the accounting gauges.
func PublishPnl(snap types.PnlSnapshot) {
	PnlRealized.Set(Gauge(snap.RealizedPnl))
	PnlUnrealized.Set(Gauge(snap.UnrealizedPnl))
	PositionNet.Set(Gauge(snap.NetPosition))
	PositionAvgCost.Set(Gauge(snap.AverageCost))
}
