// Package risk enforces the circuit breakers and drives the kill switch.
//
// Each tick the trading loop assembles a RiskSnapshot (estimated daily loss,
// open-order count) and runs it past the configured limits. A breach writes
// the reason to the kill-switch backend; the loop then enters the shutdown
// path (cancel-all, no new orders) until the flag is cleared out of band.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

// BreakerReason identifies which circuit breaker tripped.
type BreakerReason struct {
	Kind       string // "max_daily_loss" or "max_open_orders"
	LimitUSD   decimal.Decimal
	ValueUSD   decimal.Decimal
	LimitCount uint32
	ValueCount uint32
}

func (r BreakerReason) String() string {
	switch r.Kind {
	case "max_daily_loss":
		return fmt.Sprintf("max daily loss exceeded: limit=%s value=%s", r.LimitUSD, r.ValueUSD)
	case "max_open_orders":
		return fmt.Sprintf("max open orders exceeded: limit=%d value=%d", r.LimitCount, r.ValueCount)
	default:
		return r.Kind
	}
}

// Manager evaluates risk snapshots against the configured limits.
// A zero limit disables that breaker.
type Manager struct {
	limits config.RiskConfig
}

// NewManager creates a risk manager.
func NewManager(limits config.RiskConfig) *Manager {
	return &Manager{limits: limits}
}

// Evaluate returns the tripped breaker, or nil when all limits hold.
// Limits trip inclusively: reaching the limit is a breach.
func (m *Manager) Evaluate(snapshot types.RiskSnapshot) *BreakerReason {
	if m.limits.MaxDailyLossUSD.IsPositive() &&
		snapshot.DailyLossUSD.GreaterThanOrEqual(m.limits.MaxDailyLossUSD) {
		return &BreakerReason{
			Kind:     "max_daily_loss",
			LimitUSD: m.limits.MaxDailyLossUSD,
			ValueUSD: snapshot.DailyLossUSD,
		}
	}

	if m.limits.MaxOpenOrders > 0 && snapshot.OpenOrders >= m.limits.MaxOpenOrders {
		return &BreakerReason{
			Kind:       "max_open_orders",
			LimitCount: m.limits.MaxOpenOrders,
			ValueCount: snapshot.OpenOrders,
		}
	}

	return nil
}

// EstimateDailyLoss sums the notional of fills in the last 24 hours, signing
// buys negative and sells positive, and floors the result at zero. Crude but
// monotone: the bot prefers a false trip to a missed one.
func EstimateDailyLoss(trades []types.Trade, nowUnix int64) decimal.Decimal {
	cutoff := nowUnix - 86_400

	net := decimal.Zero
	for _, t := range trades {
		if t.Timestamp < cutoff {
			continue
		}
		notional := t.Price.Mul(t.Volume)
		if t.Side == types.BUY {
			net = net.Sub(notional)
		} else {
			net = net.Add(notional)
		}
	}

	if net.IsNegative() {
		return net.Neg()
	}
	return decimal.Zero
}
