// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides, fills,
// order book levels, market metadata, and grid levels. It has no dependencies
// on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or fill: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Wire returns the on-chain side encoding (0 = bid, 1 = ask).
func (s Side) Wire() uint8 {
	if s == SELL {
		return 1
	}
	return 0
}

// ParseSide maps the store/log string forms onto a Side.
// Unknown values default to SELL, matching the ingestor's conservative bias.
func ParseSide(s string) Side {
	switch s {
	case "buy", "Buy", "BUY", "0":
		return BUY
	default:
		return SELL
	}
}

// Store returns the lowercase form persisted in the trade store.
func (s Side) Store() string {
	if s == BUY {
		return "buy"
	}
	return "sell"
}

// ————————————————————————————————————————————————————————————————————————
// Fills and price history
// ————————————————————————————————————————————————————————————————————————

// Trade is an immutable fill record. Identity is the (Timestamp, ID) pair,
// ordered lexicographically; IDs within one timestamp are unique per source.
type Trade struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix seconds
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Side      Side            `json:"side"`
	Wallet    string          `json:"wallet"`
}

// Before reports whether t precedes other in (timestamp, id) order.
func (t Trade) Before(other Trade) bool {
	if t.Timestamp != other.Timestamp {
		return t.Timestamp < other.Timestamp
	}
	return t.ID < other.ID
}

// PriceTick is one minute-bucketed sample of the base and quote USD prices.
type PriceTick struct {
	Timestamp  int64           `json:"timestamp"`
	BasePrice  decimal.Decimal `json:"base_price"`
	QuotePrice decimal.Decimal `json:"quote_price"`
}

// LatencyTick is one persisted health-check latency sample for a service.
type LatencyTick struct {
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
	LatencyMs int64  `json:"latency_ms"`
	Status    string `json:"status"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// OrderbookLevel is a single resting price level.
type OrderbookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Orderbook is a decoded depth snapshot. Bids are sorted strictly descending
// by price, asks strictly ascending.
type Orderbook struct {
	MarketID  string           `json:"market_id"`
	Timestamp time.Time        `json:"timestamp"`
	Bids      []OrderbookLevel `json:"bids"`
	Asks      []OrderbookLevel `json:"asks"`
}

// Mid returns (bestBid + bestAsk) / 2, or false when either side is empty.
func (ob *Orderbook) Mid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Bids[0].Price.Add(ob.Asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// MarketUpdate is the latest observed quote for the traded market.
type MarketUpdate struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
}

// ————————————————————————————————————————————————————————————————————————
// Grid
// ————————————————————————————————————————————————————————————————————————

// GridLevel is one projected resting order. A full grid is orders_per_side
// buys (prices strictly below the pivot) followed by orders_per_side sells
// (strictly above).
type GridLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Side  Side            `json:"side"`
}

// ————————————————————————————————————————————————————————————————————————
// Accounting
// ————————————————————————————————————————————————————————————————————————

// PnlSnapshot is the tracker's view at one spot price.
type PnlSnapshot struct {
	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	NetPosition   decimal.Decimal `json:"net_position"`
	AverageCost   decimal.Decimal `json:"average_cost"`
}

// RiskSnapshot feeds the circuit breakers each tick.
type RiskSnapshot struct {
	DailyLossUSD decimal.Decimal `json:"daily_loss_usd"`
	OpenOrders   uint32          `json:"open_orders"`
}

// WalletSnapshot is a per-wallet balance view recorded by the inventory
// manager.
type WalletSnapshot struct {
	Owner           string          `json:"owner"`
	BalanceLamports uint64          `json:"balance_lamports"`
	BaseBalance     decimal.Decimal `json:"base_balance"`
	QuoteBalance    decimal.Decimal `json:"quote_balance"`
}
