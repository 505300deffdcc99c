// Package health runs the periodic connectivity checks against every
// upstream the bot depends on, publishes status/latency gauges, and persists
// latency samples for the dashboard.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"openbook-mm/internal/metrics"
	"openbook-mm/pkg/types"
)

// Status of one service check.
type Status string

const (
	Healthy  Status = "HEALTHY"
	Degraded Status = "DEGRADED"
	Failed   Status = "FAILED"
	Skipped  Status = "SKIPPED"
)

// Service names used in reports, metrics labels, and latency history.
const (
	ServiceRPC    = "Chain RPC"
	ServiceStore  = "Store (SQLite)"
	ServiceRelay  = "Bundle Relay"
	ServiceMarket = "Order Book"
)

// Report is the outcome of one check.
type Report struct {
	Service   string `json:"service"`
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// RPCHealth is the chain surface the checker probes.
type RPCHealth interface {
	Health(ctx context.Context) bool
}

// MarketProbe verifies the market account still decodes.
type MarketProbe func(ctx context.Context) error

// StorePinger verifies the store connection.
type StorePinger interface {
	Ping() error
	SaveLatencyReport(tick types.LatencyTick) error
}

// Checker runs all checks.
type Checker struct {
	rpc          RPCHealth
	store        StorePinger
	market       MarketProbe
	relayURL     string
	relayEnabled bool
	http         *resty.Client
	logger       *slog.Logger
}

// New creates a health checker. relayURL may be empty when bundles are
// disabled; that check reports Skipped.
func New(rpc RPCHealth, store StorePinger, market MarketProbe, relayURL string, relayEnabled bool, logger *slog.Logger) *Checker {
	return &Checker{
		rpc:          rpc,
		store:        store,
		market:       market,
		relayURL:     relayURL,
		relayEnabled: relayEnabled,
		http:         resty.New().SetTimeout(5 * time.Second),
		logger:       logger.With("component", "health"),
	}
}

// RunAll executes every check, publishes gauges, and persists the samples.
func (c *Checker) RunAll(ctx context.Context) []Report {
	reports := []Report{
		c.checkRPC(ctx),
		c.checkStore(),
		c.checkRelay(ctx),
		c.checkMarket(ctx),
	}

	now := time.Now().Unix()
	for _, r := range reports {
		statusValue := map[Status]float64{Healthy: 1, Degraded: 0.5, Failed: 0, Skipped: -1}[r.Status]
		metrics.ServiceHealthStatus.WithLabelValues(r.Service).Set(statusValue)
		if r.Status != Skipped {
			metrics.ServiceLatencyMs.WithLabelValues(r.Service).Set(float64(r.LatencyMs))
			if err := c.store.SaveLatencyReport(types.LatencyTick{
				Timestamp: now,
				Service:   r.Service,
				LatencyMs: r.LatencyMs,
				Status:    string(r.Status),
			}); err != nil {
				c.logger.Warn("failed to persist latency sample", "error", err)
			}
		}
		if r.Status == Failed {
			c.logger.Warn("service unhealthy", "service", r.Service, "message", r.Message)
		}
	}
	return reports
}

// VerifyCritical fails when the RPC or the store is down; the process must
// not start against dead critical services.
func VerifyCritical(reports []Report) error {
	for _, r := range reports {
		if (r.Service == ServiceRPC || r.Service == ServiceStore) && r.Status == Failed {
			return fmt.Errorf("critical service failure: %s: %s", r.Service, r.Message)
		}
	}
	return nil
}

// Run executes checks on the configured interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

func (c *Checker) checkRPC(ctx context.Context) Report {
	start := time.Now()
	healthy := c.rpc.Health(ctx)
	latency := time.Since(start).Milliseconds()

	if healthy {
		return Report{Service: ServiceRPC, Status: Healthy, LatencyMs: latency}
	}
	return Report{Service: ServiceRPC, Status: Failed, LatencyMs: latency, Message: "getVersion failed"}
}

func (c *Checker) checkStore() Report {
	start := time.Now()
	err := c.store.Ping()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Report{Service: ServiceStore, Status: Failed, LatencyMs: latency, Message: err.Error()}
	}
	return Report{Service: ServiceStore, Status: Healthy, LatencyMs: latency}
}

func (c *Checker) checkRelay(ctx context.Context) Report {
	if !c.relayEnabled {
		return Report{Service: ServiceRelay, Status: Skipped, Message: "disabled in config"}
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"jsonrpc": "2.0", "id": 1, "method": "getTipAccounts", "params": []interface{}{},
		}).
		Post(c.relayURL)
	latency := time.Since(start).Milliseconds()

	switch {
	case err != nil:
		return Report{Service: ServiceRelay, Status: Failed, LatencyMs: latency, Message: err.Error()}
	case resp.IsError():
		return Report{Service: ServiceRelay, Status: Degraded, LatencyMs: latency, Message: fmt.Sprintf("status %d", resp.StatusCode())}
	default:
		return Report{Service: ServiceRelay, Status: Healthy, LatencyMs: latency}
	}
}

func (c *Checker) checkMarket(ctx context.Context) Report {
	start := time.Now()
	err := c.market(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Report{Service: ServiceMarket, Status: Failed, LatencyMs: latency, Message: err.Error()}
	}
	return Report{Service: ServiceMarket, Status: Healthy, LatencyMs: latency}
}
