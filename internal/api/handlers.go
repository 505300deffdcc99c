package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/sim"
	"openbook-mm/internal/wallet"
	"openbook-mm/pkg/types"
)

// Stats is the dashboard's headline view of the bot.
type Stats struct {
	PivotPrice       decimal.Decimal   `json:"pivot_price"`
	SpotPrice        decimal.Decimal   `json:"spot_price"`
	BuyChannelWidth  decimal.Decimal   `json:"buy_channel_width"`
	SellChannelWidth decimal.Decimal   `json:"sell_channel_width"`
	ActiveWallets    int               `json:"active_wallets"`
	KillSwitchActive bool              `json:"kill_switch_active"`
	DryRun           bool              `json:"dry_run"`
	Pnl              types.PnlSnapshot `json:"pnl"`
}

// StatsSource is implemented by the engine.
type StatsSource interface {
	Stats() Stats
}

// HistorySource serves the persisted price and latency series.
type HistorySource interface {
	GetPriceHistory(since int64) ([]types.PriceTick, error)
	GetLatencyHistory(service string, since int64) ([]types.LatencyTick, error)
}

// WalletAdmin is the wallet surface exposed over HTTP.
type WalletAdmin interface {
	Pubkeys() []string
	Add(secret string, persist bool) (string, error)
}

// Controller executes dashboard control actions.
type Controller interface {
	TriggerKillSwitch(reason string) error
	ClearKillSwitch() error
}

// Simulator runs grid projections for the dashboard.
type Simulator interface {
	Run(scenario sim.Scenario, basePrice decimal.Decimal, steps int, volatility decimal.Decimal) sim.Result
}

// latencyServices mirrors the health checker's service names.
var latencyServices = []string{"Chain RPC", "Store (SQLite)", "Bundle Relay", "Order Book"}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	auth       *Auth
	stats      StatsSource
	history    HistorySource
	wallets    WalletAdmin
	controller Controller
	simulator  Simulator
	logger     *slog.Logger
}

// NewHandlers creates a handlers instance.
func NewHandlers(auth *Auth, stats StatsSource, history HistorySource, wallets WalletAdmin, controller Controller, simulator Simulator, logger *slog.Logger) *Handlers {
	return &Handlers{
		auth:       auth,
		stats:      stats,
		history:    history,
		wallets:    wallets,
		controller: controller,
		simulator:  simulator,
		logger:     logger.With("component", "api"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// HandleHealth answers unauthenticated liveness probes.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleLogin exchanges the dashboard password for a bearer token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	token, err := h.auth.Login(body.Password)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.writeJSON(w, map[string]string{"token": token})
}

// HandleStats returns the live engine snapshot.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.stats.Stats())
}

// HandleHistory returns the last 24 hours of price samples.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour).Unix()
	ticks, err := h.history.GetPriceHistory(since)
	if err != nil {
		h.logger.Error("price history query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, ticks)
}

// HandleLatency returns 24 hours of health-check latency per service.
func (h *Handlers) HandleLatency(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour).Unix()

	out := map[string][]types.LatencyTick{}
	for _, service := range latencyServices {
		ticks, err := h.history.GetLatencyHistory(service, since)
		if err != nil {
			h.logger.Error("latency history query failed", "service", service, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if len(ticks) > 0 {
			out[service] = ticks
		}
	}
	h.writeJSON(w, out)
}

// HandleWallets lists registered wallet public keys.
func (h *Handlers) HandleWallets(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string][]string{"wallets": h.wallets.Pubkeys()})
}

// HandleWalletAdd registers (and persists) a new signer.
func (h *Handlers) HandleWalletAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Secret == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	pubkey, err := h.wallets.Add(body.Secret, true)
	if err != nil {
		if errors.Is(err, wallet.ErrDuplicate) {
			http.Error(w, "wallet already exists", http.StatusConflict)
			return
		}
		h.logger.Warn("wallet add rejected", "error", err)
		http.Error(w, "invalid wallet secret", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, map[string]string{"pubkey": pubkey})
}

// HandleControl executes a control action: kill_switch, clear_kill_switch.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch body.Action {
	case "kill_switch":
		reason := body.Reason
		if reason == "" {
			reason = "manual trigger via dashboard"
		}
		if err := h.controller.TriggerKillSwitch(reason); err != nil {
			h.logger.Error("kill switch trigger failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, map[string]string{"status": "ok", "message": "kill switch engaged"})
	case "clear_kill_switch":
		if err := h.controller.ClearKillSwitch(); err != nil {
			h.logger.Error("kill switch clear failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, map[string]string{"status": "ok", "message": "kill switch cleared"})
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
	}
}

// HandleSimulation runs a grid projection over a synthetic price path.
func (h *Handlers) HandleSimulation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scenario   string  `json:"scenario"`
		BasePrice  string  `json:"base_price"`
		Steps      int     `json:"steps"`
		Volatility float64 `json:"volatility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	scenario, err := sim.ParseScenario(body.Scenario)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	basePrice, err := decimal.NewFromString(body.BasePrice)
	if err != nil || !basePrice.IsPositive() {
		http.Error(w, "base_price must be a positive decimal", http.StatusBadRequest)
		return
	}

	result := h.simulator.Run(scenario, basePrice, body.Steps, decimal.NewFromFloat(body.Volatility))
	h.writeJSON(w, result)
}
