// Package config defines all configuration for the market-making bot.
// Config is loaded from a layered set of YAML files — a base file plus an
// optional profile overlay selected by BOT_PROFILE — with sensitive fields
// overridable via BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool             `mapstructure:"dry_run"`
	Chain     ChainConfig      `mapstructure:"chain"`
	Market    MarketConfig     `mapstructure:"market"`
	Grid      GridConfig       `mapstructure:"grid"`
	Pivot     PivotConfig      `mapstructure:"pivot"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Inventory InventoryConfig  `mapstructure:"inventory"`
	Bundle    BundleConfig     `mapstructure:"bundle"`
	Swap      SwapConfig       `mapstructure:"swap"`
	Wallets   WalletsConfig    `mapstructure:"wallets"`
	Store     StoreConfig      `mapstructure:"store"`
	KillSw    KillSwitchConfig `mapstructure:"kill_switch"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Dashboard DashboardConfig  `mapstructure:"dashboard"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Health    HealthConfig     `mapstructure:"health"`
}

// ChainConfig holds RPC endpoints and the program/market addresses.
type ChainConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	WSURL      string `mapstructure:"ws_url"`
	Commitment string `mapstructure:"commitment"`
	ProgramID  string `mapstructure:"program_id"`
}

// MarketConfig identifies the traded market and its token accounts.
//
//   - MarketID: the on-chain market-state account.
//   - BaseMint/QuoteMint: token mints for the traded pair.
//   - PairAddress: the price-aggregator pair used for the USD quote.
type MarketConfig struct {
	MarketID    string `mapstructure:"market_id"`
	BaseMint    string `mapstructure:"base_mint"`
	QuoteMint   string `mapstructure:"quote_mint"`
	PairAddress string `mapstructure:"pair_address"`
}

// GridConfig tunes the two-sided ladder projected around the pivot.
//
//   - OrdersPerSide: levels per side; 0 disables the grid entirely.
//   - BuyChannelWidth / SellChannelWidth: fractional channel half-widths
//     (0.15 = buys spread across 15% below the pivot).
//   - BuyVolumeMultiplier / SellVolumeMultiplier: exponential size weighting
//     per level; 1.0 degenerates to uniform sizes.
//   - RebalanceThresholdPercent: pivot drift (percent) that forces a rebuild.
//   - ProximityThreshold: fractional spot-to-level distance that forces a
//     rebuild before a resting level fills on the wrong side.
//   - MandatoryResyncSecs: hard rebuild interval regardless of drift.
//   - TotalSize: base units distributed across the whole grid.
//   - LargeOrderThreshold: competitor size that triggers front-run adjustment.
//   - TickSize: price increment used when stepping inside a competitor.
type GridConfig struct {
	OrdersPerSide             uint32          `mapstructure:"orders_per_side"`
	BuyChannelWidth           decimal.Decimal `mapstructure:"buy_channel_width"`
	SellChannelWidth          decimal.Decimal `mapstructure:"sell_channel_width"`
	BuyVolumeMultiplier       decimal.Decimal `mapstructure:"buy_volume_multiplier"`
	SellVolumeMultiplier      decimal.Decimal `mapstructure:"sell_volume_multiplier"`
	RebalanceThresholdPercent decimal.Decimal `mapstructure:"rebalance_threshold_percent"`
	ProximityThreshold        decimal.Decimal `mapstructure:"proximity_threshold"`
	MandatoryResyncSecs       int64           `mapstructure:"mandatory_resync_secs"`
	TotalSize                 decimal.Decimal `mapstructure:"total_size"`
	LargeOrderThreshold       decimal.Decimal `mapstructure:"large_order_threshold"`
	TickSize                  decimal.Decimal `mapstructure:"tick_size"`
}

// PivotConfig tunes the VWAP pivot computation.
//
//   - LookbackWindowSecs: fill window feeding the VWAP and the live cache.
//   - SeedPrice / NominalDailyVolume: bootstrap weighting that fades out as
//     the lookback window elapses after start-up.
//   - CostOverheadSOL / FeeBps: the fee-adjusted variant; zero disables it.
//   - TickIntervalSecs: trading loop cadence.
type PivotConfig struct {
	LookbackWindowSecs int64           `mapstructure:"lookback_window_secs"`
	SeedPrice          decimal.Decimal `mapstructure:"seed_price"`
	NominalDailyVolume decimal.Decimal `mapstructure:"nominal_daily_volume"`
	CostOverheadSOL    decimal.Decimal `mapstructure:"cost_overhead_sol"`
	FeeBps             uint32          `mapstructure:"fee_bps"`
	TickIntervalSecs   int64           `mapstructure:"tick_interval_secs"`
	FallbackPrice      decimal.Decimal `mapstructure:"fallback_price"`
}

// RiskConfig sets the circuit-breaker limits. A zero limit disables that breaker.
type RiskConfig struct {
	MaxDailyLossUSD decimal.Decimal `mapstructure:"max_daily_loss_usd"`
	MaxOpenOrders   uint32          `mapstructure:"max_open_orders"`
}

// InventoryConfig controls the base/quote envelope maintained through the
// swap aggregator.
type InventoryConfig struct {
	MinBaseReserveRatio  decimal.Decimal `mapstructure:"min_base_reserve_ratio"`
	UpperQuoteRatioMax   decimal.Decimal `mapstructure:"upper_quote_ratio_max"`
	LowerQuoteRatioMax   decimal.Decimal `mapstructure:"lower_quote_ratio_max"`
	MinConversionBarrier decimal.Decimal `mapstructure:"min_conversion_barrier"`
}

// BundleConfig configures the atomic bundle relay.
type BundleConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RelayURL    string `mapstructure:"relay_url"`
	TipLamports uint64 `mapstructure:"tip_lamports"`
	TipAccount  string `mapstructure:"tip_account"`
}

// SwapConfig configures the swap aggregator used for inventory conversion.
type SwapConfig struct {
	QuoteURL    string `mapstructure:"quote_url"`
	SwapURL     string `mapstructure:"swap_url"`
	SlippageBps uint16 `mapstructure:"slippage_bps"`
}

// WalletsConfig holds signer secrets: raw base58 strings or keystore paths.
type WalletsConfig struct {
	Secrets []string `mapstructure:"secrets"`
}

// StoreConfig sets where the SQLite trade store lives.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// KillSwitchConfig selects the flag backend: "file" or "shared" (store key).
type KillSwitchConfig struct {
	Mode     string `mapstructure:"mode"`
	FilePath string `mapstructure:"file_path"`
	StateKey string `mapstructure:"state_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the HTTP API server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	PasswordHash   string   `mapstructure:"password_hash"` // bcrypt verifier
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig controls the periodic connectivity checker.
type HealthConfig struct {
	IntervalSecs int64 `mapstructure:"interval_secs"`
}

// TickInterval returns the trading loop cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Pivot.TickIntervalSecs) * time.Second
}

// LookbackWindow returns the pivot window as a duration.
func (c *Config) LookbackWindow() time.Duration {
	return time.Duration(c.Pivot.LookbackWindowSecs) * time.Second
}

// Load reads config from the base YAML file, overlays the profile file selected
// by BOT_PROFILE (configs/config.<profile>.yaml), then applies env overrides.
// Sensitive fields use env vars: BOT_RPC_URL, BOT_WS_URL, BOT_RELAY_URL,
// BOT_WALLET_SECRETS (comma-separated), BOT_DB_PATH, BOT_DASHBOARD_PASSWORD_HASH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if profile := os.Getenv("BOT_PROFILE"); profile != "" {
		overlay := profilePath(path, profile)
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge profile %q: %w", profile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decimalDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if u := os.Getenv("BOT_RPC_URL"); u != "" {
		cfg.Chain.RPCURL = u
	}
	if u := os.Getenv("BOT_WS_URL"); u != "" {
		cfg.Chain.WSURL = u
	}
	if u := os.Getenv("BOT_RELAY_URL"); u != "" {
		cfg.Bundle.RelayURL = u
	}
	if s := os.Getenv("BOT_WALLET_SECRETS"); s != "" {
		cfg.Wallets.Secrets = strings.Split(s, ",")
	}
	if p := os.Getenv("BOT_DB_PATH"); p != "" {
		cfg.Store.Path = p
	}
	if h := os.Getenv("BOT_DASHBOARD_PASSWORD_HASH"); h != "" {
		cfg.Dashboard.PasswordHash = h
	}
	if origins := os.Getenv("BOT_ALLOWED_ORIGINS"); origins != "" {
		cfg.Dashboard.AllowedOrigins = strings.Split(origins, ",")
	}
	if os.Getenv("BOT_DRY_RUN") == "true" || os.Getenv("BOT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// profilePath maps configs/config.yaml + "prod" to configs/config.prod.yaml.
func profilePath(base, profile string) string {
	dir := filepath.Dir(base)
	name := filepath.Base(base)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, stem+"."+profile+ext)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set BOT_RPC_URL)")
	}
	if c.Chain.WSURL == "" {
		return fmt.Errorf("chain.ws_url is required (set BOT_WS_URL)")
	}
	if c.Market.MarketID == "" {
		return fmt.Errorf("market.market_id is required")
	}
	if len(c.Wallets.Secrets) == 0 {
		return fmt.Errorf("wallets.secrets is required (set BOT_WALLET_SECRETS)")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required (set BOT_DB_PATH)")
	}
	if c.Pivot.TickIntervalSecs <= 0 {
		return fmt.Errorf("pivot.tick_interval_secs must be > 0")
	}
	if c.Pivot.LookbackWindowSecs <= 0 {
		return fmt.Errorf("pivot.lookback_window_secs must be > 0")
	}
	if c.Grid.BuyChannelWidth.IsNegative() || c.Grid.SellChannelWidth.IsNegative() {
		return fmt.Errorf("grid channel widths must be >= 0")
	}
	if c.Bundle.Enabled && c.Bundle.RelayURL == "" {
		return fmt.Errorf("bundle.relay_url is required when bundle.enabled")
	}
	if c.Dashboard.Enabled && c.Dashboard.PasswordHash == "" {
		return fmt.Errorf("dashboard.password_hash is required when dashboard.enabled (set BOT_DASHBOARD_PASSWORD_HASH)")
	}
	switch c.KillSw.Mode {
	case "", "file", "shared":
	default:
		return fmt.Errorf("kill_switch.mode must be \"file\" or \"shared\", got %q", c.KillSw.Mode)
	}
	return nil
}

// Redacted returns a copy safe for debug rendering: wallet secrets and token
// account addresses are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Wallets.Secrets = make([]string, len(c.Wallets.Secrets))
	for i := range c.Wallets.Secrets {
		out.Wallets.Secrets[i] = mask(c.Wallets.Secrets[i])
	}
	out.Market.BaseMint = mask(c.Market.BaseMint)
	out.Market.QuoteMint = mask(c.Market.QuoteMint)
	out.Dashboard.PasswordHash = "***"
	return out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// decimalDecodeHook lets viper unmarshal YAML numbers and strings into
// decimal.Decimal fields without a float round-trip.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	decType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return data, nil
		}
	}
}
