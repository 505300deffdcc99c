// Package inventory keeps the base/quote split inside its configured
// envelope by converting through the swap aggregator when the spot price
// drifts through the grid channel.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"openbook-mm/internal/chain"
	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

// The wrapped-native mint used for base-side swaps.
const NativeMint = "So11111111111111111111111111111111111111112"

var (
	lamportsPerSOL = decimal.NewFromInt(1_000_000_000)
	quoteUnits     = decimal.NewFromInt(1_000_000) // 6-decimal quote token
	half           = decimal.RequireFromString("0.5")
	buffer5pct     = decimal.RequireFromString("1.05")
	stepUSD        = decimal.NewFromInt(50)
	swapSlippage   = uint16(50) // 0.5%

	hundredPct        = decimal.NewFromInt(100)
	dominantHolderPct = decimal.NewFromInt(50)
)

// BalanceReader is the slice of the chain client the manager needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error)
}

// SupplySource reads mint-level supply data for the control check.
type SupplySource interface {
	GetTokenSupply(ctx context.Context, mint string) (uint64, error)
	GetTokenLargestAccounts(ctx context.Context, mint string) ([]chain.TokenHolding, error)
}

// Swapper converts inventory through the aggregator.
type Swapper interface {
	Swap(ctx context.Context, signer *chain.Keypair, inputMint, outputMint string, amount uint64, slippageBps uint16) (string, error)
}

// WalletSource lists the signers whose balances are aggregated.
type WalletSource interface {
	List() []*chain.Keypair
	Main() (*chain.Keypair, error)
}

// Manager aggregates balances across the wallet set and issues conversions.
type Manager struct {
	cfg       config.InventoryConfig
	grid      config.GridConfig
	quoteMint string
	reader    BalanceReader
	supply    SupplySource
	swapper   Swapper
	wallets   WalletSource
	logger    *slog.Logger

	mu   sync.RWMutex
	last []types.WalletSnapshot
}

// NewManager creates an inventory manager. supply may be nil; the control
// check then reports zero.
func NewManager(cfg config.InventoryConfig, grid config.GridConfig, quoteMint string, reader BalanceReader, supply SupplySource, swapper Swapper, wallets WalletSource, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		grid:      grid,
		quoteMint: quoteMint,
		reader:    reader,
		supply:    supply,
		swapper:   swapper,
		wallets:   wallets,
		logger:    logger.With("component", "inventory"),
	}
}

// SupplyControl computes the swarm's share of the base-mint supply and the
// largest outside holder's share. The control share backs the
// target-control gauge; a dominant outside holder is logged as a risk signal.
func (m *Manager) SupplyControl(ctx context.Context, baseMint string) (decimal.Decimal, error) {
	if m.supply == nil {
		return decimal.Zero, nil
	}

	total, err := m.supply.GetTokenSupply(ctx, baseMint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token supply: %w", err)
	}
	if total == 0 {
		return decimal.Zero, nil
	}
	totalDec := decimal.NewFromUint64(total)

	held := decimal.Zero
	owned := map[string]struct{}{}
	for _, kp := range m.wallets.List() {
		raw, err := m.reader.GetTokenBalance(ctx, kp.Pubkey(), baseMint)
		if err != nil {
			return decimal.Zero, fmt.Errorf("swarm balance %s: %w", kp.Pubkey(), err)
		}
		held = held.Add(decimal.NewFromUint64(raw))
		if ata, err := chain.AssociatedTokenAccount(kp.Pubkey(), baseMint); err == nil {
			owned[ata] = struct{}{}
		}
	}
	control := held.Div(totalDec).Mul(hundredPct)

	holdings, err := m.supply.GetTokenLargestAccounts(ctx, baseMint)
	if err != nil {
		return control, fmt.Errorf("largest holders: %w", err)
	}
	for _, h := range holdings {
		if _, ours := owned[h.Address]; ours {
			continue
		}
		share := decimal.NewFromUint64(h.Amount).Div(totalDec).Mul(hundredPct)
		if share.GreaterThan(dominantHolderPct) {
			m.logger.Warn("dominant outside holder",
				"account", h.Address,
				"share_pct", share.StringFixed(2),
			)
		}
		break // holdings are sorted; only the largest outside holder matters
	}

	return control, nil
}

// Snapshots returns the balances observed by the last aggregation.
func (m *Manager) Snapshots() []types.WalletSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.WalletSnapshot, len(m.last))
	copy(out, m.last)
	return out
}

// AggregateBalances reads every wallet's native and quote balances in
// parallel; each wallet's pair of reads shares one perCallTimeout deadline.
func (m *Manager) AggregateBalances(ctx context.Context, perCallTimeout time.Duration) (base, quote decimal.Decimal, err error) {
	wallets := m.wallets.List()
	snapshots := make([]types.WalletSnapshot, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	for i, kp := range wallets {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, perCallTimeout)
			defer cancel()

			lamports, err := m.reader.GetBalance(callCtx, kp.Pubkey())
			if err != nil {
				return fmt.Errorf("balance %s: %w", kp.Pubkey(), err)
			}
			quoteRaw, err := m.reader.GetTokenBalance(callCtx, kp.Pubkey(), m.quoteMint)
			if err != nil {
				return fmt.Errorf("token balance %s: %w", kp.Pubkey(), err)
			}

			snapshots[i] = types.WalletSnapshot{
				Owner:           kp.Pubkey(),
				BalanceLamports: lamports,
				BaseBalance:     decimal.NewFromUint64(lamports).Div(lamportsPerSOL),
				QuoteBalance:    decimal.NewFromUint64(quoteRaw).Div(quoteUnits),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for _, snap := range snapshots {
		base = base.Add(snap.BaseBalance)
		quote = quote.Add(snap.QuoteBalance)
		m.logger.Debug("wallet balances",
			"wallet", snap.Owner,
			"base", snap.BaseBalance.StringFixed(4),
			"quote", snap.QuoteBalance.StringFixed(2),
		)
	}

	m.mu.Lock()
	m.last = snapshots
	m.mu.Unlock()
	return base, quote, nil
}

// CheckBalances tops up the base reserve when its share of total value falls
// under the floor: the USD delta to target (plus a 5% buffer) is converted
// quote → base, provided it clears the conversion barrier and the main
// wallet can cover it.
func (m *Manager) CheckBalances(ctx context.Context, spot decimal.Decimal) error {
	base, quote, err := m.AggregateBalances(ctx, 2*time.Second)
	if err != nil {
		return fmt.Errorf("aggregate balances: %w", err)
	}

	baseValue := base.Mul(spot)
	totalValue := baseValue.Add(quote)
	if !totalValue.IsPositive() {
		return nil
	}
	baseRatio := baseValue.Div(totalValue)

	m.logger.Info("swarm balances",
		"base", base.StringFixed(4),
		"quote", quote.StringFixed(2),
		"base_ratio", baseRatio.StringFixed(4),
	)

	if !m.cfg.MinBaseReserveRatio.IsPositive() || baseRatio.GreaterThanOrEqual(m.cfg.MinBaseReserveRatio) {
		return nil
	}

	deltaUSD := m.cfg.MinBaseReserveRatio.Sub(baseRatio).Mul(totalValue).Mul(buffer5pct)
	if deltaUSD.LessThan(m.cfg.MinConversionBarrier) {
		return nil
	}

	main, err := m.wallets.Main()
	if err != nil {
		return err
	}

	// The main wallet must cover the conversion in quote.
	mainQuoteRaw, err := m.reader.GetTokenBalance(ctx, main.Pubkey(), m.quoteMint)
	if err != nil {
		return fmt.Errorf("main wallet quote balance: %w", err)
	}
	amountRaw := deltaUSD.Mul(quoteUnits).IntPart()
	if amountRaw <= 0 || uint64(amountRaw) > mainQuoteRaw {
		m.logger.Warn("base reserve low but main wallet cannot cover the conversion",
			"needed_usd", deltaUSD.StringFixed(2))
		return nil
	}

	m.logger.Info("restoring base reserve",
		"delta_usd", deltaUSD.StringFixed(2),
		"base_ratio", baseRatio.StringFixed(4),
		"floor", m.cfg.MinBaseReserveRatio)

	_, err = m.swapper.Swap(ctx, main, m.quoteMint, NativeMint, uint64(amountRaw), swapSlippage)
	if err != nil {
		return fmt.Errorf("reserve conversion: %w", err)
	}
	return nil
}

// RebalanceFiat converts along the channel: past the halfway point of the
// sell zone it moves $50 of base into quote, past the halfway point of the
// buy zone $50 of quote into base. Every conversion honors the barrier.
func (m *Manager) RebalanceFiat(ctx context.Context, spot, pivot decimal.Decimal) error {
	if !spot.IsPositive() || !pivot.IsPositive() {
		return nil
	}

	buyBound := pivot.Mul(decimal.NewFromInt(1).Sub(m.grid.BuyChannelWidth))
	sellBound := pivot.Mul(decimal.NewFromInt(1).Add(m.grid.SellChannelWidth))

	main, err := m.wallets.Main()
	if err != nil {
		return err
	}

	switch {
	case spot.GreaterThan(pivot) && sellBound.GreaterThan(pivot):
		progress := spot.Sub(pivot).Div(sellBound.Sub(pivot))
		if progress.LessThanOrEqual(half) {
			return nil
		}
		if stepUSD.LessThan(m.cfg.MinConversionBarrier) {
			return nil
		}
		lamports := lamportsPerSOL.Mul(stepUSD).Div(spot).IntPart()
		if lamports <= 0 {
			return nil
		}
		m.logger.Info("sell-zone conversion: base → quote",
			"progress", progress.StringFixed(3), "amount_usd", stepUSD)
		_, err := m.swapper.Swap(ctx, main, NativeMint, m.quoteMint, uint64(lamports), swapSlippage)
		return err

	case spot.LessThan(pivot) && pivot.GreaterThan(buyBound):
		progress := pivot.Sub(spot).Div(pivot.Sub(buyBound))
		if progress.LessThanOrEqual(half) {
			return nil
		}
		if stepUSD.LessThan(m.cfg.MinConversionBarrier) {
			return nil
		}
		quoteRaw := stepUSD.Mul(quoteUnits).IntPart()
		if quoteRaw <= 0 {
			return nil
		}
		m.logger.Info("buy-zone conversion: quote → base",
			"progress", progress.StringFixed(3), "amount_usd", stepUSD)
		_, err := m.swapper.Swap(ctx, main, m.quoteMint, NativeMint, uint64(quoteRaw), swapSlippage)
		return err
	}

	return nil
}
