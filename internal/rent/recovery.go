// Package rent recovers the native-token deposit backing order-state
// accounts that no longer hold anything: per wallet, find the account for
// the traded market, verify it is empty by layout, and close it.
package rent

import (
	"context"
	"fmt"
	"log/slog"

	"openbook-mm/internal/chain"
	"openbook-mm/internal/codec"
)

// Order-state layout offsets used for the program-accounts filters.
const (
	marketFilterOffset = 13
	ownerFilterOffset  = 45
)

// AccountScanner is the chain surface the recovery pass needs.
type AccountScanner interface {
	GetProgramAccountsWithConfig(ctx context.Context, programID string, dataSize int, memcmps []chain.MemcmpFilter) ([]chain.ProgramAccount, error)
}

// Closer closes an empty order-state account through the executor.
type Closer interface {
	CloseOpenOrders(ctx context.Context, signer *chain.Keypair, openOrders string) (string, error)
}

// WalletSource lists the signers to scan for.
type WalletSource interface {
	List() []*chain.Keypair
}

// Recovery runs the scan-and-close pass.
type Recovery struct {
	programID string
	marketID  string
	scanner   AccountScanner
	closer    Closer
	wallets   WalletSource
	logger    *slog.Logger
}

// New creates a rent recovery service.
func New(programID, marketID string, scanner AccountScanner, closer Closer, wallets WalletSource, logger *slog.Logger) *Recovery {
	return &Recovery{
		programID: programID,
		marketID:  marketID,
		scanner:   scanner,
		closer:    closer,
		wallets:   wallets,
		logger:    logger.With("component", "rent"),
	}
}

// FindOpenOrders locates the wallet's order-state account for the market, or
// "" when none exists.
func (r *Recovery) FindOpenOrders(ctx context.Context, owner string) (string, chain.ProgramAccount, error) {
	accounts, err := r.scanner.GetProgramAccountsWithConfig(ctx, r.programID, 0, []chain.MemcmpFilter{
		{Offset: marketFilterOffset, Bytes: r.marketID},
		{Offset: ownerFilterOffset, Bytes: owner},
	})
	if err != nil {
		return "", chain.ProgramAccount{}, fmt.Errorf("scan order-state accounts for %s: %w", owner, err)
	}
	if len(accounts) == 0 {
		return "", chain.ProgramAccount{}, nil
	}
	return accounts[0].Pubkey, accounts[0], nil
}

// Run scans every wallet and closes each empty order-state account found.
// Per-wallet failures are logged and skipped; the pass never fails the tick.
func (r *Recovery) Run(ctx context.Context) int {
	closed := 0
	for _, kp := range r.wallets.List() {
		pubkey, account, err := r.FindOpenOrders(ctx, kp.Pubkey())
		if err != nil {
			r.logger.Warn("order-state scan failed", "wallet", kp.Pubkey(), "error", err)
			continue
		}
		if pubkey == "" {
			continue
		}

		empty, err := codec.IsOpenOrdersEmpty(account.Data)
		if err != nil {
			r.logger.Warn("order-state account undecodable", "account", pubkey, "error", err)
			continue
		}
		if !empty {
			continue
		}

		sig, err := r.closer.CloseOpenOrders(ctx, kp, pubkey)
		if err != nil {
			r.logger.Warn("close failed", "account", pubkey, "error", err)
			continue
		}
		closed++
		r.logger.Info("rent reclaimed", "account", pubkey, "signature", sig, "wallet", kp.Pubkey())
	}
	return closed
}
