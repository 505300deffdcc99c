// Package wallet holds the signer set the bot trades with.
//
// Secrets are accepted as on-disk keystore paths or base58 byte strings; the
// path is tried first. The registry is read-heavy (trading loop, dashboard,
// inventory manager iterate it) with occasional adds, so a shared-reader /
// exclusive-writer lock applies.
package wallet

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"openbook-mm/internal/chain"
)

// ErrDuplicate is returned when a secret's public key is already registered.
var ErrDuplicate = errors.New("wallet already registered")

// Persister is the slice of the store the registry needs: durable secret
// storage keyed by public key.
type Persister interface {
	SaveWallet(pubkey, secret string) error
}

// Registry is the concurrent signer set. The first wallet added is the main
// wallet used for swaps and fee payment.
type Registry struct {
	mu      sync.RWMutex
	wallets []*chain.Keypair
	byKey   map[string]struct{}

	persister Persister
	logger    *slog.Logger
}

// NewRegistry loads the initial signer set from the configured secrets.
// Unparseable secrets are logged and skipped, matching a best-effort boot.
func NewRegistry(secrets []string, persister Persister, logger *slog.Logger) *Registry {
	r := &Registry{
		byKey:     make(map[string]struct{}),
		persister: persister,
		logger:    logger.With("component", "wallet"),
	}

	for _, secret := range secrets {
		kp, err := loadSecret(secret)
		if err != nil {
			r.logger.Warn("skipping unloadable wallet secret", "error", err)
			continue
		}
		if _, dup := r.byKey[kp.Pubkey()]; dup {
			r.logger.Warn("skipping duplicate wallet secret", "pubkey", kp.Pubkey())
			continue
		}
		r.wallets = append(r.wallets, kp)
		r.byKey[kp.Pubkey()] = struct{}{}
		r.logger.Info("wallet loaded", "pubkey", kp.Pubkey())
	}

	if len(r.wallets) == 0 {
		r.logger.Warn("no wallets loaded")
	}
	return r
}

// loadSecret tries the secret as a keystore path first, then base58 bytes.
func loadSecret(secret string) (*chain.Keypair, error) {
	if _, err := os.Stat(secret); err == nil {
		kp, err := chain.KeypairFromFile(secret)
		if err == nil {
			return kp, nil
		}
		// Fall through to base58; a secret can look like a path without being one.
	}
	return chain.KeypairFromBase58(secret)
}

// Add registers a new signer from a base58 secret. With persist set, the
// secret is written to the store before the in-memory add so a crash cannot
// produce an in-memory wallet absent from disk.
func (r *Registry) Add(secret string, persist bool) (string, error) {
	kp, err := chain.KeypairFromBase58(secret)
	if err != nil {
		return "", fmt.Errorf("load wallet secret: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byKey[kp.Pubkey()]; dup {
		return "", fmt.Errorf("%s: %w", kp.Pubkey(), ErrDuplicate)
	}

	if persist && r.persister != nil {
		if err := r.persister.SaveWallet(kp.Pubkey(), kp.Secret()); err != nil {
			return "", fmt.Errorf("persist wallet: %w", err)
		}
	}

	r.wallets = append(r.wallets, kp)
	r.byKey[kp.Pubkey()] = struct{}{}
	r.logger.Info("wallet added", "pubkey", kp.Pubkey(), "persisted", persist)
	return kp.Pubkey(), nil
}

// List returns the current signer set. The returned slice is a copy; the
// keypairs themselves are shared.
func (r *Registry) List() []*chain.Keypair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*chain.Keypair, len(r.wallets))
	copy(out, r.wallets)
	return out
}

// Pubkeys returns the public keys of all registered wallets.
func (r *Registry) Pubkeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.wallets))
	for i, kp := range r.wallets {
		out[i] = kp.Pubkey()
	}
	return out
}

// Get returns the wallet at index i.
func (r *Registry) Get(i int) (*chain.Keypair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.wallets) {
		return nil, fmt.Errorf("wallet index %d out of bounds (%d wallets)", i, len(r.wallets))
	}
	return r.wallets[i], nil
}

// Main returns the first-added wallet.
func (r *Registry) Main() (*chain.Keypair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.wallets) == 0 {
		return nil, errors.New("no wallets available")
	}
	return r.wallets[0], nil
}

// Count returns the number of registered wallets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}
