package rent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"openbook-mm/internal/chain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKeypair(t *testing.T) *chain.Keypair {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kp, err := chain.KeypairFromBytes(priv)
	if err != nil {
		t.Fatalf("KeypairFromBytes: %v", err)
	}
	return kp
}

// openOrdersData builds an order-state account: empty means an all-ones
// free-slot bitmap with zero outstanding totals.
func openOrdersData(empty bool) []byte {
	data := make([]byte, 125)
	for i := 109; i < 125; i++ {
		data[i] = 0xFF
	}
	if !empty {
		binary.LittleEndian.PutUint64(data[85:93], 42) // base lots outstanding
	}
	return data
}

type fakeScanner struct {
	byOwner map[string]chain.ProgramAccount
}

func (f *fakeScanner) GetProgramAccountsWithConfig(_ context.Context, _ string, _ int, memcmps []chain.MemcmpFilter) ([]chain.ProgramAccount, error) {
	for _, m := range memcmps {
		if m.Offset == ownerFilterOffset {
			if acct, ok := f.byOwner[m.Bytes]; ok {
				return []chain.ProgramAccount{acct}, nil
			}
		}
	}
	return nil, nil
}

type fakeCloser struct {
	closed []string
}

func (f *fakeCloser) CloseOpenOrders(_ context.Context, _ *chain.Keypair, openOrders string) (string, error) {
	f.closed = append(f.closed, openOrders)
	return "sig", nil
}

type fakeWallets struct {
	kps []*chain.Keypair
}

func (f *fakeWallets) List() []*chain.Keypair { return f.kps }

func TestRunClosesEmptyAccounts(t *testing.T) {
	t.Parallel()

	emptyOwner := newKeypair(t)
	busyOwner := newKeypair(t)
	bareOwner := newKeypair(t)

	scanner := &fakeScanner{byOwner: map[string]chain.ProgramAccount{
		emptyOwner.Pubkey(): {Pubkey: "oo-empty", Data: openOrdersData(true)},
		busyOwner.Pubkey():  {Pubkey: "oo-busy", Data: openOrdersData(false)},
	}}
	closer := &fakeCloser{}
	wallets := &fakeWallets{kps: []*chain.Keypair{emptyOwner, busyOwner, bareOwner}}

	r := New("prog", "mkt", scanner, closer, wallets, quietLogger())
	closed := r.Run(context.Background())

	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}
	if len(closer.closed) != 1 || closer.closed[0] != "oo-empty" {
		t.Errorf("closed accounts = %v, want [oo-empty]", closer.closed)
	}
}

func TestRunSkipsUndecodableAccounts(t *testing.T) {
	t.Parallel()

	owner := newKeypair(t)
	scanner := &fakeScanner{byOwner: map[string]chain.ProgramAccount{
		owner.Pubkey(): {Pubkey: "oo-short", Data: []byte{1, 2, 3}},
	}}
	closer := &fakeCloser{}

	r := New("prog", "mkt", scanner, closer, &fakeWallets{kps: []*chain.Keypair{owner}}, quietLogger())
	if closed := r.Run(context.Background()); closed != 0 {
		t.Errorf("closed = %d, want 0", closed)
	}
	if len(closer.closed) != 0 {
		t.Error("undecodable account was closed")
	}
}
