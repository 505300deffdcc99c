package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"openbook-mm/internal/chain"
	"openbook-mm/internal/codec"
	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addr(fill byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}
	return base58.Encode(b)
}

func testMarket() *codec.Market {
	return &codec.Market{
		Dialect:       codec.DialectCurrent,
		BidsAccount:   addr(1),
		AsksAccount:   addr(2),
		EventQueue:    addr(3),
		BaseVault:     addr(4),
		QuoteVault:    addr(5),
		BaseLotSize:   1_000_000,
		QuoteLotSize:  1,
		BaseDecimals:  9,
		QuoteDecimals: 6,
	}
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

type fakeRelay struct {
	bundles [][]string
	err     error
}

func (f *fakeRelay) SendBundle(_ context.Context, txs []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.bundles = append(f.bundles, txs)
	return "bundle-1", nil
}

type fakeBlockhash struct{}

func (fakeBlockhash) GetLatestBlockhash(context.Context) (string, error) {
	return base58.Encode(make([]byte, 32)), nil
}

func newExecutor(relay *fakeRelay, dryRun bool) *Executor {
	cfg := config.BundleConfig{
		Enabled:     true,
		TipLamports: 5_000_000,
		TipAccount:  addr(9),
	}
	return New(cfg, dryRun, addr(7), addr(8), relay, fakeBlockhash{}, quietLogger())
}

func TestLotConversionRoundTrip(t *testing.T) {
	t.Parallel()

	mkt := testMarket()
	// The book decoder maps 150000 price lots to a human price of 150;
	// the executor maps it back.
	if got := PriceToLots(decimal.NewFromInt(150), mkt); got != 150_000 {
		t.Errorf("PriceToLots(150) = %d, want 150000", got)
	}
	if got := SizeToLots(decimal.NewFromInt(2), mkt); got != 2000 {
		t.Errorf("SizeToLots(2) = %d, want 2000", got)
	}
}

func TestPlaceLevelSubmitsBundle(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	e := newExecutor(relay, false)
	signer := newKeypair(t)

	level := types.GridLevel{
		Price: decimal.NewFromInt(150),
		Size:  decimal.NewFromInt(2),
		Side:  types.BUY,
	}
	id, err := e.PlaceLevel(context.Background(), testMarket(), signer, level, addr(10), addr(11))
	if err != nil {
		t.Fatalf("PlaceLevel: %v", err)
	}
	if id != "bundle-1" {
		t.Errorf("bundle id = %s", id)
	}
	if len(relay.bundles) != 1 || len(relay.bundles[0]) != 1 {
		t.Fatalf("bundles = %v", relay.bundles)
	}
}

func TestPlaceLevelRejectsDustLevels(t *testing.T) {
	t.Parallel()

	e := newExecutor(&fakeRelay{}, false)
	level := types.GridLevel{
		Price: decimal.RequireFromString("0.0000001"),
		Size:  decimal.RequireFromString("0.0000001"),
		Side:  types.BUY,
	}
	if _, err := e.PlaceLevel(context.Background(), testMarket(), newKeypair(t), level, addr(10), addr(11)); err == nil {
		t.Error("expected error for a level that rounds to zero lots")
	}
}

func TestDryRunShortCircuits(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	e := newExecutor(relay, true)
	signer := newKeypair(t)
	mkt := testMarket()
	level := types.GridLevel{Price: decimal.NewFromInt(150), Size: decimal.NewFromInt(1), Side: types.SELL}

	ops := map[string]func() (string, error){
		"PlaceLevel": func() (string, error) {
			return e.PlaceLevel(context.Background(), mkt, signer, level, addr(10), addr(11))
		},
		"CancelAll": func() (string, error) {
			return e.CancelAll(context.Background(), mkt, signer, addr(10))
		},
		"CloseOpenOrders": func() (string, error) {
			return e.CloseOpenOrders(context.Background(), signer, addr(10))
		},
		"FlashVolume": func() (string, error) {
			return e.SendFlashVolumeBundle(context.Background(), mkt, signer, newKeypair(t), 1, 1, addr(10), addr(12), addr(11), addr(13))
		},
	}
	for name, op := range ops {
		id, err := op()
		if err != nil {
			t.Errorf("%s in dry-run errored: %v", name, err)
		}
		if id != DryRunMarker {
			t.Errorf("%s returned %q, want dry-run marker", name, id)
		}
	}
	if len(relay.bundles) != 0 {
		t.Error("dry-run sent something to the relay")
	}
}

func TestRelayErrorSurfacesUntranslated(t *testing.T) {
	t.Parallel()

	relayErr := errors.New("bundle rejected: rate limited")
	e := newExecutor(&fakeRelay{err: relayErr}, false)
	signer := newKeypair(t)
	level := types.GridLevel{Price: decimal.NewFromInt(150), Size: decimal.NewFromInt(1), Side: types.BUY}

	_, err := e.PlaceLevel(context.Background(), testMarket(), signer, level, addr(10), addr(11))
	if !errors.Is(err, relayErr) {
		t.Errorf("relay error not surfaced: %v", err)
	}
}

func TestFlashVolumeUsesBothSigners(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	e := newExecutor(relay, false)
	a, b := newKeypair(t), newKeypair(t)

	_, err := e.SendFlashVolumeBundle(context.Background(), testMarket(), a, b, 150_000, 1000, addr(10), addr(12), addr(11), addr(13))
	if err != nil {
		t.Fatalf("SendFlashVolumeBundle: %v", err)
	}
	if len(relay.bundles) != 1 {
		t.Fatalf("bundles = %d, want 1", len(relay.bundles))
	}
}
