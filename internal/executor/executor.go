// Package executor turns grid decisions into signed atomic bundles: place and
// cancel instructions plus the builder tip, compiled into one transaction per
// wallet and handed to the bundle relay.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"openbook-mm/internal/chain"
	"openbook-mm/internal/codec"
	"openbook-mm/internal/config"
	"openbook-mm/pkg/types"
)

// DryRunMarker is the synthetic success value returned when dry_run is set.
const DryRunMarker = "dry-run"

// BundleSender is the relay surface the executor needs.
type BundleSender interface {
	SendBundle(ctx context.Context, txsBase64 []string) (string, error)
}

// BlockhashProvider supplies a fresh recent blockhash per transaction.
type BlockhashProvider interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
}

// Executor builds and submits bundles for one market.
type Executor struct {
	cfg       config.BundleConfig
	dryRun    bool
	marketID  string
	programID string
	relay     BundleSender
	chain     BlockhashProvider
	logger    *slog.Logger

	// Client order ids must be unique per submission; wallets submit
	// concurrently within a tick.
	clientOrderSeq atomic.Uint64
}

// New creates an executor.
func New(cfg config.BundleConfig, dryRun bool, marketID, programID string, relay BundleSender, blockhash BlockhashProvider, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		dryRun:    dryRun,
		marketID:  marketID,
		programID: programID,
		relay:     relay,
		chain:     blockhash,
		logger:    logger.With("component", "executor"),
	}
}

// PriceToLots converts a human price into price lots for the market:
// the inverse of the book decoder's price math.
func PriceToLots(price decimal.Decimal, mkt *codec.Market) int64 {
	basePow := decimal.New(1, int32(mkt.BaseDecimals))
	quotePow := decimal.New(1, int32(mkt.QuoteDecimals))
	baseLot := decimal.NewFromUint64(mkt.BaseLotSize)
	quoteLot := decimal.NewFromUint64(mkt.QuoteLotSize)

	return price.Mul(baseLot).Mul(quotePow).
		Div(quoteLot.Mul(basePow)).
		IntPart()
}

// SizeToLots converts a human size into base lots.
func SizeToLots(size decimal.Decimal, mkt *codec.Market) int64 {
	basePow := decimal.New(1, int32(mkt.BaseDecimals))
	baseLot := decimal.NewFromUint64(mkt.BaseLotSize)
	return size.Mul(basePow).Div(baseLot).IntPart()
}

// PlaceLevel submits one grid level as a place instruction plus the tip.
func (e *Executor) PlaceLevel(ctx context.Context, mkt *codec.Market, signer *chain.Keypair, level types.GridLevel, openOrders, userTokenAccount string) (string, error) {
	if e.dryRun {
		e.logger.Info("DRY-RUN: would place level",
			"side", level.Side, "price", level.Price, "size", level.Size)
		return DryRunMarker, nil
	}

	priceLots := PriceToLots(level.Price, mkt)
	sizeLots := SizeToLots(level.Size, mkt)
	if priceLots <= 0 || sizeLots <= 0 {
		return "", fmt.Errorf("level rounds to zero lots (price=%s size=%s)", level.Price, level.Size)
	}

	place := codec.NewPlaceOrderInstruction(e.programID, codec.PlaceOrderAccounts{
		Market:           e.marketID,
		OpenOrders:       openOrders,
		Bids:             mkt.BidsAccount,
		Asks:             mkt.AsksAccount,
		EventQueue:       mkt.EventQueue,
		BaseVault:        mkt.BaseVault,
		QuoteVault:       mkt.QuoteVault,
		Owner:            signer.Pubkey(),
		UserTokenAccount: userTokenAccount,
	}, codec.PlaceOrderArgs{
		Side:          level.Side.Wire(),
		PriceLots:     priceLots,
		MaxBaseLots:   sizeLots,
		MaxQuoteLots:  priceLots * sizeLots,
		ClientOrderID: e.clientOrderSeq.Add(1),
	})

	return e.submit(ctx, signer, []codec.Instruction{place})
}

// PlaceAndCancelBundle submits a place and a cancel atomically in one
// transaction: the replaced level cannot be left resting if the new one fails.
func (e *Executor) PlaceAndCancelBundle(ctx context.Context, mkt *codec.Market, signer *chain.Keypair, place codec.PlaceOrderArgs, cancelSide uint8, cancelOrderID codec.U128, openOrders, userTokenAccount string) (string, error) {
	if e.dryRun {
		e.logger.Info("DRY-RUN: would place+cancel atomically")
		return DryRunMarker, nil
	}

	placeIx := codec.NewPlaceOrderInstruction(e.programID, codec.PlaceOrderAccounts{
		Market:           e.marketID,
		OpenOrders:       openOrders,
		Bids:             mkt.BidsAccount,
		Asks:             mkt.AsksAccount,
		EventQueue:       mkt.EventQueue,
		BaseVault:        mkt.BaseVault,
		QuoteVault:       mkt.QuoteVault,
		Owner:            signer.Pubkey(),
		UserTokenAccount: userTokenAccount,
	}, place)

	cancelIx := codec.NewCancelOrderInstruction(e.programID, e.cancelAccounts(mkt, signer, openOrders), cancelSide, cancelOrderID)

	return e.submit(ctx, signer, []codec.Instruction{placeIx, cancelIx})
}

// SendFlashVolumeBundle submits two opposite-sided places signed by two
// wallets in one transaction, printing volume atomically.
func (e *Executor) SendFlashVolumeBundle(ctx context.Context, mkt *codec.Market, signerA, signerB *chain.Keypair, priceLots, sizeLots int64, ooA, ooB, tokenAcctA, tokenAcctB string) (string, error) {
	if e.dryRun {
		e.logger.Info("DRY-RUN: would send flash volume bundle")
		return DryRunMarker, nil
	}

	accounts := func(signer *chain.Keypair, oo, tokenAcct string) codec.PlaceOrderAccounts {
		return codec.PlaceOrderAccounts{
			Market:           e.marketID,
			OpenOrders:       oo,
			Bids:             mkt.BidsAccount,
			Asks:             mkt.AsksAccount,
			EventQueue:       mkt.EventQueue,
			BaseVault:        mkt.BaseVault,
			QuoteVault:       mkt.QuoteVault,
			Owner:            signer.Pubkey(),
			UserTokenAccount: tokenAcct,
		}
	}

	buy := codec.NewPlaceOrderInstruction(e.programID, accounts(signerA, ooA, tokenAcctA), codec.PlaceOrderArgs{
		Side: types.BUY.Wire(), PriceLots: priceLots, MaxBaseLots: sizeLots,
		MaxQuoteLots: priceLots * sizeLots, ClientOrderID: e.clientOrderSeq.Add(1),
	})
	sell := codec.NewPlaceOrderInstruction(e.programID, accounts(signerB, ooB, tokenAcctB), codec.PlaceOrderArgs{
		Side: types.SELL.Wire(), PriceLots: priceLots, MaxBaseLots: sizeLots,
		MaxQuoteLots: priceLots * sizeLots, ClientOrderID: e.clientOrderSeq.Add(1),
	})

	return e.submit(ctx, signerA, []codec.Instruction{buy, sell}, signerB)
}

// CancelAll submits one transaction cancelling both sides for the signer.
func (e *Executor) CancelAll(ctx context.Context, mkt *codec.Market, signer *chain.Keypair, openOrders string) (string, error) {
	if e.dryRun {
		e.logger.Info("DRY-RUN: would cancel all orders", "wallet", signer.Pubkey())
		return DryRunMarker, nil
	}

	accts := e.cancelAccounts(mkt, signer, openOrders)
	ixs := []codec.Instruction{
		codec.NewCancelAllInstruction(e.programID, accts, types.BUY.Wire(), 255),
		codec.NewCancelAllInstruction(e.programID, accts, types.SELL.Wire(), 255),
	}
	return e.submit(ctx, signer, ixs)
}

// CloseOpenOrders reclaims the rent deposit of an empty order-state account.
func (e *Executor) CloseOpenOrders(ctx context.Context, signer *chain.Keypair, openOrders string) (string, error) {
	if e.dryRun {
		e.logger.Info("DRY-RUN: would close open-orders account", "account", openOrders)
		return DryRunMarker, nil
	}

	ix := codec.NewCloseOpenOrdersInstruction(e.programID, openOrders, signer.Pubkey(), signer.Pubkey(), e.marketID)
	return e.submit(ctx, signer, []codec.Instruction{ix})
}

func (e *Executor) cancelAccounts(mkt *codec.Market, signer *chain.Keypair, openOrders string) codec.CancelOrderAccounts {
	return codec.CancelOrderAccounts{
		Market:     e.marketID,
		Bids:       mkt.BidsAccount,
		Asks:       mkt.AsksAccount,
		OpenOrders: openOrders,
		Owner:      signer.Pubkey(),
		EventQueue: mkt.EventQueue,
	}
}

// submit appends the tip, signs with a fresh blockhash, and sends the bundle.
func (e *Executor) submit(ctx context.Context, payer *chain.Keypair, ixs []codec.Instruction, extraSigners ...*chain.Keypair) (string, error) {
	if e.cfg.TipLamports > 0 && e.cfg.TipAccount != "" {
		ixs = append(ixs, codec.NewTipInstruction(payer.Pubkey(), e.cfg.TipAccount, e.cfg.TipLamports))
	}

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("fresh blockhash: %w", err)
	}

	tx, err := chain.BuildTransaction(ixs, blockhash, payer, extraSigners...)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	bundleID, err := e.relay.SendBundle(ctx, []string{chain.EncodeBase64(tx)})
	if err != nil {
		return "", err
	}
	return bundleID, nil
}
