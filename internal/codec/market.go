// Package codec decodes the on-chain market-state and book-side accounts and
// encodes the wire instructions the executor submits.
//
// Two wire dialects are supported. The current dialect is Anchor-style: an
// 8-byte discriminator at offset 0 followed by a fixed field layout. The
// legacy dialect is a fixed 388-byte layout with no discriminator. Dialect is
// distinguished first by byte length, then by discriminator.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Account discriminators (Anchor style).
var (
	MarketDiscriminator   = [8]byte{213, 222, 12, 126, 25, 23, 204, 237}
	BookSideDiscriminator = [8]byte{178, 119, 219, 142, 234, 1, 163, 133}
)

// Dialect identifies which wire layout an account was decoded from.
type Dialect int

const (
	DialectCurrent Dialect = iota // Anchor-style accounts
	DialectLegacy                 // fixed 388-byte market layout
)

func (d Dialect) String() string {
	if d == DialectLegacy {
		return "legacy"
	}
	return "current"
}

// legacyMarketLen is the exact length of the legacy market-state account.
const legacyMarketLen = 388

// currentMarketMinLen covers the fields we read from the current layout:
// discriminator + bump + decimals + padding + authority + lot sizes +
// bids/asks/event-heap/vault addresses.
const currentMarketMinLen = 8 + 1 + 1 + 1 + 5 + 32 + 8 + 8 + 32*5

// Market is the decoded market descriptor. Lot sizes are always positive for
// a valid account.
type Market struct {
	Dialect       Dialect
	BidsAccount   string
	AsksAccount   string
	EventQueue    string
	BaseVault     string
	QuoteVault    string
	BaseLotSize   uint64
	QuoteLotSize  uint64
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// UnpackMarket decodes a market-state account in either dialect.
//
// A buffer of exactly the legacy length decodes as legacy; anything else must
// carry the current-dialect discriminator.
func UnpackMarket(data []byte) (*Market, error) {
	if len(data) == legacyMarketLen {
		return unpackLegacyMarket(data)
	}
	return unpackCurrentMarket(data)
}

func unpackCurrentMarket(data []byte) (*Market, error) {
	if err := need(data, 0, currentMarketMinLen); err != nil {
		return nil, err
	}
	if [8]byte(data[0:8]) != MarketDiscriminator {
		return nil, fmt.Errorf("market account: %w", ErrBadDiscriminator)
	}

	m := &Market{
		Dialect:       DialectCurrent,
		BaseDecimals:  data[9],
		QuoteDecimals: data[10],
		// 5 bytes padding: 11..16, market authority: 16..48
		BaseLotSize:  binary.LittleEndian.Uint64(data[48:56]),
		QuoteLotSize: binary.LittleEndian.Uint64(data[56:64]),
		BidsAccount:  base58.Encode(data[64:96]),
		AsksAccount:  base58.Encode(data[96:128]),
		EventQueue:   base58.Encode(data[128:160]),
		BaseVault:    base58.Encode(data[160:192]),
		QuoteVault:   base58.Encode(data[192:224]),
	}
	return m, m.validate()
}

// Legacy layout offsets. The legacy market account does not store mint
// decimals; the standard base/quote precision applies.
const (
	legacyBaseVaultOff  = 117
	legacyQuoteVaultOff = 165
	legacyEventQueueOff = 253
	legacyBidsOff       = 285
	legacyAsksOff       = 317
	legacyBaseLotOff    = 349
	legacyQuoteLotOff   = 357

	legacyBaseDecimals  = 9
	legacyQuoteDecimals = 6
)

func unpackLegacyMarket(data []byte) (*Market, error) {
	if err := need(data, 0, legacyMarketLen); err != nil {
		return nil, err
	}

	m := &Market{
		Dialect:       DialectLegacy,
		BaseVault:     base58.Encode(data[legacyBaseVaultOff : legacyBaseVaultOff+32]),
		QuoteVault:    base58.Encode(data[legacyQuoteVaultOff : legacyQuoteVaultOff+32]),
		EventQueue:    base58.Encode(data[legacyEventQueueOff : legacyEventQueueOff+32]),
		BidsAccount:   base58.Encode(data[legacyBidsOff : legacyBidsOff+32]),
		AsksAccount:   base58.Encode(data[legacyAsksOff : legacyAsksOff+32]),
		BaseLotSize:   binary.LittleEndian.Uint64(data[legacyBaseLotOff : legacyBaseLotOff+8]),
		QuoteLotSize:  binary.LittleEndian.Uint64(data[legacyQuoteLotOff : legacyQuoteLotOff+8]),
		BaseDecimals:  legacyBaseDecimals,
		QuoteDecimals: legacyQuoteDecimals,
	}
	return m, m.validate()
}

func (m *Market) validate() error {
	if m.BaseLotSize == 0 || m.QuoteLotSize == 0 {
		return fmt.Errorf("market account: zero lot size (base=%d quote=%d)", m.BaseLotSize, m.QuoteLotSize)
	}
	return nil
}
