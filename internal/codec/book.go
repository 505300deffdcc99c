package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

// A book-side account is a fixed header followed by an array of fixed-size
// node slots. Only leaf nodes carry a price; the leaf's 128-bit key holds the
// price in lots in its upper 64 bits.
const (
	leafTag = 2

	// Node scanning is capped so malformed accounts cannot force unbounded work.
	maxNodes = 1024

	currentNodesStart = 8 + 128
	currentNodeSize   = 88
	// Current leaf: tag byte, then key u128 at +9, quantity i64 at +57.
	currentKeyOff = 1 + 8
	currentQtyOff = 1 + 56

	legacyNodesStart = 45
	legacyNodeSize   = 72
	// Legacy leaf: 4-byte tag field (low byte carries the tag), key u128 at +8,
	// quantity u64 at +56.
	legacyKeyOff = 8
	legacyQtyOff = 56
)

// UnpackBookSide decodes one side of the book into human-unit levels.
// Bids come back sorted strictly descending, asks ascending; ties are broken
// by original node index so the order is total.
func UnpackBookSide(data []byte, isBids bool, mkt *Market) ([]types.OrderbookLevel, error) {
	switch mkt.Dialect {
	case DialectLegacy:
		return unpackBookSideNodes(data, isBids, mkt, legacyNodesStart, legacyNodeSize, legacyKeyOff, legacyQtyOff)
	default:
		if err := need(data, 0, 8); err != nil {
			return nil, err
		}
		if [8]byte(data[0:8]) != BookSideDiscriminator {
			return nil, fmt.Errorf("book side account: %w", ErrBadDiscriminator)
		}
		return unpackBookSideNodes(data, isBids, mkt, currentNodesStart, currentNodeSize, currentKeyOff, currentQtyOff)
	}
}

type indexedLevel struct {
	level types.OrderbookLevel
	index int
}

func unpackBookSideNodes(data []byte, isBids bool, mkt *Market, nodesStart, nodeSize, keyOff, qtyOff int) ([]types.OrderbookLevel, error) {
	if err := need(data, 0, nodesStart); err != nil {
		return nil, err
	}

	basePow := pow10(mkt.BaseDecimals)
	quotePow := pow10(mkt.QuoteDecimals)
	baseLot := decimal.NewFromUint64(mkt.BaseLotSize)
	quoteLot := decimal.NewFromUint64(mkt.QuoteLotSize)

	nodeCount := (len(data) - nodesStart) / nodeSize
	if nodeCount > maxNodes {
		nodeCount = maxNodes
	}

	var levels []indexedLevel
	for i := 0; i < nodeCount; i++ {
		off := nodesStart + i*nodeSize
		if data[off] != leafTag {
			continue
		}

		key := readU128(data[off+keyOff : off+keyOff+16])
		quantity := int64(binary.LittleEndian.Uint64(data[off+qtyOff : off+qtyOff+8]))
		if quantity <= 0 {
			continue
		}

		priceLots := decimal.NewFromUint64(key.Hi)
		price := priceLots.Mul(quoteLot).Mul(basePow).Div(baseLot.Mul(quotePow))
		size := decimal.NewFromInt(quantity).Mul(baseLot).Div(basePow)

		levels = append(levels, indexedLevel{
			level: types.OrderbookLevel{Price: price, Size: size},
			index: i,
		})
	}

	sort.SliceStable(levels, func(a, b int) bool {
		cmp := levels[a].level.Price.Cmp(levels[b].level.Price)
		if cmp == 0 {
			return levels[a].index < levels[b].index
		}
		if isBids {
			return cmp > 0
		}
		return cmp < 0
	})

	out := make([]types.OrderbookLevel, len(levels))
	for i, l := range levels {
		out[i] = l.level
	}
	return out, nil
}

type U128 struct {
	Lo, Hi uint64
}

func readU128(b []byte) U128 {
	return U128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func pow10(exp uint8) decimal.Decimal {
	return decimal.New(1, int32(exp))
}
