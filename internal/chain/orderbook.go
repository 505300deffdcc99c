package chain

import (
	"context"
	"fmt"
	"time"

	"openbook-mm/internal/codec"
	"openbook-mm/pkg/types"
)

// GetMarket fetches and decodes the market-state account.
func (c *Client) GetMarket(ctx context.Context, marketID string) (*codec.Market, error) {
	data, err := c.GetAccountData(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", marketID, err)
	}
	mkt, err := codec.UnpackMarket(data)
	if err != nil {
		return nil, fmt.Errorf("decode market %s: %w", marketID, err)
	}
	return mkt, nil
}

// GetOrderbook fetches the market plus both book sides and decodes the full
// depth snapshot. Both sides come down in one getMultipleAccounts round trip.
func (c *Client) GetOrderbook(ctx context.Context, marketID string) (*types.Orderbook, *codec.Market, error) {
	mkt, err := c.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}

	sides, err := c.GetMultipleAccounts(ctx, []string{mkt.BidsAccount, mkt.AsksAccount})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch book sides: %w", err)
	}
	if sides[0] == nil || sides[1] == nil {
		return nil, nil, fmt.Errorf("book side accounts missing for market %s", marketID)
	}

	bids, err := codec.UnpackBookSide(sides[0], true, mkt)
	if err != nil {
		return nil, nil, fmt.Errorf("decode bids: %w", err)
	}
	asks, err := codec.UnpackBookSide(sides[1], false, mkt)
	if err != nil {
		return nil, nil, fmt.Errorf("decode asks: %w", err)
	}

	return &types.Orderbook{
		MarketID:  marketID,
		Timestamp: time.Now(),
		Bids:      bids,
		Asks:      asks,
	}, mkt, nil
}
