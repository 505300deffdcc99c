// Package aggregator fetches USD and native reference prices for the traded
// pair from the public dex price aggregator.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"openbook-mm/pkg/types"
)

const defaultBaseURL = "https://api.dexscreener.com"

// Client is the price-aggregator HTTP client.
type Client struct {
	http  *resty.Client
	chain string
}

// NewClient creates a price aggregator client. baseURL is overridable for
// tests; empty selects the public endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Client{http: httpClient, chain: "solana"}
}

type pairResponse struct {
	Pairs []struct {
		PriceUSD    string `json:"priceUsd"`
		PriceNative string `json:"priceNative"`
		Volume      struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
	} `json:"pairs"`
}

// Quote is the aggregator's view of a pair.
type Quote struct {
	PriceUSD    decimal.Decimal
	PriceNative decimal.Decimal
	Volume24h   decimal.Decimal
}

// FetchPair returns the current USD/native quote for a pair address.
func (c *Client) FetchPair(ctx context.Context, pairAddress string) (*Quote, error) {
	var result pairResponse
	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&result).
		Get(fmt.Sprintf("/latest/dex/pairs/%s/%s", c.chain, pairAddress))
	if err != nil {
		return nil, fmt.Errorf("fetch pair %s: %w", pairAddress, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch pair %s: status %d", pairAddress, resp.StatusCode())
	}
	if len(result.Pairs) == 0 {
		return nil, fmt.Errorf("no price data for pair %s", pairAddress)
	}

	pair := result.Pairs[0]
	priceUSD, err := decimal.NewFromString(pair.PriceUSD)
	if err != nil {
		return nil, fmt.Errorf("parse priceUsd %q: %w", pair.PriceUSD, err)
	}
	priceNative := decimal.Zero
	if pair.PriceNative != "" {
		priceNative, err = decimal.NewFromString(pair.PriceNative)
		if err != nil {
			return nil, fmt.Errorf("parse priceNative %q: %w", pair.PriceNative, err)
		}
	}

	return &Quote{
		PriceUSD:    priceUSD,
		PriceNative: priceNative,
		Volume24h:   decimal.NewFromFloat(pair.Volume.H24),
	}, nil
}

type klineResponse struct {
	Bars []struct {
		Timestamp int64   `json:"timestamp"`
		Close     float64 `json:"close"`
	} `json:"bars"`
}

// FetchSeedHistory pulls a kline series used to seed the price-history table
// on first boot.
func (c *Client) FetchSeedHistory(ctx context.Context, pairAddress string, fromUnix int64) ([]types.PriceTick, error) {
	var result klineResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("from", fmt.Sprintf("%d", fromUnix)).
		ForceContentType("application/json").
		SetResult(&result).
		Get(fmt.Sprintf("/latest/dex/pairs/%s/%s/bars", c.chain, pairAddress))
	if err != nil {
		return nil, fmt.Errorf("fetch seed history %s: %w", pairAddress, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch seed history %s: status %d", pairAddress, resp.StatusCode())
	}

	ticks := make([]types.PriceTick, 0, len(result.Bars))
	for _, bar := range result.Bars {
		ticks = append(ticks, types.PriceTick{
			Timestamp: bar.Timestamp,
			BasePrice: decimal.NewFromFloat(bar.Close),
			QuotePrice: decimal.NewFromInt(1),
		})
	}
	return ticks, nil
}
