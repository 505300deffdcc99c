// Package swap converts base and quote inventory through the external swap
// aggregator: GET a quote, POST for a prepared transaction, then sign and
// submit it through the chain client.
package swap

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"openbook-mm/internal/chain"
	"openbook-mm/internal/config"
)

// Submitter is the slice of the chain client the swapper needs.
type Submitter interface {
	SendAndConfirmTransaction(ctx context.Context, tx []byte) (string, error)
}

// Client drives the quote → swap → sign → submit flow.
type Client struct {
	http      *resty.Client
	cfg       config.SwapConfig
	submitter Submitter
	logger    *slog.Logger
}

// NewClient creates a swap aggregator client.
func NewClient(cfg config.SwapConfig, submitter Submitter, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:      httpClient,
		cfg:       cfg,
		submitter: submitter,
		logger:    logger.With("component", "swap"),
	}
}

// quoteResponse is passed through opaquely to the swap endpoint.
type quoteResponse map[string]interface{}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Swap converts amount (raw units of inputMint) into outputMint through the
// aggregator, signing with the given wallet. Returns the landed signature.
func (c *Client) Swap(ctx context.Context, signer *chain.Keypair, inputMint, outputMint string, amount uint64, slippageBps uint16) (string, error) {
	if slippageBps == 0 {
		slippageBps = c.cfg.SlippageBps
	}

	var quote quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   inputMint,
			"outputMint":  outputMint,
			"amount":      strconv.FormatUint(amount, 10),
			"slippageBps": strconv.FormatUint(uint64(slippageBps), 10),
		}).
		ForceContentType("application/json").
		SetResult(&quote).
		Get(c.cfg.QuoteURL)
	if err != nil {
		return "", fmt.Errorf("swap quote: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("swap quote: status %d: %s", resp.StatusCode(), resp.String())
	}

	var swapResp swapResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"quoteResponse":    quote,
			"userPublicKey":    signer.Pubkey(),
			"wrapAndUnwrapSol": true,
		}).
		ForceContentType("application/json").
		SetResult(&swapResp).
		Post(c.cfg.SwapURL)
	if err != nil {
		return "", fmt.Errorf("swap build: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("swap build: status %d: %s", resp.StatusCode(), resp.String())
	}
	if swapResp.SwapTransaction == "" {
		return "", fmt.Errorf("swap build: empty transaction in response")
	}

	raw, err := base64.StdEncoding.DecodeString(swapResp.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("decode swap transaction: %w", err)
	}

	signed, err := signPreparedTransaction(raw, signer)
	if err != nil {
		return "", fmt.Errorf("sign swap transaction: %w", err)
	}

	sig, err := c.submitter.SendAndConfirmTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit swap: %w", err)
	}

	c.logger.Info("swap submitted",
		"signature", sig,
		"input_mint", inputMint,
		"output_mint", outputMint,
		"amount", amount,
	)
	return sig, nil
}

// signPreparedTransaction fills the first (fee payer) signature slot of a
// serialized transaction the aggregator prepared. The aggregator always puts
// the user as the sole required signer.
func signPreparedTransaction(tx []byte, signer *chain.Keypair) ([]byte, error) {
	if len(tx) < 1 {
		return nil, fmt.Errorf("empty transaction")
	}
	numSigs := int(tx[0])
	if numSigs < 1 || numSigs > 8 {
		return nil, fmt.Errorf("unexpected signature count %d", numSigs)
	}
	msgStart := 1 + numSigs*64
	if len(tx) <= msgStart {
		return nil, fmt.Errorf("transaction shorter than its signature table")
	}

	out := make([]byte, len(tx))
	copy(out, tx)
	sig := signer.Sign(tx[msgStart:])
	copy(out[1:65], sig)
	return out, nil
}
