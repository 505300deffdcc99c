package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is the JSON-RPC chain client. It wraps a resty HTTP client with
// retry on 5xx and a per-request context deadline supplied by callers.
type Client struct {
	http       *resty.Client
	commitment string
	logger     *slog.Logger

	reqID atomic.Uint64
}

// NewClient creates an RPC client for the given endpoint.
func NewClient(rpcURL, commitment string, logger *slog.Logger) *Client {
	if commitment == "" {
		commitment = "confirmed"
	}
	httpClient := resty.New().
		SetBaseURL(rpcURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:       httpClient,
		commitment: commitment,
		logger:     logger.With("component", "chain"),
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.reqID.Add(1),
		"method":  method,
		"params":  params,
	}

	var rpcResp rpcResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&rpcResp).
		Post("")
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode(), resp.String())
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// commitmentOpt is the standard trailing options object.
func (c *Client) commitmentOpt(extra map[string]interface{}) map[string]interface{} {
	opt := map[string]interface{}{"commitment": c.commitment}
	for k, v := range extra {
		opt[k] = v
	}
	return opt
}

// GetBalance returns the native balance in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	err := c.call(ctx, "getBalance", []interface{}{address, c.commitmentOpt(nil)}, &result)
	return result.Value, err
}

// GetTokenBalance returns the raw token amount held in the owner's
// associated account for mint. A missing account reads as zero.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, error) {
	ata, err := AssociatedTokenAccount(owner, mint)
	if err != nil {
		return 0, err
	}

	var result struct {
		Value struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenAccountBalance", []interface{}{ata, c.commitmentOpt(nil)}, &result); err != nil {
		// The RPC reports a missing account as an error; treat it as empty.
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return 0, nil
		}
		return 0, err
	}
	if result.Value.Amount == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

type accountInfo struct {
	Data     []string `json:"data"` // [payload, encoding]
	Lamports uint64   `json:"lamports"`
	Owner    string   `json:"owner"`
}

func (a *accountInfo) decode() ([]byte, error) {
	if len(a.Data) < 1 {
		return nil, fmt.Errorf("account info carries no data")
	}
	return base64.StdEncoding.DecodeString(a.Data[0])
}

// GetAccountData fetches one account's raw bytes. A missing account is an error.
func (c *Client) GetAccountData(ctx context.Context, address string) ([]byte, error) {
	var result struct {
		Value *accountInfo `json:"value"`
	}
	opts := c.commitmentOpt(map[string]interface{}{"encoding": "base64"})
	if err := c.call(ctx, "getAccountInfo", []interface{}{address, opts}, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("account %s not found", address)
	}
	return result.Value.decode()
}

// GetMultipleAccounts fetches raw bytes for several accounts in one request.
// Missing accounts come back as nil entries.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string) ([][]byte, error) {
	var result struct {
		Value []*accountInfo `json:"value"`
	}
	opts := c.commitmentOpt(map[string]interface{}{"encoding": "base64"})
	if err := c.call(ctx, "getMultipleAccounts", []interface{}{addresses, opts}, &result); err != nil {
		return nil, err
	}

	out := make([][]byte, len(result.Value))
	for i, info := range result.Value {
		if info == nil {
			continue
		}
		data, err := info.decode()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", addresses[i], err)
		}
		out[i] = data
	}
	return out, nil
}

// MemcmpFilter matches accounts whose data at Offset equals the base58 Bytes.
type MemcmpFilter struct {
	Offset int
	Bytes  string
}

// ProgramAccount pairs an account address with its raw data.
type ProgramAccount struct {
	Pubkey string
	Data   []byte
}

// GetProgramAccountsWithConfig lists program-owned accounts filtered by exact
// data size (0 = any) and memcmp windows.
func (c *Client) GetProgramAccountsWithConfig(ctx context.Context, programID string, dataSize int, memcmps []MemcmpFilter) ([]ProgramAccount, error) {
	filters := make([]interface{}, 0, len(memcmps)+1)
	if dataSize > 0 {
		filters = append(filters, map[string]interface{}{"dataSize": dataSize})
	}
	for _, m := range memcmps {
		filters = append(filters, map[string]interface{}{
			"memcmp": map[string]interface{}{"offset": m.Offset, "bytes": m.Bytes},
		})
	}

	var result []struct {
		Pubkey  string       `json:"pubkey"`
		Account *accountInfo `json:"account"`
	}
	opts := c.commitmentOpt(map[string]interface{}{"encoding": "base64", "filters": filters})
	if err := c.call(ctx, "getProgramAccounts", []interface{}{programID, opts}, &result); err != nil {
		return nil, err
	}

	out := make([]ProgramAccount, 0, len(result))
	for _, entry := range result {
		if entry.Account == nil {
			continue
		}
		data, err := entry.Account.decode()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", entry.Pubkey, err)
		}
		out = append(out, ProgramAccount{Pubkey: entry.Pubkey, Data: data})
	}
	return out, nil
}

// GetLatestBlockhash returns a fresh recent blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash", []interface{}{c.commitmentOpt(nil)}, &result)
	return result.Value.Blockhash, err
}

// TokenHolding is one entry from getTokenLargestAccounts.
type TokenHolding struct {
	Address string
	Amount  uint64
}

// GetTokenLargestAccounts lists the largest holders of a mint.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenHolding, error) {
	var result struct {
		Value []struct {
			Address string `json:"address"`
			Amount  string `json:"amount"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenLargestAccounts", []interface{}{mint, c.commitmentOpt(nil)}, &result); err != nil {
		return nil, err
	}

	out := make([]TokenHolding, 0, len(result.Value))
	for _, v := range result.Value {
		amount, err := strconv.ParseUint(v.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse holding amount %q: %w", v.Amount, err)
		}
		out = append(out, TokenHolding{Address: v.Address, Amount: amount})
	}
	return out, nil
}

// GetTokenSupply returns the raw total supply of a mint.
func (c *Client) GetTokenSupply(ctx context.Context, mint string) (uint64, error) {
	var result struct {
		Value struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []interface{}{mint, c.commitmentOpt(nil)}, &result); err != nil {
		return 0, err
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse supply %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// SendAndConfirmTransaction submits a serialized transaction and polls until
// the signature reaches the client's commitment or ctx expires.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx []byte) (string, error) {
	var signature string
	opts := map[string]interface{}{"encoding": "base64", "preflightCommitment": c.commitment}
	if err := c.call(ctx, "sendTransaction", []interface{}{EncodeBase64(tx), opts}, &signature); err != nil {
		return "", err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return signature, fmt.Errorf("confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}

		var result struct {
			Value []*struct {
				ConfirmationStatus string      `json:"confirmationStatus"`
				Err                interface{} `json:"err"`
			} `json:"value"`
		}
		if err := c.call(ctx, "getSignatureStatuses", []interface{}{[]string{signature}}, &result); err != nil {
			c.logger.Warn("signature status poll failed", "error", err)
			continue
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}
		status := result.Value[0]
		if status.Err != nil {
			return signature, fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err)
		}
		if status.ConfirmationStatus == c.commitment || status.ConfirmationStatus == "finalized" {
			return signature, nil
		}
	}
}

// Health reports whether the RPC endpoint answers getVersion.
func (c *Client) Health(ctx context.Context) bool {
	var result struct {
		SolanaCore string `json:"solana-core"`
	}
	if err := c.call(ctx, "getVersion", []interface{}{}, &result); err != nil {
		c.logger.Error("health check failed", "error", err)
		return false
	}
	return true
}
