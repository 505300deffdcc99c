package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Relay submits atomic transaction bundles to the block-builder relay over
// JSON-RPC. Relay errors come back opaque; retry policy belongs to the
// trading loop, not here.
type Relay struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

// NewRelay creates a bundle relay client.
func NewRelay(relayURL string, logger *slog.Logger) *Relay {
	httpClient := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Relay{
		http:   httpClient,
		url:    relayURL,
		logger: logger.With("component", "relay"),
	}
}

type relayResponse struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// SendBundle submits base64-serialized transactions as one atomic bundle and
// returns the relay's bundle id.
func (r *Relay) SendBundle(ctx context.Context, txsBase64 []string) (string, error) {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "sendBundle",
		"params":  []interface{}{txsBase64},
	}

	var result relayResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&result).
		Post(r.url)
	if err != nil {
		return "", fmt.Errorf("send bundle: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("send bundle: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Error) > 0 {
		return "", fmt.Errorf("send bundle rejected: %s", string(result.Error))
	}
	if result.Result == "" {
		return "", fmt.Errorf("send bundle: missing bundle id in response")
	}

	r.logger.Info("bundle submitted", "bundle_id", result.Result, "txs", len(txsBase64))
	return result.Result, nil
}
