// Package ingest subscribes to the program-log stream and turns fill events
// into durable Trade records feeding the pivot cache.
//
// The subscription is a logsSubscribe filtered to the traded program at
// "processed" commitment. Fill events are textual log lines; price, volume,
// and side are recovered by key-prefix scanning. Each emitted trade is saved
// to the store first and only then handed to the cache, so a crash can never
// leave the cache holding records absent from the log.
//
// The connection reconnects with exponential backoff (1s → 30s) and re-seeds
// the pivot cache from the store over the configured window after every
// reconnect, keeping pivot computations stable across disconnections.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"openbook-mm/internal/pivot"
	"openbook-mm/pkg/types"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	readTimeout    = 90 * time.Second
	writeTimeout   = 10 * time.Second

	// Consecutive trades further apart than this trip the gap detector.
	gapWarnSecs = 60
)

// TradeSink is the durable side of the pipeline.
type TradeSink interface {
	SaveTrade(t types.Trade) error
	GetRecentTrades(since int64) ([]types.Trade, error)
}

// Ingestor owns one log-stream subscription.
type Ingestor struct {
	wsURL     string
	programID string
	window    time.Duration
	sink      TradeSink
	cache     *pivot.Cache
	logger    *slog.Logger

	lastTradeTS int64
}

// New creates an ingestor for the given program id.
func New(wsURL, programID string, window time.Duration, sink TradeSink, cache *pivot.Cache, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		wsURL:     wsURL,
		programID: programID,
		window:    window,
		sink:      sink,
		cache:     cache,
		logger:    logger.With("component", "ingest"),
	}
}

// Run connects and maintains the subscription until ctx is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		err := in.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		in.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// seedCache rebuilds the pivot cache from the durable log over the window.
func (in *Ingestor) seedCache() error {
	since := time.Now().Add(-in.window).Unix()
	trades, err := in.sink.GetRecentTrades(since)
	if err != nil {
		return fmt.Errorf("seed cache: %w", err)
	}
	in.cache.Seed(trades)
	in.logger.Info("pivot cache seeded", "count", len(trades))
	return nil
}

func (in *Ingestor) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, in.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{in.programID}},
			map[string]interface{}{"commitment": "processed"},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if err := in.seedCache(); err != nil {
		return err
	}

	in.logger.Info("log stream connected", "program", in.programID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if err := in.handleMessage(msg); err != nil {
			// One bad message must not drop the stream.
			in.logger.Warn("failed to handle stream message", "error", err)
		}
	}
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string   `json:"signature"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (in *Ingestor) handleMessage(msg []byte) error {
	var note logsNotification
	if err := json.Unmarshal(msg, &note); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if note.Method != "logsNotification" {
		return nil
	}

	signature := note.Params.Result.Value.Signature
	if signature == "" {
		signature = "unknown"
	}

	emitted := 0
	for _, line := range note.Params.Result.Value.Logs {
		if !strings.Contains(line, "FillEvent") && !strings.Contains(line, "TradeEvent") {
			continue
		}

		trade, ok := ParseFillLine(line, fmt.Sprintf("%s-%d", signature, emitted), time.Now().Unix())
		if !ok {
			in.logger.Debug("fill line missing price or volume", "log", line)
			continue
		}
		emitted++

		if in.lastTradeTS != 0 && trade.Timestamp > in.lastTradeTS+gapWarnSecs {
			in.logger.Warn("trade gap detected",
				"previous", in.lastTradeTS,
				"current", trade.Timestamp,
			)
		}
		in.lastTradeTS = trade.Timestamp

		// Durable first, then the cache.
		if err := in.sink.SaveTrade(trade); err != nil {
			return fmt.Errorf("persist trade %s: %w", trade.ID, err)
		}
		in.cache.Record(trade)

		in.logger.Info("trade ingested",
			"price", trade.Price,
			"volume", trade.Volume,
			"side", trade.Side,
		)
	}
	return nil
}

// ParseFillLine extracts a trade from one event log line. Price comes from a
// "price" marker, volume from "volume" or "quantity"; both accept "key: v"
// and "key=v" forms with digits, '.', and '-' in the value. The side falls
// back to SELL when no buy marker is present.
func ParseFillLine(line, id string, nowUnix int64) (types.Trade, bool) {
	priceRaw := extractValue(line, "price:", "price=")
	volumeRaw := extractValue(line, "volume:", "volume=", "quantity:", "quantity=")
	if priceRaw == "" || volumeRaw == "" {
		return types.Trade{}, false
	}

	price, err := decimal.NewFromString(priceRaw)
	if err != nil {
		return types.Trade{}, false
	}
	volume, err := decimal.NewFromString(volumeRaw)
	if err != nil {
		return types.Trade{}, false
	}

	side := types.SELL
	lower := strings.ToLower(line)
	if strings.Contains(line, "side: 0") || strings.Contains(lower, "buy") {
		side = types.BUY
	}

	return types.Trade{
		ID:        id,
		Timestamp: nowUnix,
		Price:     price,
		Volume:    volume,
		Side:      side,
		Wallet:    "unknown",
	}, true
}

// extractValue scans for the first marker present and collects the numeric
// run that follows it.
func extractValue(line string, markers ...string) string {
	for _, marker := range markers {
		start := strings.Index(line, marker)
		if start < 0 {
			continue
		}

		var val strings.Builder
		for _, c := range line[start+len(marker):] {
			if c >= '0' && c <= '9' || c == '.' || c == '-' {
				val.WriteRune(c)
			} else if val.Len() > 0 {
				break
			}
		}
		if val.Len() > 0 {
			return val.String()
		}
	}
	return ""
}
