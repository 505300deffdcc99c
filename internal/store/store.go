// Package store provides the bot's durable state on SQLite.
//
// Five tables:
//
//	trades_history — append-only fill log, primary key id, indexed by timestamp
//	price_history  — minute-bucketed base/quote USD samples
//	bot_state      — last-writer-wins key/value bookkeeping (PnL cursors,
//	                 kill-switch shared key)
//	wallets        — persisted signer secrets keyed by public key
//	latency_history — health-check latency samples per service
//
// Saves are idempotent: re-saving a trade by id or a price tick in the same
// minute bucket is a no-op. Reads return (timestamp asc, id asc) total order —
// PnL replay relies on it.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"openbook-mm/pkg/types"
)

// Store wraps the SQLite connection pool. Safe for concurrent use; the
// database/sql pool serializes access per connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and runs DDL.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trades_history (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			price TEXT NOT NULL,
			volume TEXT NOT NULL,
			side TEXT NOT NULL,
			wallet TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades_history (timestamp)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			timestamp INTEGER PRIMARY KEY,
			base_price TEXT NOT NULL,
			quote_price TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			pubkey TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			added_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS latency_history (
			timestamp INTEGER NOT NULL,
			service TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_latency_service_ts ON latency_history (service, timestamp)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable (used by the health checker).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// ————————————————————————————————————————————————————————————————————————
// Key/value state
// ————————————————————————————————————————————————————————————————————————

// SetState upserts a bookkeeping value. Last writer wins.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO bot_state (key, value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET
		     value = excluded.value,
		     updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set state %q: %w", key, err)
	}
	return nil
}

// GetState returns the value for key, or ("", false) when absent.
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %q: %w", key, err)
	}
	return value, true, nil
}

// DeleteState removes a bookkeeping key. Missing keys are not an error.
func (s *Store) DeleteState(key string) error {
	if _, err := s.db.Exec(`DELETE FROM bot_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state %q: %w", key, err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// SaveTrade appends a fill. Idempotent by id: re-saving is a no-op.
func (s *Store) SaveTrade(t types.Trade) error {
	_, err := s.db.Exec(
		`INSERT INTO trades_history (id, timestamp, price, volume, side, wallet)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Timestamp, t.Price.String(), t.Volume.String(), t.Side.Store(), t.Wallet,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

// GetRecentTrades returns all fills with timestamp >= since, ordered by
// (timestamp asc, id asc).
func (s *Store) GetRecentTrades(since int64) ([]types.Trade, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, price, volume, side, wallet
		 FROM trades_history WHERE timestamp >= ?
		 ORDER BY timestamp ASC, id ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		var (
			t          types.Trade
			price, vol string
			side       string
		)
		if err := rows.Scan(&t.ID, &t.Timestamp, &price, &vol, &side, &t.Wallet); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse trade price %q: %w", price, err)
		}
		t.Volume, err = decimal.NewFromString(vol)
		if err != nil {
			return nil, fmt.Errorf("parse trade volume %q: %w", vol, err)
		}
		t.Side = types.ParseSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Price history
// ————————————————————————————————————————————————————————————————————————

// SavePriceTick records a base/quote USD sample, bucketed to the minute.
// A second sample in the same minute is a no-op.
func (s *Store) SavePriceTick(basePrice, quotePrice decimal.Decimal) error {
	bucket := time.Now().Unix() / 60 * 60
	return s.savePriceTickAt(bucket, basePrice, quotePrice)
}

func (s *Store) savePriceTickAt(ts int64, basePrice, quotePrice decimal.Decimal) error {
	_, err := s.db.Exec(
		`INSERT INTO price_history (timestamp, base_price, quote_price)
		 VALUES (?, ?, ?)
		 ON CONFLICT(timestamp) DO NOTHING`,
		ts, basePrice.String(), quotePrice.String(),
	)
	if err != nil {
		return fmt.Errorf("save price tick: %w", err)
	}
	return nil
}

// SaveHistoricalPriceTicks bulk-loads seed history (e.g. from a kline series).
func (s *Store) SaveHistoricalPriceTicks(ticks []types.PriceTick) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO price_history (timestamp, base_price, quote_price)
		 VALUES (?, ?, ?)
		 ON CONFLICT(timestamp) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, tick := range ticks {
		bucket := tick.Timestamp / 60 * 60
		if _, err := stmt.Exec(bucket, tick.BasePrice.String(), tick.QuotePrice.String()); err != nil {
			return fmt.Errorf("insert tick %d: %w", tick.Timestamp, err)
		}
	}
	return tx.Commit()
}

// GetPriceHistory returns samples with timestamp >= since in ascending order.
func (s *Store) GetPriceHistory(since int64) ([]types.PriceTick, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, base_price, quote_price
		 FROM price_history WHERE timestamp >= ?
		 ORDER BY timestamp ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var ticks []types.PriceTick
	for rows.Next() {
		var (
			tick        types.PriceTick
			base, quote string
		)
		if err := rows.Scan(&tick.Timestamp, &base, &quote); err != nil {
			return nil, fmt.Errorf("scan price tick: %w", err)
		}
		tick.BasePrice, err = decimal.NewFromString(base)
		if err != nil {
			return nil, fmt.Errorf("parse base price %q: %w", base, err)
		}
		tick.QuotePrice, err = decimal.NewFromString(quote)
		if err != nil {
			return nil, fmt.Errorf("parse quote price %q: %w", quote, err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Wallets
// ————————————————————————————————————————————————————————————————————————

// SaveWallet persists a signer secret keyed by its public key. The registry
// writes here before the in-memory add so a crash cannot leave an in-memory
// wallet absent from disk.
func (s *Store) SaveWallet(pubkey, secret string) error {
	_, err := s.db.Exec(
		`INSERT INTO wallets (pubkey, secret) VALUES (?, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET secret = excluded.secret`,
		pubkey, secret,
	)
	if err != nil {
		return fmt.Errorf("save wallet %s: %w", pubkey, err)
	}
	return nil
}

// GetWallets returns all persisted (pubkey, secret) pairs in insertion order.
func (s *Store) GetWallets() ([][2]string, error) {
	rows, err := s.db.Query(`SELECT pubkey, secret FROM wallets ORDER BY added_at ASC, pubkey ASC`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var pubkey, secret string
		if err := rows.Scan(&pubkey, &secret); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, [2]string{pubkey, secret})
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Latency history
// ————————————————————————————————————————————————————————————————————————

// SaveLatencyReport appends one health-check sample.
func (s *Store) SaveLatencyReport(tick types.LatencyTick) error {
	_, err := s.db.Exec(
		`INSERT INTO latency_history (timestamp, service, latency_ms, status)
		 VALUES (?, ?, ?, ?)`,
		tick.Timestamp, tick.Service, tick.LatencyMs, tick.Status,
	)
	if err != nil {
		return fmt.Errorf("save latency report: %w", err)
	}
	return nil
}

// GetLatencyHistory returns samples for one service since the given timestamp.
func (s *Store) GetLatencyHistory(service string, since int64) ([]types.LatencyTick, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, service, latency_ms, status
		 FROM latency_history WHERE service = ? AND timestamp >= ?
		 ORDER BY timestamp ASC`,
		service, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query latency history: %w", err)
	}
	defer rows.Close()

	var ticks []types.LatencyTick
	for rows.Next() {
		var tick types.LatencyTick
		if err := rows.Scan(&tick.Timestamp, &tick.Service, &tick.LatencyMs, &tick.Status); err != nil {
			return nil, fmt.Errorf("scan latency tick: %w", err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}
