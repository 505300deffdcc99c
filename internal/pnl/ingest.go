package pnl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"openbook-mm/pkg/types"
)

// State keys holding the replay cursor.
const (
	stateKeyLastTS  = "pnl_last_trade_ts"
	stateKeyLastIDs = "pnl_last_trade_ids"
)

// CursorStore is the slice of the key/value table the ingestor needs.
type CursorStore interface {
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
}

// TradeSource is the windowed read the ingestor replays from.
type TradeSource interface {
	GetRecentTrades(since int64) ([]types.Trade, error)
}

// Ingestor replays new fills into the tracker exactly once across restarts.
//
// A single timestamp cursor double-counts when several fills share a
// timestamp, so the cursor is the pair (last_ts, set of ids at last_ts): a
// fill is new when its timestamp is past the cursor, or equal with an id not
// in the set.
type Ingestor struct {
	tracker *Tracker
	source  TradeSource
	cursor  CursorStore
}

// NewIngestor wires the replay pipeline.
func NewIngestor(tracker *Tracker, source TradeSource, cursor CursorStore) *Ingestor {
	return &Ingestor{tracker: tracker, source: source, cursor: cursor}
}

// Ingest queries fills since the cursor and applies the new ones in
// (timestamp asc, id asc) order, then advances the cursor to the newest
// processed timestamp with the full id set observed at that timestamp.
// Returns the number of fills applied.
func (i *Ingestor) Ingest() (int, error) {
	lastTS, lastIDs, err := i.loadCursor()
	if err != nil {
		return 0, err
	}

	trades, err := i.source.GetRecentTrades(lastTS)
	if err != nil {
		return 0, fmt.Errorf("query fills since %d: %w", lastTS, err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	// The store contract orders by (timestamp, id); keep the sort as a
	// guard for fake sources in tests.
	sort.Slice(trades, func(a, b int) bool { return trades[a].Before(trades[b]) })

	applied := 0
	newestTS := lastTS
	newestIDs := make(map[string]struct{}, len(lastIDs))
	for id := range lastIDs {
		newestIDs[id] = struct{}{}
	}
	for _, t := range trades {
		if t.Timestamp < lastTS {
			continue
		}
		if t.Timestamp == lastTS {
			if _, seen := lastIDs[t.ID]; seen {
				continue
			}
		}

		i.tracker.Record(t.Side, t.Price, t.Volume)
		applied++

		if t.Timestamp > newestTS {
			newestTS = t.Timestamp
			newestIDs = map[string]struct{}{}
		}
		newestIDs[t.ID] = struct{}{}
	}

	if applied == 0 {
		return 0, nil
	}
	if err := i.saveCursor(newestTS, newestIDs); err != nil {
		return applied, err
	}
	return applied, nil
}

func (i *Ingestor) loadCursor() (int64, map[string]struct{}, error) {
	ids := map[string]struct{}{}

	tsRaw, ok, err := i.cursor.GetState(stateKeyLastTS)
	if err != nil {
		return 0, nil, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		return 0, ids, nil
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("parse cursor timestamp %q: %w", tsRaw, err)
	}

	idsRaw, ok, err := i.cursor.GetState(stateKeyLastIDs)
	if err != nil {
		return 0, nil, fmt.Errorf("load cursor ids: %w", err)
	}
	if ok && idsRaw != "" {
		for _, id := range strings.Split(idsRaw, ",") {
			ids[id] = struct{}{}
		}
	}
	return ts, ids, nil
}

func (i *Ingestor) saveCursor(ts int64, ids map[string]struct{}) error {
	if err := i.cursor.SetState(stateKeyLastTS, strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	if err := i.cursor.SetState(stateKeyLastIDs, strings.Join(sorted, ",")); err != nil {
		return fmt.Errorf("save cursor ids: %w", err)
	}
	return nil
}
