package cache

import (
	"database/sql"
	"fmt"
	"time"

	"StockSentry/internal/model"
)

// metaDB records the per-partition watermark and last-refresh time so a
// restart resumes without re-scanning the cache. Both backends keep it in
// SQLite, next to (or inside) their bar storage.
type metaDB struct {
	db *sql.DB
}

func newMetaDB(db *sql.DB) (*metaDB, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_meta (
			symbol       TEXT NOT NULL,
			timeframe    TEXT NOT NULL,
			bar_count    INTEGER NOT NULL,
			oldest_ts    INTEGER,
			newest_ts    INTEGER,
			refreshed_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return nil, fmt.Errorf("migrate cache_meta: %w", err)
		}
	}
	return &metaDB{db: db}, nil
}

func (m *metaDB) upsert(key Key, barCount int, oldest, newest time.Time) error {
	// Empty partitions store NULL bounds so watermark reads stay absent
	// instead of reporting the zero time.
	var oldestMs, newestMs any
	if barCount > 0 {
		oldestMs = oldest.UTC().UnixMilli()
		newestMs = newest.UTC().UnixMilli()
	}
	_, err := m.db.Exec(`INSERT OR REPLACE INTO cache_meta
		(symbol, timeframe, bar_count, oldest_ts, newest_ts, refreshed_at)
		VALUES (?,?,?,?,?,?)`,
		key.Symbol, string(key.Timeframe), barCount,
		oldestMs, newestMs, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert cache_meta %s: %w", key, err)
	}
	return nil
}

func (m *metaDB) watermark(key Key) (time.Time, bool, error) {
	var newest sql.NullInt64
	err := m.db.QueryRow(`SELECT newest_ts FROM cache_meta WHERE symbol = ? AND timeframe = ?`,
		key.Symbol, string(key.Timeframe)).Scan(&newest)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark %s: %w", key, err)
	}
	if !newest.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(newest.Int64).UTC(), true, nil
}

func (m *metaDB) lastRefreshed(key Key) (time.Time, bool, error) {
	var at sql.NullInt64
	err := m.db.QueryRow(`SELECT refreshed_at FROM cache_meta WHERE symbol = ? AND timeframe = ?`,
		key.Symbol, string(key.Timeframe)).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read refreshed_at %s: %w", key, err)
	}
	if !at.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(at.Int64).UTC(), true, nil
}

func (m *metaDB) barCount(key Key) (int, error) {
	var n int
	err := m.db.QueryRow(`SELECT bar_count FROM cache_meta WHERE symbol = ? AND timeframe = ?`,
		key.Symbol, string(key.Timeframe)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read bar_count %s: %w", key, err)
	}
	return n, nil
}

func (m *metaDB) keys() ([]Key, error) {
	rows, err := m.db.Query(`SELECT symbol, timeframe FROM cache_meta ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var sym, tf string
		if err := rows.Scan(&sym, &tf); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, Key{Symbol: sym, Timeframe: model.Timeframe(tf)})
	}
	return keys, rows.Err()
}
