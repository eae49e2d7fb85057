package cache

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"StockSentry/internal/model"
)

// SQLiteStore is the fallback backend: bars and meta in one database.
type SQLiteStore struct {
	db    *sql.DB
	meta  *metaDB
	locks *keyLocks
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ohlcv_bars (
			symbol    TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL NOT NULL,
			high      REAL NOT NULL,
			low       REAL NOT NULL,
			close     REAL NOT NULL,
			volume    REAL NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_key_ts ON ohlcv_bars(symbol, timeframe, ts)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ohlcv_bars: %w", err)
		}
	}
	meta, err := newMetaDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[INFO] sqlite cache opened: %s", path)
	return &SQLiteStore{db: db, meta: meta, locks: newKeyLocks()}, nil
}

func (s *SQLiteStore) queryBars(key Key, where string, args ...any) ([]model.Bar, error) {
	q := `SELECT ts, open, high, low, close, volume FROM ohlcv_bars
		WHERE symbol = ? AND timeframe = ?` + where + ` ORDER BY ts`
	qargs := append([]any{key.Symbol, string(key.Timeframe)}, args...)
	rows, err := s.db.Query(q, qargs...)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", key, err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var ts int64
		var b model.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar %s: %w", key, err)
		}
		b.Time = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func (s *SQLiteStore) Bars(key Key) ([]model.Bar, error) {
	return s.queryBars(key, "")
}

func (s *SQLiteStore) BarsRange(key Key, start, end time.Time) ([]model.Bar, error) {
	return s.queryBars(key, " AND ts >= ? AND ts <= ?",
		start.UTC().UnixMilli(), end.UTC().UnixMilli())
}

func (s *SQLiteStore) Append(key Key, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	unlock := s.locks.lock(key)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append %s: %w", key, err)
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO ohlcv_bars
		(symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare append %s: %w", key, err)
	}
	for _, b := range bars {
		if _, err := stmt.Exec(key.Symbol, string(key.Timeframe), b.Time.UTC().UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("append bar %s: %w", key, err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append %s: %w", key, err)
	}
	return s.refreshMeta(key)
}

// refreshMeta recomputes the partition summary from the bars table.
func (s *SQLiteStore) refreshMeta(key Key) error {
	var count int
	var oldest, newest sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), MIN(ts), MAX(ts) FROM ohlcv_bars
		WHERE symbol = ? AND timeframe = ?`, key.Symbol, string(key.Timeframe)).
		Scan(&count, &oldest, &newest)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", key, err)
	}
	if count == 0 {
		return s.meta.upsert(key, 0, time.Time{}, time.Time{})
	}
	return s.meta.upsert(key, count,
		time.UnixMilli(oldest.Int64).UTC(), time.UnixMilli(newest.Int64).UTC())
}

func (s *SQLiteStore) Watermark(key Key) (time.Time, bool, error) {
	return s.meta.watermark(key)
}

func (s *SQLiteStore) LastRefreshed(key Key) (time.Time, bool, error) {
	return s.meta.lastRefreshed(key)
}

func (s *SQLiteStore) BarCount(key Key) (int, error) {
	return s.meta.barCount(key)
}

func (s *SQLiteStore) Prune(key Key, keepLastN int) (int, error) {
	if keepLastN < 1 {
		return 0, fmt.Errorf("prune %s: keepLastN must be positive", key)
	}
	unlock := s.locks.lock(key)
	defer unlock()

	res, err := s.db.Exec(`DELETE FROM ohlcv_bars
		WHERE symbol = ? AND timeframe = ? AND ts < (
			SELECT MIN(ts) FROM (
				SELECT ts FROM ohlcv_bars
				WHERE symbol = ? AND timeframe = ?
				ORDER BY ts DESC LIMIT ?
			)
		)`,
		key.Symbol, string(key.Timeframe),
		key.Symbol, string(key.Timeframe), keepLastN)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", key, err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		if err := s.refreshMeta(key); err != nil {
			return int(removed), err
		}
	}
	return int(removed), nil
}

func (s *SQLiteStore) Keys() ([]Key, error) {
	return s.meta.keys()
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite cache")
	return s.db.Close()
}
