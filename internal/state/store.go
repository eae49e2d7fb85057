// Package state persists the append-only alert log and the per-key
// cooldown mapping used to deduplicate repeated alerts.
package state

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"StockSentry/internal/model"
)

// AlertRecord is one row of the alert log. Immutable once written.
type AlertRecord struct {
	AlertID   string
	Symbol    string
	Timeframe model.Timeframe
	Setup     string
	Direction model.Direction
	Score     float64
	Price     float64
	CreatedAt time.Time
}

// Store is a SQLite-backed dedup and alert-log store.
//
// The cooldown check and the emission record happen inside one
// transaction under one mutex, so two workers racing on the same key
// cannot both pass.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	cooldown time.Duration
}

// Open creates or opens the state database and runs migrations.
func Open(path string, cooldown time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id   TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			timeframe  TEXT NOT NULL,
			setup      TEXT NOT NULL,
			direction  TEXT NOT NULL,
			score      REAL NOT NULL,
			price      REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_key_time ON alerts(symbol, timeframe, setup, created_at)`,
		`CREATE TABLE IF NOT EXISTS dedup (
			symbol        TEXT NOT NULL,
			timeframe     TEXT NOT NULL,
			setup         TEXT NOT NULL,
			last_alert_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, setup)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate state db: %w", err)
		}
	}
	log.Printf("[INFO] state store opened: %s (cooldown %s)", path, cooldown)
	return &Store{db: db, cooldown: cooldown}, nil
}

// TryRecord atomically checks the cooldown for the alert's dedup key and,
// if it has elapsed (or the key is new), records the emission: the alert
// is appended to the log and the key's last-alert time is upserted.
// Returns false when the alert is suppressed by the cooldown.
func (s *Store) TryRecord(alert model.Alert, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alert.Key()
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin dedup tx: %w", err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	err = tx.QueryRow(`SELECT last_alert_at FROM dedup
		WHERE symbol = ? AND timeframe = ? AND setup = ?`,
		key.Symbol, string(key.Timeframe), key.Setup).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("dedup lookup %s: %w", key, err)
	}
	if last.Valid {
		lastAt := time.UnixMilli(last.Int64)
		if now.Sub(lastAt) < s.cooldown {
			return false, nil
		}
	}

	ts := now.UTC().UnixMilli()
	if _, err := tx.Exec(`INSERT INTO alerts
		(alert_id, symbol, timeframe, setup, direction, score, price, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, string(alert.Timeframe), alert.Setup,
		string(alert.Direction), alert.Score, alert.Price, ts); err != nil {
		return false, fmt.Errorf("append alert %s: %w", key, err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO dedup
		(symbol, timeframe, setup, last_alert_at) VALUES (?,?,?,?)`,
		key.Symbol, string(key.Timeframe), key.Setup, ts); err != nil {
		return false, fmt.Errorf("upsert dedup %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit dedup tx: %w", err)
	}
	return true, nil
}

// LastAlertAt returns the last recorded emission time for a dedup key.
func (s *Store) LastAlertAt(key model.DedupKey) (time.Time, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRow(`SELECT last_alert_at FROM dedup
		WHERE symbol = ? AND timeframe = ? AND setup = ?`,
		key.Symbol, string(key.Timeframe), key.Setup).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dedup lookup %s: %w", key, err)
	}
	return time.UnixMilli(last.Int64).UTC(), true, nil
}

// AlertsSince returns alert records created at or after the cutoff,
// newest first. Used by outcome reporting.
func (s *Store) AlertsSince(cutoff time.Time) ([]AlertRecord, error) {
	rows, err := s.db.Query(`SELECT alert_id, symbol, timeframe, setup, direction, score, price, created_at
		FROM alerts WHERE created_at >= ? ORDER BY created_at DESC`,
		cutoff.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var records []AlertRecord
	for rows.Next() {
		var r AlertRecord
		var tf, dir string
		var ts int64
		if err := rows.Scan(&r.AlertID, &r.Symbol, &tf, &r.Setup, &dir, &r.Score, &r.Price, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.Timeframe = model.Timeframe(tf)
		r.Direction = model.Direction(strings.ToUpper(dir))
		r.CreatedAt = time.UnixMilli(ts).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	log.Println("[INFO] closing state store")
	return s.db.Close()
}
