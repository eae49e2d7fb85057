package cache

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	_ "modernc.org/sqlite"

	"StockSentry/internal/model"
)

// barRow is the columnar layout: one parquet file per partition, plain
// millisecond timestamps so readers need no logical-type support.
type barRow struct {
	Ts     int64   `parquet:"ts"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
}

func toRow(b model.Bar) barRow {
	return barRow{
		Ts:     b.Time.UTC().UnixMilli(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

func fromRow(r barRow) model.Bar {
	return model.Bar{
		Time:   time.UnixMilli(r.Ts).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

// ParquetStore keeps one parquet file per (symbol, timeframe) plus a
// SQLite meta database for watermarks.
type ParquetStore struct {
	dataDir string
	meta    *metaDB
	db      *sql.DB
	locks   *keyLocks
}

// NewParquetStore creates the data directory and opens the meta database.
func NewParquetStore(dataDir, metaPath string) (*ParquetStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create parquet dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return nil, fmt.Errorf("create meta dir: %w", err)
	}
	db, err := sql.Open("sqlite", metaPath)
	if err != nil {
		return nil, fmt.Errorf("open cache meta db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	meta, err := newMetaDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[INFO] parquet cache opened: %s", dataDir)
	return &ParquetStore{dataDir: dataDir, meta: meta, db: db, locks: newKeyLocks()}, nil
}

func (s *ParquetStore) path(key Key) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.parquet", key.Symbol, key.Timeframe))
}

func (s *ParquetStore) read(key Key) ([]model.Bar, error) {
	path := s.path(key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[barRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", key, err)
	}
	bars := make([]model.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, fromRow(r))
	}
	// Files are written sorted; merge on append guarantees it.
	return bars, nil
}

func (s *ParquetStore) Bars(key Key) ([]model.Bar, error) {
	return s.read(key)
}

func (s *ParquetStore) BarsRange(key Key, start, end time.Time) ([]model.Bar, error) {
	bars, err := s.read(key)
	if err != nil {
		return nil, err
	}
	out := bars[:0:0]
	for _, b := range bars {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *ParquetStore) Append(key Key, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	unlock := s.locks.lock(key)
	defer unlock()

	existing, err := s.read(key)
	if err != nil {
		return err
	}
	merged := mergeBars(existing, bars)
	return s.write(key, merged)
}

// write replaces the partition file and refreshes meta. Callers hold the
// partition lock.
func (s *ParquetStore) write(key Key, bars []model.Bar) error {
	rows := make([]barRow, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, toRow(b))
	}
	tmp := s.path(key) + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		return fmt.Errorf("write parquet %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("replace parquet %s: %w", key, err)
	}
	if len(bars) == 0 {
		return s.meta.upsert(key, 0, time.Time{}, time.Time{})
	}
	return s.meta.upsert(key, len(bars), bars[0].Time, bars[len(bars)-1].Time)
}

func (s *ParquetStore) Watermark(key Key) (time.Time, bool, error) {
	return s.meta.watermark(key)
}

func (s *ParquetStore) LastRefreshed(key Key) (time.Time, bool, error) {
	return s.meta.lastRefreshed(key)
}

func (s *ParquetStore) BarCount(key Key) (int, error) {
	return s.meta.barCount(key)
}

func (s *ParquetStore) Prune(key Key, keepLastN int) (int, error) {
	if keepLastN < 1 {
		return 0, fmt.Errorf("prune %s: keepLastN must be positive", key)
	}
	unlock := s.locks.lock(key)
	defer unlock()

	bars, err := s.read(key)
	if err != nil {
		return 0, err
	}
	if len(bars) <= keepLastN {
		return 0, nil
	}
	removed := len(bars) - keepLastN
	if err := s.write(key, bars[removed:]); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *ParquetStore) Keys() ([]Key, error) {
	return s.meta.keys()
}

func (s *ParquetStore) Close() error {
	return s.db.Close()
}
