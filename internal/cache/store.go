// Package cache is the durable local store of OHLCV bars, partitioned by
// (symbol, timeframe). Two interchangeable backends implement the same
// contract: a columnar Parquet store (preferred) and a plain SQLite store
// (fallback). Appends are idempotent merges; each partition has a single
// writer at a time.
package cache

import (
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"StockSentry/internal/model"
)

// Key identifies one bar-series partition.
type Key struct {
	Symbol    string
	Timeframe model.Timeframe
}

// NewKey normalizes the symbol to upper case.
func NewKey(symbol string, tf model.Timeframe) Key {
	return Key{Symbol: strings.ToUpper(symbol), Timeframe: tf}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Symbol, k.Timeframe)
}

// Store is the bar cache contract shared by both backends.
//
// Append merges idempotently: bars whose timestamps already exist replace
// the stored row, order stays strictly ascending, and no duplicate
// timestamps survive. Reads return bars in ascending order.
type Store interface {
	// Bars returns the full cached sequence for a partition (possibly empty).
	Bars(key Key) ([]model.Bar, error)
	// BarsRange returns cached bars with start <= t <= end.
	BarsRange(key Key, start, end time.Time) ([]model.Bar, error)
	// Append merges bars into the partition.
	Append(key Key, bars []model.Bar) error
	// Watermark returns the newest cached timestamp, if any.
	Watermark(key Key) (time.Time, bool, error)
	// LastRefreshed returns the wall-clock time of the last append.
	LastRefreshed(key Key) (time.Time, bool, error)
	// BarCount returns the number of cached bars.
	BarCount(key Key) (int, error)
	// Prune drops all but the newest keepLastN bars, returning the count removed.
	Prune(key Key, keepLastN int) (int, error)
	// Keys lists every partition known to the store.
	Keys() ([]Key, error)
	Close() error
}

// Options selects and locates the backend.
type Options struct {
	Backend string // "parquet" or "sqlite"
	Dir     string
}

// Open constructs the configured backend, falling back to SQLite when the
// Parquet backend cannot initialize.
func Open(opts Options) (Store, error) {
	if opts.Dir == "" {
		opts.Dir = "cache"
	}
	if opts.Backend == "parquet" {
		s, err := NewParquetStore(filepath.Join(opts.Dir, "parquet"), filepath.Join(opts.Dir, "meta.db"))
		if err == nil {
			return s, nil
		}
		log.Printf("[WARN] parquet cache unavailable, falling back to sqlite: %v", err)
	}
	return NewSQLiteStore(filepath.Join(opts.Dir, "ohlcv.db"))
}

// keyLocks serializes writers per partition. Concurrent appends to
// different keys proceed in parallel; same-key appends queue here.
type keyLocks struct {
	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[Key]*sync.Mutex)}
}

func (kl *keyLocks) lock(key Key) func() {
	kl.mu.Lock()
	l, ok := kl.locks[key]
	if !ok {
		l = &sync.Mutex{}
		kl.locks[key] = l
	}
	kl.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// mergeBars combines cached and incoming bars, deduplicating on timestamp
// with incoming bars winning, and returns a strictly ascending sequence.
func mergeBars(existing, incoming []model.Bar) []model.Bar {
	if len(incoming) == 0 {
		return existing
	}
	byTime := make(map[int64]model.Bar, len(existing)+len(incoming))
	order := make([]int64, 0, len(existing)+len(incoming))
	add := func(b model.Bar) {
		ts := b.Time.UTC().UnixMilli()
		if _, seen := byTime[ts]; !seen {
			order = append(order, ts)
		}
		byTime[ts] = b
	}
	for _, b := range existing {
		add(b)
	}
	for _, b := range incoming {
		add(b)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	merged := make([]model.Bar, 0, len(order))
	for _, ts := range order {
		b := byTime[ts]
		b.Time = b.Time.UTC()
		merged = append(merged, b)
	}
	return merged
}
