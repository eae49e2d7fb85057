package scanner

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"StockSentry/internal/cache"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
)

// Maintenance runs scheduled background upkeep: a nightly cache prune
// and a daily metrics summary.
type Maintenance struct {
	cron     *cron.Cron
	store    cache.Store
	keepBars func(model.Timeframe) int
	metrics  *metrics.ScanMetrics
}

// NewMaintenance builds the scheduler; jobs fire with second precision.
func NewMaintenance(store cache.Store, keepBars func(model.Timeframe) int, m *metrics.ScanMetrics) *Maintenance {
	return &Maintenance{
		cron:     cron.New(cron.WithSeconds()),
		store:    store,
		keepBars: keepBars,
		metrics:  m,
	}
}

// Register installs the prune job at pruneSpec and a summary job at
// midnight, then starts the scheduler.
func (mt *Maintenance) Register(pruneSpec string) error {
	if _, err := mt.cron.AddFunc(pruneSpec, mt.pruneAll); err != nil {
		return fmt.Errorf("register prune job: %w", err)
	}
	if _, err := mt.cron.AddFunc("0 0 0 * * *", mt.logSummary); err != nil {
		return fmt.Errorf("register summary job: %w", err)
	}
	mt.cron.Start()
	log.Printf("[INFO] maintenance scheduler started: prune at %q", pruneSpec)
	return nil
}

// Stop halts the scheduler. Running jobs finish.
func (mt *Maintenance) Stop() {
	mt.cron.Stop()
}

func (mt *Maintenance) pruneAll() {
	keys, err := mt.store.Keys()
	if err != nil {
		log.Printf("[ERROR] prune: list cache keys: %v", err)
		return
	}
	pruned := 0
	for _, key := range keys {
		keep := mt.keepBars(key.Timeframe)
		if keep <= 0 {
			continue
		}
		removed, err := mt.store.Prune(key, keep)
		if err != nil {
			log.Printf("[WARN] prune %s: %v", key, err)
			continue
		}
		pruned += removed
	}
	log.Printf("[INFO] cache prune done: %d partitions, %d bars removed", len(keys), pruned)
}

func (mt *Maintenance) logSummary() {
	log.Printf("[INFO] daily metrics summary:\n%s", mt.metrics.Snapshot().Summary())
}
