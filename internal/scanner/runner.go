// Package scanner drives the repeating multi-symbol scan cycle:
// fetch bars per symbol through a bounded worker pool, evaluate the
// strategy, deduplicate alerts against the state store, and notify.
package scanner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"StockSentry/internal/fetcher"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
	"StockSentry/internal/notifier"
	"StockSentry/internal/ratelimit"
	"StockSentry/internal/universe"
)

// BarFetcher is the data-retrieval dependency of the loop.
type BarFetcher interface {
	Fetch(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error)
}

// Engine is the external strategy collaborator.
type Engine interface {
	Evaluate(symbol string, tf model.Timeframe, bars []model.Bar) (*model.Signal, error)
}

// DedupStore decides whether an alert survives its cooldown window.
type DedupStore interface {
	TryRecord(alert model.Alert, now time.Time) (bool, error)
}

// Notifier receives confirmed alerts; failures must not block the loop.
type Notifier interface {
	Send(ctx context.Context, title, message string)
}

// Config controls one runner.
type Config struct {
	Timeframe       model.Timeframe
	Interval        time.Duration
	Concurrency     int
	MarketHoursOnly bool
	ExtendedHours   bool
}

// Runner owns the scan state machine:
// IDLE -> SCANNING -> AGGREGATING -> SLEEPING -> SCANNING ... -> STOPPED.
type Runner struct {
	universe []universe.Item
	fetch    BarFetcher
	engine   Engine
	state    DedupStore
	notify   Notifier
	metrics  *metrics.ScanMetrics
	cfg      Config
	now      func() time.Time
}

// New wires a runner. Concurrency below 1 is clamped to 1.
func New(items []universe.Item, fetch BarFetcher, engine Engine, state DedupStore, notify Notifier, m *metrics.ScanMetrics, cfg Config) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Runner{
		universe: items,
		fetch:    fetch,
		engine:   engine,
		state:    state,
		notify:   notify,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run executes scan cycles until the context is cancelled. The first
// cycle starts immediately; the inter-cycle sleep is interruptible.
func (r *Runner) Run(ctx context.Context) {
	log.Printf("[INFO] scan loop starting: %d symbols, timeframe %s, interval %s, %d workers",
		len(r.universe), r.cfg.Timeframe, r.cfg.Interval, r.cfg.Concurrency)

	for {
		if r.cfg.MarketHoursOnly && !marketOpen(r.now(), r.cfg.ExtendedHours) {
			log.Println("[INFO] market closed, skipping scan cycle")
			r.metrics.RecordSkip("market_closed")
		} else {
			r.runCycle(ctx)
		}

		timer := time.NewTimer(r.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("[INFO] scan loop stopped")
			return
		case <-timer.C:
		}
	}
}

// candidate pairs a symbol with the signal its evaluation produced.
type candidate struct {
	symbol string
	signal *model.Signal
}

// runCycle scans the universe once. A symbol's failure is isolated: it is
// counted and skipped without affecting the rest of the cycle.
func (r *Runner) runCycle(ctx context.Context) {
	started := r.now()

	var mu sync.Mutex
	var candidates []candidate

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, item := range r.universe {
		if ctx.Err() != nil {
			break // cancellation checkpoint between symbols
		}
		item := item
		g.Go(func() error {
			bars, err := r.fetch.Fetch(gctx, item.Symbol, r.cfg.Timeframe)
			if err != nil {
				r.recordFetchFailure(item.Symbol, err)
				return nil
			}
			r.metrics.RecordSymbolScanned()

			sig, err := r.engine.Evaluate(item.Symbol, r.cfg.Timeframe, bars)
			if err != nil {
				log.Printf("[WARN] %s: strategy evaluation failed: %v", item.Symbol, err)
				r.metrics.RecordSkip("strategy_error")
				return nil
			}
			if sig == nil {
				return nil
			}
			r.metrics.RecordSetupTriggered()
			mu.Lock()
			candidates = append(candidates, candidate{symbol: item.Symbol, signal: sig})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Aggregation: dedup checks run sequentially so two candidates for
	// the same key in one cycle cannot both pass.
	emitted := 0
	for _, c := range candidates {
		alert := model.NewAlert(c.symbol, r.cfg.Timeframe, c.signal, r.now())
		ok, err := r.state.TryRecord(alert, alert.CreatedAt)
		if err != nil {
			log.Printf("[ERROR] %s: record alert: %v", c.symbol, err)
			r.metrics.RecordSkip("state_error")
			continue
		}
		if !ok {
			log.Printf("[INFO] %s: alert suppressed by cooldown (%s)", c.symbol, alert.Key())
			r.metrics.RecordSkip("cooldown")
			continue
		}
		title, message := notifier.FormatAlert(alert)
		log.Printf("[INFO] ALERT %s", title)
		r.notify.Send(ctx, title, message)
		r.metrics.RecordAlertSent()
		emitted++
	}

	log.Printf("[INFO] scan cycle done in %s: %d symbols, %d setups, %d alerts",
		r.now().Sub(started).Round(time.Millisecond), len(r.universe), len(candidates), emitted)
}

func (r *Runner) recordFetchFailure(symbol string, err error) {
	switch {
	case errors.Is(err, fetcher.ErrInsufficientData):
		log.Printf("[INFO] %s: skipped: %v", symbol, err)
		r.metrics.RecordSkip("insufficient_data")
	case errors.Is(err, fetcher.ErrUpstreamUnavailable):
		log.Printf("[WARN] %s: skipped: %v", symbol, err)
		r.metrics.RecordSkip("upstream_unavailable")
	case errors.Is(err, ratelimit.ErrAcquireTimeout):
		log.Printf("[WARN] %s: skipped: %v", symbol, err)
		r.metrics.RecordSkip("rate_limited")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.metrics.RecordSkip("cancelled")
	default:
		log.Printf("[WARN] %s: fetch failed: %v", symbol, err)
		r.metrics.RecordSkip("fetch_error")
	}
}
