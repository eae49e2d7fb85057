// Package fetcher implements cache-first incremental retrieval: cached
// ranges are served directly, only the missing suffix is requested
// upstream, and validated results are merged back into the cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"StockSentry/internal/cache"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
)

// ErrInsufficientData marks a series that cannot satisfy the minimum bar
// count even after refreshing from upstream.
var ErrInsufficientData = errors.New("insufficient data")

// Options tune validation and sizing per fetch.
type Options struct {
	LookbackDays    int
	MinBars         map[model.Timeframe]int
	MaxGapIntervals int
	AllowPartial    bool
}

// Fetcher coordinates the cache store, the rate-limited upstream client,
// and the scan metrics.
type Fetcher struct {
	store   cache.Store
	client  Client
	metrics *metrics.ScanMetrics
	opts    Options
	now     func() time.Time
}

// New builds a Fetcher. The metrics object is shared with the scan loop.
func New(store cache.Store, client Client, m *metrics.ScanMetrics, opts Options) *Fetcher {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 60
	}
	if opts.MaxGapIntervals <= 0 {
		opts.MaxGapIntervals = 4
	}
	return &Fetcher{
		store:   store,
		client:  client,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

func (f *Fetcher) minBarsFor(tf model.Timeframe) int {
	if n, ok := f.opts.MinBars[tf]; ok {
		return n
	}
	return 220
}

// Fetch returns a validated bar sequence for the symbol/timeframe
// covering the configured lookback, hitting upstream only for the range
// the cache does not already hold.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Bar, error) {
	key := cache.NewKey(symbol, tf)
	now := f.now().UTC()
	req := model.FetchRequest{
		Symbol:    key.Symbol,
		Timeframe: tf,
		Start:     now.AddDate(0, 0, -f.opts.LookbackDays),
		End:       now,
		MinBars:   f.minBarsFor(tf),
	}

	watermark, cached, err := f.store.Watermark(key)
	if err != nil {
		return nil, fmt.Errorf("cache watermark %s: %w", key, err)
	}

	// Cache hit: watermark reaches the last closed boundary and the
	// cached range is deep enough. Zero upstream calls.
	if cached && !watermark.Before(tf.LastClosedBoundary(now)) {
		bars, err := f.store.BarsRange(key, req.Start, req.End)
		if err != nil {
			return nil, fmt.Errorf("cache read %s: %w", key, err)
		}
		if len(bars) >= req.MinBars {
			f.metrics.RecordCacheHit()
			f.flagGaps(key, bars)
			return bars, nil
		}
	}
	f.metrics.RecordCacheMiss()

	// Missing suffix: (watermark, now] when warm, full lookback when cold.
	// The watermark is authoritative; never request anything before it.
	fetchStart := req.Start
	if cached {
		fetchStart = watermark
	}

	fetched, err := f.client.Aggregates(ctx, req.Symbol, req.Timeframe, fetchStart, req.End)
	if err != nil {
		var ue *UpstreamError
		if cached && errors.As(err, &ue) && !ue.Transient() {
			// No new data for the suffix (market closed, empty range).
			// Serve the cache if it is deep enough.
			bars, rerr := f.store.BarsRange(key, req.Start, req.End)
			if rerr == nil && len(bars) >= req.MinBars {
				log.Printf("[INFO] %s: no new upstream data, serving cache (%d bars)", key, len(bars))
				f.flagGaps(key, bars)
				return bars, nil
			}
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	valid := f.validate(fetched, tf, now)
	if len(valid) > 0 {
		if err := f.store.Append(key, valid); err != nil {
			return nil, fmt.Errorf("cache append %s: %w", key, err)
		}
	}

	bars, err := f.store.BarsRange(key, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("cache reread %s: %w", key, err)
	}
	if len(bars) < req.MinBars {
		return nil, fmt.Errorf("%w: %s has %d of %d required bars",
			ErrInsufficientData, key, len(bars), req.MinBars)
	}
	f.flagGaps(key, bars)
	return bars, nil
}

// validate drops the still-open partial candle (unless the policy accepts
// it) and flags interior gaps without discarding surrounding bars.
func (f *Fetcher) validate(bars []model.Bar, tf model.Timeframe, now time.Time) []model.Bar {
	if len(bars) == 0 {
		return bars
	}
	if !f.opts.AllowPartial {
		last := bars[len(bars)-1]
		if now.Sub(last.Time) < tf.Duration() {
			bars = bars[:len(bars)-1]
		}
	}
	for _, g := range model.FindGaps(bars, tf, f.opts.MaxGapIntervals) {
		log.Printf("[WARN] upstream data quality: %s", g)
	}
	return bars
}

// flagGaps records gap metadata on a read path.
func (f *Fetcher) flagGaps(key cache.Key, bars []model.Bar) {
	if gaps := model.FindGaps(bars, key.Timeframe, f.opts.MaxGapIntervals); len(gaps) > 0 {
		f.metrics.RecordDataGap(len(gaps))
		for _, g := range gaps {
			log.Printf("[WARN] %s cached series: %s", key, g)
		}
	}
}
