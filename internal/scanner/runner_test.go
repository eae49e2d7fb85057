package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"StockSentry/internal/fetcher"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
	"StockSentry/internal/ratelimit"
	"StockSentry/internal/universe"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	bars  []model.Bar
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string, _ model.Timeframe) ([]model.Bar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	if err, ok := f.fail[symbol]; ok {
		return nil, err
	}
	return f.bars, nil
}

type fakeEngine struct {
	signals map[string]*model.Signal
}

func (e *fakeEngine) Evaluate(symbol string, _ model.Timeframe, _ []model.Bar) (*model.Signal, error) {
	return e.signals[symbol], nil
}

type fakeDedup struct {
	mu       sync.Mutex
	recorded []model.Alert
	suppress map[model.DedupKey]bool
}

func (d *fakeDedup) TryRecord(alert model.Alert, _ time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suppress[alert.Key()] {
		return false, nil
	}
	d.recorded = append(d.recorded, alert)
	return true, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Send(_ context.Context, title, _ string) {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
}

func items(symbols ...string) []universe.Item {
	out := make([]universe.Item, len(symbols))
	for i, s := range symbols {
		out[i] = universe.Item{Symbol: s}
	}
	return out
}

func testSignal() *model.Signal {
	return &model.Signal{Setup: "RSI_REVERSAL", Direction: model.DirectionLong, Score: 42, Price: 101.5}
}

func newTestRunner(f *fakeFetcher, e *fakeEngine, d *fakeDedup, n *fakeNotifier, syms ...string) *Runner {
	return New(items(syms...), f, e, d, n, metrics.New(), Config{
		Timeframe:   model.TF1h,
		Interval:    time.Hour,
		Concurrency: 4,
	})
}

func TestCycleEmitsAlerts(t *testing.T) {
	f := &fakeFetcher{bars: []model.Bar{{Close: 100}}}
	e := &fakeEngine{signals: map[string]*model.Signal{"AAPL": testSignal()}}
	d := &fakeDedup{}
	n := &fakeNotifier{}

	r := newTestRunner(f, e, d, n, "AAPL", "MSFT")
	r.runCycle(context.Background())

	if len(f.calls) != 2 {
		t.Fatalf("fetched %d symbols, want 2", len(f.calls))
	}
	if len(d.recorded) != 1 {
		t.Fatalf("recorded %d alerts, want 1", len(d.recorded))
	}
	if d.recorded[0].Symbol != "AAPL" {
		t.Errorf("alert symbol = %s", d.recorded[0].Symbol)
	}
	if len(n.titles) != 1 {
		t.Errorf("sent %d notifications, want 1", len(n.titles))
	}
}

func TestCycleIsolatesSymbolFailures(t *testing.T) {
	f := &fakeFetcher{
		bars: []model.Bar{{Close: 100}},
		fail: map[string]error{
			"BAD": fmt.Errorf("fetch BAD/1h: %w", fetcher.ErrUpstreamUnavailable),
		},
	}
	e := &fakeEngine{signals: map[string]*model.Signal{"MSFT": testSignal()}}
	d := &fakeDedup{}
	n := &fakeNotifier{}

	r := newTestRunner(f, e, d, n, "AAPL", "BAD", "MSFT")
	r.runCycle(context.Background())

	if len(f.calls) != 3 {
		t.Fatalf("fetched %d symbols, want all 3 despite one failing", len(f.calls))
	}
	if len(d.recorded) != 1 || d.recorded[0].Symbol != "MSFT" {
		t.Fatalf("recorded = %+v, want one MSFT alert", d.recorded)
	}
}

func TestCycleRespectsCooldown(t *testing.T) {
	sig := testSignal()
	f := &fakeFetcher{bars: []model.Bar{{Close: 100}}}
	e := &fakeEngine{signals: map[string]*model.Signal{"AAPL": sig}}
	d := &fakeDedup{suppress: map[model.DedupKey]bool{
		{Symbol: "AAPL", Timeframe: model.TF1h, Setup: sig.Setup}: true,
	}}
	n := &fakeNotifier{}

	r := newTestRunner(f, e, d, n, "AAPL")
	r.runCycle(context.Background())

	if len(n.titles) != 0 {
		t.Errorf("suppressed alert was notified: %v", n.titles)
	}
	if len(d.recorded) != 0 {
		t.Errorf("suppressed alert was recorded: %+v", d.recorded)
	}
}

func TestCycleCountsRateLimitTimeoutsDistinctly(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{
		"AAPL": fmt.Errorf("fetch AAPL/1h: %w", ratelimit.ErrAcquireTimeout),
	}}
	r := newTestRunner(f, &fakeEngine{}, &fakeDedup{}, &fakeNotifier{}, "AAPL")
	r.runCycle(context.Background())

	s := r.metrics.Snapshot()
	if s.SkipReasons["rate_limited"] != 1 {
		t.Errorf("rate_limited skips = %d, want 1 (reasons: %v)", s.SkipReasons["rate_limited"], s.SkipReasons)
	}
	if s.SkipReasons["cancelled"] != 0 {
		t.Error("limiter timeout counted as cancellation")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{bars: []model.Bar{{Close: 100}}}
	r := newTestRunner(f, &fakeEngine{}, &fakeDedup{}, &fakeNotifier{}, "AAPL")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if len(f.calls) == 0 {
		t.Error("first cycle did not run before cancellation")
	}
}

func TestMarketOpen(t *testing.T) {
	// 2026-03-11 is a Wednesday.
	cases := []struct {
		name     string
		at       time.Time
		extended bool
		want     bool
	}{
		{"regular session", time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC), false, true},   // 11:00 ET (EDT)
		{"before open", time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), false, false},      // 08:00 ET
		{"premarket extended", time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), true, true}, // 08:00 ET
		{"after close", time.Date(2026, 3, 11, 21, 0, 0, 0, time.UTC), false, false},      // 17:00 ET
		{"after-hours extended", time.Date(2026, 3, 11, 21, 0, 0, 0, time.UTC), true, true},
		{"weekend", time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), true, false}, // Saturday
	}
	for _, tc := range cases {
		if got := marketOpen(tc.at, tc.extended); got != tc.want {
			t.Errorf("%s: marketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}
