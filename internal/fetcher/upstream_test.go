package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"StockSentry/internal/cache"
	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
	"StockSentry/internal/ratelimit"
)

func newRejectingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func fastLimiter(maxAttempts int) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		MaxRPS:      1000,
		Burst:       10,
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
		MaxWait:     time.Second,
	})
}

func TestAggregatesExhaustsBudgetOnRepeatedRejection(t *testing.T) {
	srv, hits := newRejectingServer(t, http.StatusTooManyRequests)

	m := metrics.New()
	client := NewPolygonClient(srv.URL, "test-key", "", 5*time.Second, fastLimiter(4), m)

	end := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	_, err := client.Aggregates(context.Background(), "XYZ", model.TF1h, end.Add(-48*time.Hour), end)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}

	if got := hits.Load(); got != 5 {
		t.Errorf("upstream saw %d requests, want 5 (budget 4 + initial attempt)", got)
	}
	s := m.Snapshot()
	if s.UpstreamErrors != 1 {
		t.Errorf("upstream errors = %d, want exactly 1 for the whole request", s.UpstreamErrors)
	}
	if s.UpstreamRetries != 5 {
		t.Errorf("upstream retries = %d, want 5", s.UpstreamRetries)
	}
	if s.UpstreamCalls != 0 {
		t.Errorf("upstream calls = %d, want 0 successes", s.UpstreamCalls)
	}
}

func TestFetchThroughClientRateLimitExhaustionLeavesCacheUnmodified(t *testing.T) {
	srv, _ := newRejectingServer(t, http.StatusTooManyRequests)

	store, err := cache.NewSQLiteStore(filepath.Join(t.TempDir(), "ohlcv.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	m := metrics.New()
	client := NewPolygonClient(srv.URL, "test-key", "", 5*time.Second, fastLimiter(4), m)
	f := New(store, client, m, Options{
		LookbackDays: 2,
		MinBars:      map[model.Timeframe]int{model.TF1h: 10},
	})
	f.now = func() time.Time { return testNow }

	_, err = f.Fetch(context.Background(), "XYZ", model.TF1h)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}

	n, err := store.BarCount(cache.NewKey("XYZ", model.TF1h))
	if err != nil {
		t.Fatalf("bar count: %v", err)
	}
	if n != 0 {
		t.Errorf("exhausted fetch wrote %d bars to cache", n)
	}
	if s := m.Snapshot(); s.UpstreamErrors != 1 {
		t.Errorf("upstream errors = %d, want exactly 1", s.UpstreamErrors)
	}
}

func TestAggregatesNonRetryableClientError(t *testing.T) {
	srv, hits := newRejectingServer(t, http.StatusUnauthorized)

	m := metrics.New()
	client := NewPolygonClient(srv.URL, "bad-key", "", 5*time.Second, fastLimiter(4), m)

	end := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	_, err := client.Aggregates(context.Background(), "XYZ", model.TF1h, end.Add(-48*time.Hour), end)
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want UpstreamError with status 401", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("upstream saw %d requests, want 1 (client errors are not retried)", got)
	}
	if s := m.Snapshot(); s.UpstreamErrors != 1 || s.UpstreamRetries != 0 {
		t.Errorf("errors=%d retries=%d, want 1/0", s.UpstreamErrors, s.UpstreamRetries)
	}
}
