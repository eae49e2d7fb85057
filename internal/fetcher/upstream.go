package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"StockSentry/internal/metrics"
	"StockSentry/internal/model"
	"StockSentry/internal/ratelimit"
)

// ErrUpstreamUnavailable marks a request that exhausted its retry budget.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UpstreamError is a non-2xx response from the data API, classified so
// callers can tell rate limiting from other failures.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports a 429-equivalent rejection.
func (e *UpstreamError) RateLimited() bool { return e.StatusCode == 429 }

// Transient reports whether a retry could succeed.
func (e *UpstreamError) Transient() bool {
	return e.RateLimited() || e.StatusCode >= 500
}

// Client fetches aggregate bars from the upstream data API.
type Client interface {
	Aggregates(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Bar, error)
}

var timespanMap = map[model.Timeframe]struct {
	multiplier int
	timespan   string
}{
	model.TF1m:  {1, "minute"},
	model.TF5m:  {5, "minute"},
	model.TF15m: {15, "minute"},
	model.TF30m: {30, "minute"},
	model.TF1h:  {1, "hour"},
	model.TF4h:  {4, "hour"},
	model.TF1d:  {1, "day"},
}

// PolygonClient talks to a Polygon-style aggregates API. Every request
// passes through the shared rate limiter; transient failures are retried
// with the limiter's backoff schedule up to its per-request budget.
type PolygonClient struct {
	http    *resty.Client
	apiKey  string
	limiter *ratelimit.Limiter
	metrics *metrics.ScanMetrics
}

// NewPolygonClient builds the resty client with optional proxy support.
func NewPolygonClient(baseURL, apiKey, proxyURL string, timeout time.Duration, lim *ratelimit.Limiter, m *metrics.ScanMetrics) *PolygonClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "StockSentry/1.0")
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	return &PolygonClient{http: c, apiKey: apiKey, limiter: lim, metrics: m}
}

// aggResponse is the expected JSON shape of the aggregates endpoint.
type aggResponse struct {
	Status       string `json:"status"`
	ResultsCount int    `json:"resultsCount"`
	ErrorMsg     string `json:"error"`
	Results      []struct {
		T int64   `json:"t"` // epoch millis
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
}

// Aggregates fetches ordered bars for [start, end]. Rate-limit rejections
// are reported back to the limiter; other transient failures back off
// locally. Exhausting the budget returns ErrUpstreamUnavailable.
func (c *PolygonClient) Aggregates(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time) ([]model.Bar, error) {
	spec, ok := timespanMap[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}
	url := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%d/%d",
		symbol, spec.multiplier, spec.timespan, start.UTC().UnixMilli(), end.UTC().UnixMilli())

	var lastErr error
	maxAttempts := c.limiter.MaxAttempts()
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		var body aggResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"apiKey": c.apiKey,
				"sort":   "asc",
				"limit":  "50000",
			}).
			SetResult(&body).
			Get(url)

		if err != nil {
			// Network error or timeout: transient, local backoff.
			lastErr = err
			c.metrics.RecordUpstreamRetry()
			if attempt < maxAttempts {
				log.Printf("[WARN] %s: request error (attempt %d/%d): %v", symbol, attempt+1, maxAttempts+1, err)
				if err := sleepCtx(ctx, c.limiter.RetryDelay(attempt)); err != nil {
					return nil, err
				}
			}
			continue
		}

		if resp.StatusCode() != 200 {
			ue := &UpstreamError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
			if ue.RateLimited() {
				lastErr = ue
				c.metrics.RecordUpstreamRetry()
				delay := c.limiter.ReportRejection()
				log.Printf("[WARN] %s: rate limited, backing off %v (attempt %d/%d)", symbol, delay.Round(time.Millisecond), attempt+1, maxAttempts+1)
				continue
			}
			if ue.Transient() {
				lastErr = ue
				c.metrics.RecordUpstreamRetry()
				if attempt < maxAttempts {
					log.Printf("[WARN] %s: HTTP %d (attempt %d/%d)", symbol, ue.StatusCode, attempt+1, maxAttempts+1)
					if err := sleepCtx(ctx, c.limiter.RetryDelay(attempt)); err != nil {
						return nil, err
					}
				}
				continue
			}
			// Client error: not retryable.
			c.metrics.RecordUpstreamError()
			return nil, ue
		}

		if body.Status != "OK" && body.Status != "DELAYED" {
			if body.ResultsCount == 0 {
				c.limiter.ReportSuccess()
				c.metrics.RecordUpstreamCall(0)
				return nil, nil
			}
			c.metrics.RecordUpstreamError()
			return nil, fmt.Errorf("upstream api error for %s: %s", symbol, body.ErrorMsg)
		}

		bars := make([]model.Bar, 0, len(body.Results))
		for _, r := range body.Results {
			bars = append(bars, model.Bar{
				Time:   time.UnixMilli(r.T).UTC(),
				Open:   r.O,
				High:   r.H,
				Low:    r.L,
				Close:  r.C,
				Volume: r.V,
			})
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

		c.limiter.ReportSuccess()
		c.metrics.RecordUpstreamCall(len(bars))
		return bars, nil
	}

	c.metrics.RecordUpstreamError()
	return nil, fmt.Errorf("%w: %s after %d attempts: %w",
		ErrUpstreamUnavailable, symbol, maxAttempts+1, lastErr)
}

// sleepCtx waits d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
