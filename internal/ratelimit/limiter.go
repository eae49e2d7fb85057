// Package ratelimit paces all upstream API calls through one shared
// token bucket and a global backoff window armed by upstream rejections.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRetriesExhausted is returned when a request burns through its full
// retry budget without a successful upstream response.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrAcquireTimeout is returned when MaxWait elapses before a token is
// granted. Distinct from caller cancellation so the scan loop can count
// rate-limit pressure separately.
var ErrAcquireTimeout = errors.New("rate limiter acquire timed out")

// State of the limiter's pacing machine.
type State int

const (
	// StateReady: tokens may be available, no penalty in effect.
	StateReady State = iota
	// StateWaiting: a caller is blocked on the token bucket.
	StateWaiting
	// StateBackoff: an upstream rejection armed a penalty window; all
	// acquires wait until it expires.
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateWaiting:
		return "WAITING"
	case StateBackoff:
		return "BACKOFF"
	default:
		return "UNKNOWN"
	}
}

// Config controls sustained rate, burst, and backoff behavior.
type Config struct {
	MaxRPS      float64
	Burst       int
	MaxAttempts int           // retry budget per request
	BackoffBase time.Duration // first backoff delay
	BackoffMax  time.Duration // backoff cap
	MaxWait     time.Duration // upper bound on any single Acquire
}

// Limiter is shared process-wide so the aggregate call rate, not the
// per-symbol rate, respects the upstream quota.
type Limiter struct {
	bucket      *rate.Limiter
	maxAttempts int
	base        time.Duration
	max         time.Duration
	maxWait     time.Duration

	mu           sync.Mutex
	state        State
	rejections   int // consecutive rejections since last success
	backoffUntil time.Time
}

// New builds a limiter from config, applying sane fallbacks.
func New(cfg Config) *Limiter {
	if cfg.MaxRPS <= 0 {
		cfg.MaxRPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.MaxRPS * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	return &Limiter{
		bucket:      rate.NewLimiter(rate.Limit(cfg.MaxRPS), cfg.Burst),
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.BackoffBase,
		max:         cfg.BackoffMax,
		maxWait:     cfg.MaxWait,
	}
}

// Acquire blocks until the caller may issue an upstream request: first
// through any active backoff window, then through the token bucket.
// The total wait is bounded by MaxWait; cancellation is observed at
// every suspension point.
func (l *Limiter) Acquire(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	for {
		l.mu.Lock()
		wait := time.Until(l.backoffUntil)
		if wait <= 0 {
			if l.state == StateBackoff {
				l.state = StateReady
			}
			l.state = StateWaiting
			l.mu.Unlock()
			break
		}
		l.state = StateBackoff
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.acquireFailed(parent, "backoff wait")
		case <-timer.C:
		}
	}

	if err := l.bucket.Wait(ctx); err != nil {
		l.setState(StateReady)
		return l.acquireFailed(parent, "token wait")
	}
	l.setState(StateReady)
	return nil
}

// acquireFailed tells the MaxWait bound apart from caller cancellation.
func (l *Limiter) acquireFailed(parent context.Context, stage string) error {
	if parent.Err() == nil {
		return fmt.Errorf("%w: %s exceeded %s", ErrAcquireTimeout, stage, l.maxWait)
	}
	return fmt.Errorf("rate limiter %s: %w", stage, parent.Err())
}

// ReportRejection tells the limiter the upstream rejected a request
// (429-equivalent). It arms a jittered exponential backoff window shared
// by all workers and returns the chosen delay.
func (l *Limiter) ReportRejection() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rejections++
	exp := l.rejections - 1
	if exp > 20 {
		exp = 20
	}
	delay := l.base << uint(exp)
	if delay > l.max || delay <= 0 {
		delay = l.max
	}
	// Jitter in [delay/2, delay) so synchronized workers fan out.
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	until := time.Now().Add(delay)
	if until.After(l.backoffUntil) {
		l.backoffUntil = until
	}
	l.state = StateBackoff
	return delay
}

// ReportSuccess clears the rejection streak after a successful call.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	l.rejections = 0
	l.state = StateReady
	l.mu.Unlock()
}

// RetryDelay returns the jittered backoff delay for a per-request attempt
// without arming the shared backoff window. Used for transient failures
// that are not rate-limit rejections.
func (l *Limiter) RetryDelay(attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	d := l.base << uint(attempt)
	if d > l.max || d <= 0 {
		d = l.max
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

// MaxAttempts returns the per-request retry budget.
func (l *Limiter) MaxAttempts() int {
	return l.maxAttempts
}

// State reports the current pacing state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Limiter) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}
