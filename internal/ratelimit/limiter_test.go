package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquirePacesRequests(t *testing.T) {
	// 50 rps, burst 1: three sequential acquires need at least two
	// refill intervals (~40ms).
	l := New(Config{MaxRPS: 50, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("3 acquires at 50rps/burst1 took %v, expected pacing", elapsed)
	}
}

func TestConcurrentAcquiresRespectRateBound(t *testing.T) {
	// 6 workers x 4 grants = 24 grants against burst 4 at 100 rps: the
	// 20 post-burst grants need at least 200ms no matter how many
	// goroutines are pulling.
	l := New(Config{MaxRPS: 100, Burst: 4})
	ctx := context.Background()

	const workers = 6
	const grantsPerWorker = 4

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < grantsPerWorker; j++ {
				if err := l.Acquire(ctx); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent acquire: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("%d grants completed in %v, aggregate rate exceeds the shared bound",
			workers*grantsPerWorker, elapsed)
	}
}

func TestRejectionArmsBackoff(t *testing.T) {
	l := New(Config{MaxRPS: 1000, Burst: 10, BackoffBase: 40 * time.Millisecond, BackoffMax: time.Second})

	d := l.ReportRejection()
	if d < 20*time.Millisecond || d > 40*time.Millisecond {
		t.Errorf("first rejection delay %v outside [base/2, base)", d)
	}
	if l.State() != StateBackoff {
		t.Errorf("state after rejection = %v, want BACKOFF", l.State())
	}

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire through backoff: %v", err)
	}
	if waited := time.Since(start); waited < 10*time.Millisecond {
		t.Errorf("acquire returned after %v, expected to wait out the backoff window", waited)
	}
	if l.State() != StateReady {
		t.Errorf("state after acquire = %v, want READY", l.State())
	}
}

func TestRejectionDelayGrows(t *testing.T) {
	l := New(Config{MaxRPS: 1000, Burst: 10, BackoffBase: 10 * time.Millisecond, BackoffMax: 5 * time.Second})
	d1 := l.ReportRejection()
	d2 := l.ReportRejection()
	d3 := l.ReportRejection()
	// Jitter keeps each delay in [d/2, d); consecutive rejections double
	// the underlying schedule, so the floor of each step clears the
	// previous ceiling.
	if d2 < d1 || d3 < d2 {
		t.Errorf("delays not monotonic across rejections: %v, %v, %v", d1, d2, d3)
	}
	l.ReportSuccess()
	if l.State() != StateReady {
		t.Errorf("state after success = %v, want READY", l.State())
	}
	if d := l.ReportRejection(); d > 10*time.Millisecond {
		t.Errorf("rejection streak not reset by success: next delay %v", d)
	}
}

func TestRejectionDelayCapped(t *testing.T) {
	l := New(Config{MaxRPS: 1000, Burst: 10, BackoffBase: 10 * time.Millisecond, BackoffMax: 80 * time.Millisecond})
	var d time.Duration
	for i := 0; i < 12; i++ {
		d = l.ReportRejection()
	}
	if d > 80*time.Millisecond {
		t.Errorf("delay %v not capped below max", d)
	}
	// Drain the armed window so other tests are unaffected.
	l.ReportSuccess()
}

func TestAcquireCancelledDuringBackoff(t *testing.T) {
	l := New(Config{MaxRPS: 1000, Burst: 10, BackoffBase: 5 * time.Second, BackoffMax: 10 * time.Second})
	l.ReportRejection()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("acquire succeeded despite cancellation inside backoff window")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want wrapped context.Canceled", err)
		}
		if errors.Is(err, ErrAcquireTimeout) {
			t.Errorf("caller cancellation misreported as acquire timeout: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}

func TestAcquireBoundedByMaxWait(t *testing.T) {
	l := New(Config{MaxRPS: 1000, Burst: 10, BackoffBase: 10 * time.Second, BackoffMax: 30 * time.Second, MaxWait: 50 * time.Millisecond})
	l.ReportRejection()

	start := time.Now()
	err := l.Acquire(context.Background())
	if err == nil {
		t.Fatal("acquire succeeded despite backoff exceeding MaxWait")
	}
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Errorf("err = %v, want ErrAcquireTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("acquire took %v, MaxWait bound not applied", elapsed)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	l := New(Config{MaxRPS: 1000, BackoffBase: 100 * time.Millisecond, BackoffMax: 2 * time.Second})
	for attempt := 0; attempt < 10; attempt++ {
		d := l.RetryDelay(attempt)
		if d <= 0 || d >= 2*time.Second {
			t.Errorf("attempt %d: delay %v out of (0, max)", attempt, d)
		}
	}
	// RetryDelay must not arm the shared window.
	if l.State() == StateBackoff {
		t.Error("RetryDelay changed shared limiter state")
	}
}
