package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testClock drives a Limiter deterministically: sleeps advance the
// clock instead of blocking.
type testClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) install(l *Limiter) {
	l.now = func() time.Time { return c.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		c.sleeps = append(c.sleeps, d)
		c.now = c.now.Add(d)
		return nil
	}
}

func TestAcquireWithinLimits(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 10, BurstSize: 10})
	clock.install(l)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx, "tenant-a"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("acquired within limits but slept %v", clock.sleeps)
	}

	stats := l.Stats("tenant-a")
	if stats.RequestsThisMinute != 5 {
		t.Fatalf("got %d requests this minute, want 5", stats.RequestsThisMinute)
	}
}

func TestAcquireWaitsForWindowRollover(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 2, BurstSize: 100})
	clock.install(l)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, "tenant-a"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	// Third acquire in the same minute must wait until the window
	// resets, then succeed against fresh counters.
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire after limit: %v", err)
	}
	if len(clock.sleeps) == 0 {
		t.Fatal("expected a wait before the third acquire")
	}
	if clock.sleeps[0] != time.Minute {
		t.Fatalf("got wait %v, want full minute window", clock.sleeps[0])
	}

	stats := l.Stats("tenant-a")
	if stats.RequestsThisMinute != 1 {
		t.Fatalf("got %d requests in new window, want 1", stats.RequestsThisMinute)
	}
}

func TestAcquireIsolatesTenants(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 1, BurstSize: 100})
	clock.install(l)

	ctx := context.Background()
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire tenant-a: %v", err)
	}

	// tenant-a is now at its cap; tenant-b must not be delayed.
	if err := l.Acquire(ctx, "tenant-b"); err != nil {
		t.Fatalf("Acquire tenant-b: %v", err)
	}
	if len(clock.sleeps) != 0 {
		t.Fatalf("tenant-b was delayed by tenant-a's limit: %v", clock.sleeps)
	}
}

func TestBurstCooldown(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         2,
		BurstCooldown:     5 * time.Second,
	})
	clock.install(l)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, "tenant-a"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	// Bucket drained: the next acquire waits at least the cooldown,
	// even though a single token refills in one second.
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire after drain: %v", err)
	}
	if len(clock.sleeps) == 0 {
		t.Fatal("expected a cooldown wait after draining the bucket")
	}
	if clock.sleeps[0] < 5*time.Second {
		t.Fatalf("got wait %v, want at least the 5s cooldown", clock.sleeps[0])
	}
}

func TestRecordUsageGatesFutureAcquires(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 100, TokensPerDay: 1000, BurstSize: 100})
	clock.install(l)

	ctx := context.Background()
	l.RecordUsage("tenant-a", 1500, 2.5)

	stats := l.Stats("tenant-a")
	if stats.TokensThisDay != 1500 {
		t.Fatalf("got %d tokens today, want 1500", stats.TokensThisDay)
	}
	if stats.CostToday != 2.5 {
		t.Fatalf("got cost %v, want 2.5", stats.CostToday)
	}

	// Token budget exceeded: acquire must wait for the day window.
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(clock.sleeps) == 0 {
		t.Fatal("expected a wait with token budget exceeded")
	}

	// After the day rollover the counters are fresh.
	if got := l.Stats("tenant-a").TokensThisDay; got != 0 {
		t.Fatalf("got %d tokens after rollover, want 0", got)
	}
}

func TestIdleTenantsEvicted(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 10, BurstSize: 10})
	clock.install(l)

	ctx := context.Background()
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// A day of silence: the next touch by anyone sweeps the idle state.
	clock.now = clock.now.Add(25 * time.Hour)
	l.Stats("tenant-b")

	l.mu.Lock()
	_, ok := l.tenants["tenant-a"]
	l.mu.Unlock()
	if ok {
		t.Fatal("idle tenant state was not evicted")
	}
}

func TestAcquireConcurrentRespectsWindowLimit(t *testing.T) {
	t.Parallel()
	l := New(Config{RequestsPerMinute: 2, BurstSize: 100})

	// Freeze the clock so the minute window cannot roll over mid-test;
	// sleeps stay real so the losers block until the context expires.
	base := time.Now()
	l.now = func() time.Time { return base }

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx, "tenant-a"); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got > 2 {
		t.Fatalf("%d concurrent acquires succeeded, want at most 2", got)
	}
	if got := l.Stats("tenant-a").RequestsThisMinute; got > 2 {
		t.Fatalf("counted %d requests this minute, want at most 2", got)
	}
}

func TestAcquireCancellable(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	l := New(Config{RequestsPerMinute: 1, BurstSize: 100})
	l.now = func() time.Time { return clock.now }
	// Real sleep behavior so cancellation propagates.

	ctx := context.Background()
	if err := l.Acquire(ctx, "tenant-a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(cancelled, "tenant-a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
