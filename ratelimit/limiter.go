package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limits enforced by a Limiter. Zero disables the
// corresponding limit.
type Config struct {
	// RequestsPerMinute is the sustained request rate. It also drives
	// the shared token bucket's refill rate.
	RequestsPerMinute int

	// RequestsPerHour caps requests per tenant per rolling hour.
	RequestsPerHour int

	// RequestsPerDay caps requests per tenant per rolling day.
	RequestsPerDay int

	// TokensPerMinute caps recorded usage tokens per tenant per minute.
	TokensPerMinute int64

	// TokensPerDay caps recorded usage tokens per tenant per day.
	TokensPerDay int64

	// CostPerDay caps recorded cost per tenant per day.
	CostPerDay float64

	// BurstSize is the shared token bucket capacity.
	BurstSize int

	// BurstCooldown is the minimum wait imposed once the bucket is
	// fully drained, so a burst is followed by a breather rather than
	// immediate re-contention on the refill.
	BurstCooldown time.Duration
}

// DefaultConfig returns limits suitable for a single worker process
// against a metered upstream.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		TokensPerMinute:   90000,
		TokensPerDay:      2000000,
		CostPerDay:        100,
		BurstSize:         10,
		BurstCooldown:     5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of one tenant's counters.
type Stats struct {
	TenantID string

	RequestsThisMinute int64
	RequestsThisHour   int64
	RequestsThisDay    int64
	TokensThisMinute   int64
	TokensThisDay      int64
	CostToday          float64

	MinuteResetsAt time.Time
	HourResetsAt   time.Time
	DayResetsAt    time.Time
}

// window is one rolling counter bucket. It resets when the wall clock
// passes start+length.
type window struct {
	start    time.Time
	length   time.Duration
	requests int64
	tokens   int64
	cost     float64
}

func (w *window) roll(now time.Time) {
	if now.Sub(w.start) >= w.length {
		w.start = now.Truncate(w.length)
		w.requests = 0
		w.tokens = 0
		w.cost = 0
	}
}

func (w *window) resetsAt() time.Time { return w.start.Add(w.length) }

// tenantState tracks the rolling windows for one tenant.
type tenantState struct {
	minute window
	hour   window
	day    window

	// lastSeen drives idle-tenant eviction.
	lastSeen time.Time
}

func newTenantState(now time.Time) *tenantState {
	return &tenantState{
		minute: window{start: now.Truncate(time.Minute), length: time.Minute},
		hour:   window{start: now.Truncate(time.Hour), length: time.Hour},
		day:    window{start: now.Truncate(24 * time.Hour), length: 24 * time.Hour},
	}
}

func (ts *tenantState) roll(now time.Time) {
	ts.minute.roll(now)
	ts.hour.roll(now)
	ts.day.roll(now)
}

// waitFor returns how long the tenant must wait before the next request
// is admissible, or zero if every window has headroom. When several
// limits are violated it returns the smallest wait; the caller loops
// and rechecks after sleeping.
func (ts *tenantState) waitFor(cfg Config, now time.Time) time.Duration {
	var waits []time.Duration
	if cfg.RequestsPerMinute > 0 && ts.minute.requests >= int64(cfg.RequestsPerMinute) {
		waits = append(waits, ts.minute.resetsAt().Sub(now))
	}
	if cfg.RequestsPerHour > 0 && ts.hour.requests >= int64(cfg.RequestsPerHour) {
		waits = append(waits, ts.hour.resetsAt().Sub(now))
	}
	if cfg.RequestsPerDay > 0 && ts.day.requests >= int64(cfg.RequestsPerDay) {
		waits = append(waits, ts.day.resetsAt().Sub(now))
	}
	if cfg.TokensPerMinute > 0 && ts.minute.tokens >= cfg.TokensPerMinute {
		waits = append(waits, ts.minute.resetsAt().Sub(now))
	}
	if cfg.TokensPerDay > 0 && ts.day.tokens >= cfg.TokensPerDay {
		waits = append(waits, ts.day.resetsAt().Sub(now))
	}
	if cfg.CostPerDay > 0 && ts.day.cost >= cfg.CostPerDay {
		waits = append(waits, ts.day.resetsAt().Sub(now))
	}

	var min time.Duration
	for _, w := range waits {
		if min == 0 || w < min {
			min = w
		}
	}
	if min < 0 {
		min = time.Millisecond
	}
	return min
}

// Limiter gates outbound calls with one process-wide token bucket plus
// per-tenant rolling counters. State is in-memory and process-local:
// multi-process deployments get best-effort, per-process limiting only.
type Limiter struct {
	cfg    Config
	bucket *rate.Limiter
	logger *slog.Logger

	mu        sync.Mutex
	tenants   map[string]*tenantState
	lastSweep time.Time

	// Injectable for deterministic tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// New creates a Limiter enforcing cfg.
func New(cfg Config, opts ...Option) *Limiter {
	refill := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		refill = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	l := &Limiter{
		cfg:     cfg,
		bucket:  rate.NewLimiter(refill, burst),
		logger:  slog.Default(),
		tenants: make(map[string]*tenantState),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the tenant may make one outbound request, then
// counts it. There is no deadline of its own: callers needing bounded
// waiting cancel ctx.
//
// The guarding lock is never held across a wait, so one tenant backing
// off cannot stall acquires for unrelated tenants.
func (l *Limiter) Acquire(ctx context.Context, tenantID string) error {
	for {
		now := l.now()

		l.mu.Lock()
		ts := l.tenantLocked(tenantID, now)
		ts.roll(now)
		wait := ts.waitFor(l.cfg, now)
		l.mu.Unlock()

		if wait > 0 {
			l.logger.Debug("rate limit reached, waiting",
				slog.String("tenant_id", tenantID),
				slog.Duration("wait", wait),
			)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if !l.bucket.AllowN(now, 1) {
			// Bucket drained. Wait at least for one token to refill,
			// stretched to BurstCooldown after a full drain.
			res := l.bucket.ReserveN(now, 1)
			delay := res.DelayFrom(now)
			res.CancelAt(now)
			if delay < l.cfg.BurstCooldown {
				delay = l.cfg.BurstCooldown
			}
			l.logger.Debug("burst budget drained, cooling down",
				slog.String("tenant_id", tenantID),
				slog.Duration("wait", delay),
			)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		// The window check above ran in an earlier critical section, so
		// a concurrent acquire may have consumed the last slot since.
		// Recheck and count under one lock; on a lost race, go around.
		now = l.now()
		l.mu.Lock()
		ts = l.tenantLocked(tenantID, now)
		ts.roll(now)
		if ts.waitFor(l.cfg, now) > 0 {
			l.mu.Unlock()
			continue
		}
		ts.minute.requests++
		ts.hour.requests++
		ts.day.requests++
		l.mu.Unlock()
		return nil
	}
}

// RecordUsage accounts tokens and cost after the fact. It is never
// gated; the recorded totals feed the token and cost checks of future
// Acquire calls.
func (l *Limiter) RecordUsage(tenantID string, tokens int64, cost float64) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.tenantLocked(tenantID, now)
	ts.roll(now)
	ts.minute.tokens += tokens
	ts.day.tokens += tokens
	ts.day.cost += cost
}

// Stats returns a snapshot of the tenant's current counters.
func (l *Limiter) Stats(tenantID string) Stats {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.tenantLocked(tenantID, now)
	ts.roll(now)
	return Stats{
		TenantID:           tenantID,
		RequestsThisMinute: ts.minute.requests,
		RequestsThisHour:   ts.hour.requests,
		RequestsThisDay:    ts.day.requests,
		TokensThisMinute:   ts.minute.tokens,
		TokensThisDay:      ts.day.tokens,
		CostToday:          ts.day.cost,
		MinuteResetsAt:     ts.minute.resetsAt(),
		HourResetsAt:       ts.hour.resetsAt(),
		DayResetsAt:        ts.day.resetsAt(),
	}
}

// evictAfter is how long a tenant may sit idle before its state is
// dropped. It matches the longest window, so an evicted tenant's
// counters would have fully reset anyway.
const evictAfter = 24 * time.Hour

// tenantLocked returns the state for tenantID, creating it on first
// use. Caller holds mu.
func (l *Limiter) tenantLocked(tenantID string, now time.Time) *tenantState {
	l.sweepLocked(now)

	ts, ok := l.tenants[tenantID]
	if !ok {
		ts = newTenantState(now)
		l.tenants[tenantID] = ts
	}
	ts.lastSeen = now
	return ts
}

// sweepLocked evicts tenants idle past evictAfter, at most once per
// minute, so the tenant map does not grow for the process lifetime.
// Caller holds mu.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for tenantID, ts := range l.tenants {
		if now.Sub(ts.lastSeen) >= evictAfter {
			delete(l.tenants, tenantID)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
