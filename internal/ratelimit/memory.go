package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type window struct {
	count   int
	resetAt time.Time
}

// FixedWindow counts requests per key in fixed windows held in memory.
type FixedWindow struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewFixedWindow allows limit requests per key every period.
func NewFixedWindow(limit int, period time.Duration) *FixedWindow {
	return &FixedWindow{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Check counts one request for key.
func (f *FixedWindow) Check(_ context.Context, key string) (Decision, error) {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(f.period)}
		f.windows[key] = w
	}

	d := Decision{Limit: f.limit, ResetAfter: w.resetAt.Sub(now)}
	if w.count >= f.limit {
		return d, nil
	}
	w.count++
	d.Allowed = true
	d.Remaining = f.limit - w.count
	return d, nil
}

// Sweep evicts expired windows and returns how many were removed.
func (f *FixedWindow) Sweep() int {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for k, w := range f.windows {
		if !now.Before(w.resetAt) {
			delete(f.windows, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

// Run sweeps every interval until ctx is done.
func (f *FixedWindow) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, "fixed_window", f.Sweep)
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// TokenBucket gives each key a token bucket of size limit refilled at
// limit per period.
type TokenBucket struct {
	limit  int
	period time.Duration
	every  rate.Limit
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewTokenBucket allows bursts of limit with a sustained rate of limit per period.
func NewTokenBucket(limit int, period time.Duration) *TokenBucket {
	every := rate.Limit(0)
	if limit > 0 && period > 0 {
		every = rate.Every(period / time.Duration(limit))
	}
	return &TokenBucket{
		limit:   limit,
		period:  period,
		every:   every,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Check takes one token for key.
func (t *TokenBucket) Check(_ context.Context, key string) (Decision, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.every, t.limit)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{Limit: t.limit}
	if b.lim.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(b.lim.TokensAt(now))
		return d, nil
	}
	d.ResetAfter = t.period
	if t.every > 0 {
		missing := 1 - b.lim.TokensAt(now)
		d.ResetAfter = time.Duration(missing / float64(t.every) * float64(time.Second))
	}
	return d, nil
}

// Sweep evicts buckets idle for a full period, which are full again and
// indistinguishable from new ones.
func (t *TokenBucket) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) >= t.period {
			delete(t.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (t *TokenBucket) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Run sweeps every interval until ctx is done.
func (t *TokenBucket) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, "token_bucket", t.Sweep)
}

func runSweeper(ctx context.Context, interval time.Duration, kind string, sweep func() int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sweep(); n > 0 {
				zap.L().Debug("ratelimit: swept idle keys", zap.String("limiter", kind), zap.Int("removed", n))
			}
		}
	}
}
