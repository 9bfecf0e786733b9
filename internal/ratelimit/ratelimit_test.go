package ratelimit

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownerexit/ownerexit-cli/internal/resilience"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	clk := newTestClock()
	fw := NewFixedWindow(3, time.Minute)
	fw.now = clk.now
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := fw.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	clk.advance(20 * time.Second)
	d, err := fw.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 40*time.Second, d.ResetAfter)

	// Other keys are independent.
	d, err = fw.Check(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	clk := newTestClock()
	fw := NewFixedWindow(1, time.Minute)
	fw.now = clk.now
	ctx := context.Background()

	d, _ := fw.Check(ctx, "k")
	require.True(t, d.Allowed)
	d, _ = fw.Check(ctx, "k")
	require.False(t, d.Allowed)

	clk.advance(time.Minute)
	d, _ = fw.Check(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestFixedWindow_Sweep(t *testing.T) {
	clk := newTestClock()
	fw := NewFixedWindow(5, time.Minute)
	fw.now = clk.now
	ctx := context.Background()

	_, _ = fw.Check(ctx, "a")
	clk.advance(30 * time.Second)
	_, _ = fw.Check(ctx, "b")
	require.Equal(t, 2, fw.Len())

	clk.advance(31 * time.Second)
	assert.Equal(t, 1, fw.Sweep())
	assert.Equal(t, 1, fw.Len())
}

func TestFixedWindow_Concurrent(t *testing.T) {
	fw := NewFixedWindow(50, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := fw.Check(ctx, "shared")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestFixedWindow_RunStopsOnCancel(t *testing.T) {
	fw := NewFixedWindow(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		fw.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	_, _ = fw.Check(ctx, "k")

	require.Eventually(t, func() bool { return fw.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestTokenBucket(t *testing.T) {
	clk := newTestClock()
	tb := NewTokenBucket(2, time.Minute)
	tb.now = clk.now
	ctx := context.Background()

	d, _ := tb.Check(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	d, _ = tb.Check(ctx, "k")
	assert.True(t, d.Allowed)
	d, _ = tb.Check(ctx, "k")
	assert.False(t, d.Allowed)
	assert.InDelta(t, (30 * time.Second).Seconds(), d.ResetAfter.Seconds(), 0.5)

	// One token refills every 30s.
	clk.advance(30 * time.Second)
	d, _ = tb.Check(ctx, "k")
	assert.True(t, d.Allowed)

	clk.advance(2 * time.Minute)
	assert.Equal(t, 1, tb.Sweep())
	assert.Equal(t, 0, tb.Len())
}

func expectWindow(mock redismock.ClientMock, key string, period time.Duration, created bool, count int64, ttl time.Duration) {
	k := KeyPrefix + key
	mock.ExpectTxPipeline()
	mock.ExpectSetNX(k, 0, period).SetVal(created)
	mock.ExpectIncr(k).SetVal(count)
	mock.ExpectPTTL(k).SetVal(ttl)
	mock.ExpectTxPipelineExec()
}

func TestRedis_FirstRequestStartsWindow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRedis(client, 10, time.Minute)

	expectWindow(mock, "1.2.3.4", time.Minute, true, 1, time.Minute)

	d, err := rl.Check(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
	assert.Equal(t, time.Minute, d.ResetAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_OverLimit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRedis(client, 10, time.Minute)

	expectWindow(mock, "k", time.Minute, false, 11, 12*time.Second)

	d, err := rl.Check(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 12*time.Second, d.ResetAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_RepairsMissingExpiry(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRedis(client, 10, time.Minute)

	expectWindow(mock, "k", time.Minute, false, 3, time.Duration(-1))
	mock.ExpectPExpire("ratelimit:k", time.Minute).SetVal(true)

	d, err := rl.Check(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 7, d.Remaining)
	assert.Equal(t, time.Minute, d.ResetAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	rl := NewRedis(client, 10, time.Minute)

	mock.ExpectTxPipeline()
	mock.ExpectSetNX("ratelimit:k", 0, time.Minute).SetErr(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED))

	_, err := rl.Check(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ratelimit: check ratelimit:k")
}

// stubLimiter returns a fixed decision or error.
type stubLimiter struct {
	d     Decision
	err   error
	calls int
}

func (s *stubLimiter) Check(context.Context, string) (Decision, error) {
	s.calls++
	return s.d, s.err
}

func TestFallback_UsesLocalWhenPrimaryDown(t *testing.T) {
	primary := &stubLimiter{err: fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)}
	local := NewFixedWindow(1, time.Minute)
	breaker := resilience.NewBreaker(resilience.Settings{Threshold: 1, Cooldown: time.Hour})
	fb := NewFallback(primary, local, breaker)
	ctx := context.Background()

	d, err := fb.Check(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, resilience.StateOpen, breaker.State())

	// Breaker is open: the primary is not consulted again.
	d, err = fb.Check(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, primary.calls)
}

func TestFallback_PrimaryHealthy(t *testing.T) {
	client, mock := redismock.NewClientMock()
	fb := NewFallback(NewRedis(client, 5, time.Minute), NewFixedWindow(1, time.Minute), resilience.NewBreaker(resilience.Settings{}))

	expectWindow(mock, "ip", time.Minute, false, 2, 50*time.Second)

	d, err := fb.Check(context.Background(), "ip")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIPResolver_ClientIP(t *testing.T) {
	ips, err := NewIPResolver([]string{"10.0.0.0/8", "192.0.2.50"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		ips     *IPResolver
		xff     string
		realIP  string
		remote  string
		wantKey string
	}{
		{"untrusted peer ignores forwarded", ips, "203.0.113.7", "198.51.100.4", "192.0.2.10:41000", "192.0.2.10"},
		{"nil resolver ignores forwarded", nil, "203.0.113.7", "", "10.0.0.2:5555", "10.0.0.2"},
		{"trusted peer uses rightmost untrusted hop", ips, "198.51.100.9, 203.0.113.7, 10.0.0.1", "", "10.0.0.2:5555", "203.0.113.7"},
		{"trusted bare ip", ips, "203.0.113.8", "", "192.0.2.50:80", "203.0.113.8"},
		{"trusted peer real ip", ips, "", "198.51.100.4", "10.0.0.2:5555", "198.51.100.4"},
		{"all hops trusted", ips, "10.1.1.1", "", "10.0.0.2:5555", "10.0.0.2"},
		{"remote without port", ips, "", "", "192.0.2.11", "192.0.2.11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/price-guide/detailed", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.wantKey, tt.ips.ClientIP(r))
		})
	}
}

func TestNewIPResolver_Invalid(t *testing.T) {
	_, err := NewIPResolver([]string{"10.0.0.0/33"})
	assert.Error(t, err)

	_, err = NewIPResolver([]string{"not-an-ip"})
	assert.Error(t, err)

	ips, err := NewIPResolver([]string{"", " "})
	require.NoError(t, err)
	assert.Empty(t, ips.trusted)
}

func TestSetHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetHeaders(w, Decision{Allowed: false, Limit: 10, Remaining: 0, ResetAfter: 1500 * time.Millisecond})
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	SetHeaders(w, Decision{Allowed: true, Limit: 10, Remaining: 4})
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, w.Header().Get("Retry-After"))
}
