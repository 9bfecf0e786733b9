package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/resilience"
)

// KeyPrefix namespaces limiter counters in Redis.
const KeyPrefix = "ratelimit:"

// Redis is a fixed-window limiter shared by every server instance.
type Redis struct {
	client redis.Cmdable
	limit  int
	period time.Duration
}

// NewRedis allows limit requests per key every period, counted in Redis.
func NewRedis(client redis.Cmdable, limit int, period time.Duration) *Redis {
	return &Redis{client: client, limit: limit, period: period}
}

// Check counts one request against key. The window is created, incremented
// and read in a single MULTI/EXEC so concurrent first requests agree on when
// it started.
func (r *Redis) Check(ctx context.Context, key string) (Decision, error) {
	k := KeyPrefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, r.period)
		incr = pipe.Incr(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return Decision{}, eris.Wrapf(err, "ratelimit: check %s", k)
	}
	count := incr.Val()
	ttl := pttl.Val()
	if ttl < 0 {
		// A counter left without an expiry would never reset.
		if err := r.client.PExpire(ctx, k, r.period).Err(); err != nil {
			return Decision{}, eris.Wrapf(err, "ratelimit: pexpire %s", k)
		}
		ttl = r.period
	}

	d := Decision{Limit: r.limit, ResetAfter: ttl}
	if count > int64(r.limit) {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = r.limit - int(count)
	return d, nil
}

// Fallback consults primary through a circuit breaker and answers from
// local when primary fails or the breaker is open.
type Fallback struct {
	primary Limiter
	local   Limiter
	breaker *resilience.Breaker
}

// NewFallback wraps primary with a breaker and a local limiter.
func NewFallback(primary, local Limiter, breaker *resilience.Breaker) *Fallback {
	return &Fallback{primary: primary, local: local, breaker: breaker}
}

// Check implements Limiter.
func (f *Fallback) Check(ctx context.Context, key string) (Decision, error) {
	d, err := resilience.DoVal(ctx, f.breaker, func(ctx context.Context) (Decision, error) {
		return f.primary.Check(ctx, key)
	})
	if err == nil {
		return d, nil
	}
	if errors.Is(err, resilience.ErrOpen) {
		zap.L().Debug("ratelimit: breaker open, using local limiter")
	} else {
		zap.L().Warn("ratelimit: shared limiter failed, using local limiter", zap.Error(err))
	}
	return f.local.Check(ctx, key)
}
