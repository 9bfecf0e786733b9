package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/config"
	"github.com/ownerexit/ownerexit-cli/internal/normalise"
	"github.com/ownerexit/ownerexit-cli/internal/ratelimit"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
	"github.com/ownerexit/ownerexit-cli/internal/resilience"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ownerexit.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// loadTables returns the reference data override from config, or the
// embedded tables.
func loadTables(c config.AppraisalConfig) (*refdata.Tables, error) {
	if c.ReferenceData != "" {
		t, err := refdata.LoadFile(c.ReferenceData)
		if err != nil {
			return nil, err
		}
		zap.L().Info("loaded reference data", zap.String("path", c.ReferenceData), zap.String("version", t.Version()))
		return t, nil
	}
	return refdata.Default()
}

func newCalculator(tables *refdata.Tables, c config.AppraisalConfig) (*appraisal.Calculator, error) {
	basic, err := appraisal.ParseStrategy(c.BasicQuality, appraisal.StrategyMean)
	if err != nil {
		return nil, eris.Wrap(err, "appraisal.basic_quality")
	}
	detailed, err := appraisal.ParseStrategy(c.DetailedQuality, appraisal.StrategyProduct)
	if err != nil {
		return nil, eris.Wrap(err, "appraisal.detailed_quality")
	}
	return appraisal.New(tables,
		appraisal.WithBasicStrategy(basic),
		appraisal.WithDetailedStrategy(detailed),
	), nil
}

// buildCalculators loads reference data once and builds both calculators on it.
func buildCalculators() (*appraisal.Calculator, *normalise.Normaliser, error) {
	tables, err := loadTables(cfg.Appraisal)
	if err != nil {
		return nil, nil, err
	}
	calc, err := newCalculator(tables, cfg.Appraisal)
	if err != nil {
		return nil, nil, err
	}
	return calc, normalise.New(tables), nil
}

// sweeper is an in-memory limiter that needs periodic eviction.
type sweeper interface {
	Run(ctx context.Context, interval time.Duration)
}

// buildLimiter builds the configured limiter and starts its sweeper on ctx.
// The returned close func releases any Redis client.
func buildLimiter(ctx context.Context, rl config.RateLimitConfig, rc config.RedisConfig) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	window := rl.Window()

	var local ratelimit.Limiter
	var sw sweeper
	switch rl.Strategy {
	case config.RateLimitTokenBucket:
		tb := ratelimit.NewTokenBucket(rl.Requests, window)
		local, sw = tb, tb
	case config.RateLimitMemory, config.RateLimitRedis, "":
		fw := ratelimit.NewFixedWindow(rl.Requests, window)
		local, sw = fw, fw
	default:
		return nil, noop, eris.Errorf("unsupported rate limit strategy: %s", rl.Strategy)
	}

	sweep := time.Duration(rl.SweepSecs) * time.Second
	if sweep <= 0 {
		sweep = window
	}
	go sw.Run(ctx, sweep)

	if rl.Strategy != config.RateLimitRedis {
		return local, noop, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	settings := resilience.FromConfig(rl.BreakerThreshold, rl.BreakerResetSecs)
	settings.OnChange = func(from, to resilience.State) {
		zap.L().Warn("rate limit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	limiter := ratelimit.NewFallback(
		ratelimit.NewRedis(client, rl.Requests, window),
		local,
		resilience.NewBreaker(settings),
	)
	return limiter, func() { _ = client.Close() }, nil
}
