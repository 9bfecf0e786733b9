package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/api"
	"github.com/ownerexit/ownerexit-cli/internal/auth"
	"github.com/ownerexit/ownerexit-cli/internal/ratelimit"
	"github.com/ownerexit/ownerexit-cli/internal/resilience"
)

var (
	servePort    int
	serveNoStore bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the price guide and normalisation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps, cleanup, err := buildServeDeps(ctx, !serveNoStore)
		if err != nil {
			return err
		}
		defer cleanup()

		port := resolvePort(servePort, cfg.Server.Port)
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.NewRouter(deps),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		}

		return startServer(ctx, srv, time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "run without a database; leads and sections are not persisted")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over config.
func resolvePort(flag, fromConfig int) int {
	if flag > 0 {
		return flag
	}
	return fromConfig
}

// buildServeDeps wires the router's collaborators from config. The returned
// cleanup releases the store and any Redis client.
func buildServeDeps(ctx context.Context, withStore bool) (api.Deps, func(), error) {
	calc, norm, err := buildCalculators()
	if err != nil {
		return api.Deps{}, func() {}, err
	}

	ips, err := ratelimit.NewIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return api.Deps{}, func() {}, err
	}

	limiter, closeLimiter, err := buildLimiter(ctx, cfg.RateLimit, cfg.Redis)
	if err != nil {
		return api.Deps{}, func() {}, err
	}

	authn := auth.NewTokenAuthenticator(cfg.Auth.AllTokens())
	if authn.Len() == 0 {
		zap.L().Warn("no API tokens configured; the detailed price guide will reject every request")
	}

	deps := api.Deps{
		Calculator:  calc,
		Normaliser:  norm,
		Limiter:     limiter,
		IPResolver:  ips,
		Auth:        authn,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsPath = cfg.Metrics.Path
	}

	cleanup := closeLimiter
	if withStore {
		if err := cfg.Validate("store"); err != nil {
			closeLimiter()
			return api.Deps{}, func() {}, err
		}
		st, err := openStore(ctx)
		if err != nil {
			closeLimiter()
			return api.Deps{}, func() {}, err
		}
		deps.Store = st
		deps.StoreBreaker = newStoreBreaker()
		cleanup = func() {
			st.Close() //nolint:errcheck
			closeLimiter()
		}
	}

	return deps, cleanup, nil
}

// newStoreBreaker guards lead capture with the default breaker settings.
func newStoreBreaker() *resilience.Breaker {
	settings := resilience.FromConfig(0, 0)
	settings.OnChange = func(from, to resilience.State) {
		zap.L().Warn("store breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return resilience.NewBreaker(settings)
}

// startServer runs srv until ctx is cancelled, then drains in-flight
// requests for up to grace.
func startServer(ctx context.Context, srv *http.Server, grace time.Duration) error {
	if grace <= 0 {
		grace = 10 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}
