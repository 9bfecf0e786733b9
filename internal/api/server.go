// Package api exposes the price-guide calculators over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/auth"
	"github.com/ownerexit/ownerexit-cli/internal/normalise"
	"github.com/ownerexit/ownerexit-cli/internal/ratelimit"
	"github.com/ownerexit/ownerexit-cli/internal/resilience"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Deps are the collaborators the router is built from. Store, Limiter and
// Auth may be nil: without a store nothing is persisted, without a limiter
// nothing is throttled, and without an authenticator the detailed route
// rejects every caller. StoreBreaker guards lead capture so a failing
// database is skipped quickly; IPResolver keys the rate limiter and, when
// nil, forwarding headers are ignored.
type Deps struct {
	Calculator   *appraisal.Calculator
	Normaliser   *normalise.Normaliser
	Store        store.Store
	StoreBreaker *resilience.Breaker
	Limiter      ratelimit.Limiter
	IPResolver   *ratelimit.IPResolver
	Auth         auth.Authenticator
	CORSOrigins  []string
	MetricsPath  string // empty disables the metrics endpoint
	PingTimeout  time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	deps Deps
}

// NewRouter builds the HTTP handler for d.
func NewRouter(d Deps) http.Handler {
	if d.PingTimeout <= 0 {
		d.PingTimeout = 2 * time.Second
	}
	s := &Server{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(d.IPResolver))
	r.Use(middleware.Recoverer)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if d.MetricsPath != "" {
		r.Handle(d.MetricsPath, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/industries", s.handleIndustries)
		r.Post("/price-guide", s.handlePriceGuide)
		r.With(
			rateLimit(d.Limiter, d.IPResolver, "price-guide-detailed"),
			requireAuth(d.Auth),
		).Post("/price-guide/detailed", s.handleDetailed)
		r.Post("/normalise", s.handleNormalise)
		r.With(requireAuth(d.Auth)).Get("/businesses/{businessID}/sections/{kind}", s.handleGetSection)
	})
	return r
}
