package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/auth"
	"github.com/ownerexit/ownerexit-cli/internal/metrics"
	"github.com/ownerexit/ownerexit-cli/internal/ratelimit"
)

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// routePattern is the matched chi pattern, or the raw path when unrouted.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// requestLogger logs each request once and records its latency.
func requestLogger(ips *ratelimit.IPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.ObserveRequest(route, r.Method, status, elapsed)

			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
				zap.String("request_id", requestID(r)),
				zap.String("remote_ip", ips.ClientIP(r)),
			)
		})
	}
}

// requireAuth rejects callers the authenticator cannot identify and stores
// the principal on the request context.
func requireAuth(a auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				writeError(w, r, apperr.Auth("authentication is not configured"))
				return
			}
			p, err := a.Authenticate(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// rateLimit admits requests per client IP as resolved by ips. A limiter
// error lets the request through.
func rateLimit(l ratelimit.Limiter, ips *ratelimit.IPResolver, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ips.ClientIP(r)
			d, err := l.Check(r.Context(), route+"|"+ip)
			if err != nil {
				zap.L().Warn("api: rate limiter unavailable, admitting request",
					zap.String("route", route),
					zap.String("ip", ip),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}
			ratelimit.SetHeaders(w, d)
			if !d.Allowed {
				metrics.RateLimitedTotal.WithLabelValues(route).Inc()
				writeError(w, r, apperr.RateLimited(d.ResetAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
