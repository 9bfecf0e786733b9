// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AppraisalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownerexit_appraisals_total",
			Help: "Price guides produced, by kind and confidence",
		},
		[]string{"kind", "confidence"},
	)

	NormalisationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownerexit_normalisations_total",
			Help: "P&L normalisations produced, by revenue bracket",
		},
		[]string{"bracket"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ownerexit_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	LeadsCapturedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ownerexit_leads_captured_total",
			Help: "Leads persisted from price-guide requests",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ownerexit_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// ObserveRequest records one completed HTTP request.
func ObserveRequest(route, method string, status int, elapsed time.Duration) {
	RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
