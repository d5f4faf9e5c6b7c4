// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	ProxyRequests     *prometheus.CounterVec
	ProxyDuration     *prometheus.HistogramVec
	ProxyBytes        prometheus.Counter
	AdmissionRejected *prometheus.CounterVec

	TokensIssued    *prometheus.CounterVec
	TokensActivated prometheus.Counter
	TokensRevoked   prometheus.Counter

	RateLimited *prometheus.CounterVec

	SessionsOpened    prometheus.Counter
	SessionConflicts  prometheus.Counter
	SessionsDisplaced prometheus.Counter
}

// New creates and registers all gateway metrics on the default
// registry.
func New() *Metrics {
	return &Metrics{
		ProxyRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_requests_total",
				Help: "Forwarded requests by method and upstream status class",
			},
			[]string{"method", "status"},
		),
		ProxyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_proxy_request_duration_seconds",
				Help:    "End-to-end latency of forwarded requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ProxyBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_proxy_response_bytes_total",
				Help: "Response body bytes relayed from the upstream",
			},
		),
		AdmissionRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_admission_rejected_total",
				Help: "Proxy requests rejected before forwarding",
			},
			[]string{"reason"}, // missing_device, bad_token, scope, device_conflict, rate_limited
		),

		TokensIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_issued_total",
				Help: "Access tokens sold, by duration",
			},
			[]string{"duration_hours"},
		),
		TokensActivated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_tokens_activated_total",
				Help: "Tokens activated by their first validation",
			},
		),
		TokensRevoked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_tokens_revoked_total",
				Help: "Unactivated tokens revoked and refunded",
			},
		),

		RateLimited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limited_total",
				Help: "Requests rejected by the sliding-window limiter",
			},
			[]string{"class"},
		),

		SessionsOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_proxy_sessions_opened_total",
				Help: "Proxy sessions created",
			},
		),
		SessionConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_proxy_session_conflicts_total",
				Help: "Requests rejected because the token was bound to another device",
			},
		),
		SessionsDisplaced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_proxy_sessions_displaced_total",
				Help: "Idle sessions closed by a takeover from another device",
			},
		),
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
