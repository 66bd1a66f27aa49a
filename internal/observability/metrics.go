package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/upb/auth-bridge/guard"
)

// Metrics holds the Prometheus collectors of the bridge. It satisfies the
// recorder interfaces of the key-set cache, the auth cache and the identity
// API client, and observes guard events.
type Metrics struct {
	authEvents       *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	keySetRefreshes  *prometheus.CounterVec
	keySetLatency    prometheus.Histogram
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors. Register them with a registry before use.
func NewMetrics() *Metrics {
	return &Metrics{
		authEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_bridge_guard_events_total",
				Help: "Guard events by guard and type",
			},
			[]string{"guard", "type"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_bridge_cache_lookups_total",
				Help: "Auth cache lookups by result (hit, miss, bypass)",
			},
			[]string{"result"},
		),
		keySetRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_bridge_jwks_refreshes_total",
				Help: "Signing key set fetches by outcome",
			},
			[]string{"outcome"},
		),
		keySetLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auth_bridge_jwks_refresh_duration_seconds",
				Help:    "Duration of signing key set fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_bridge_upstream_requests_total",
				Help: "Identity API calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_bridge_upstream_request_duration_seconds",
				Help:    "Duration of identity API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.authEvents.Describe(ch)
	m.cacheLookups.Describe(ch)
	m.keySetRefreshes.Describe(ch)
	m.keySetLatency.Describe(ch)
	m.upstreamRequests.Describe(ch)
	m.upstreamLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.authEvents.Collect(ch)
	m.cacheLookups.Collect(ch)
	m.keySetRefreshes.Collect(ch)
	m.keySetLatency.Collect(ch)
	m.upstreamRequests.Collect(ch)
	m.upstreamLatency.Collect(ch)
}

// HandleAuthEvent counts guard events
func (m *Metrics) HandleAuthEvent(_ context.Context, event guard.Event) {
	m.authEvents.WithLabelValues(event.Guard, string(event.Type)).Inc()
}

// RecordCacheLookup counts an auth cache lookup
func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordKeySetRefresh records a signing key set fetch
func (m *Metrics) RecordKeySetRefresh(outcome string, duration time.Duration) {
	m.keySetRefreshes.WithLabelValues(outcome).Inc()
	m.keySetLatency.Observe(duration.Seconds())
}

// RecordUpstreamRequest records an identity API call
func (m *Metrics) RecordUpstreamRequest(operation, outcome string, duration time.Duration) {
	m.upstreamRequests.WithLabelValues(operation, outcome).Inc()
	m.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}
