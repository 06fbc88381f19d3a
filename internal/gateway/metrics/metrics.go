// Package metrics exposes the gateway's Prometheus instruments. Request-scoped
// series are incremented inline by the HTTP layer; internal component state
// (breakers, limiter windows, cache occupancy) is read at scrape time by a
// collector so the components themselves carry no metrics dependency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "taskmesh"
	subsystem = "gateway"
)

// Metrics holds the request-scoped Prometheus instruments.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RejectionsTotal *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	UpstreamTotal   *prometheus.CounterVec
}

// New registers the gateway instruments with reg and returns them. Passing a
// fresh registry keeps tests isolated from the default global one.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Requests handled, by route, method, and response status.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency, by route and method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rejections_total",
				Help:      "Requests rejected before or instead of dispatch, by error code.",
			},
			[]string{"code"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_lookups_total",
				Help:      "Cacheable request outcomes: hit or miss.",
			},
			[]string{"outcome"},
		),
		UpstreamTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "upstream_requests_total",
				Help:      "Dispatch outcomes per upstream service.",
			},
			[]string{"service", "outcome"},
		),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveRejection records a request the gateway refused, keyed by the
// stable error code the caller saw.
func (m *Metrics) ObserveRejection(code string) {
	m.RejectionsTotal.WithLabelValues(code).Inc()
}

// ObserveCacheLookup records whether a cacheable request was served from the
// cache.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the outcome of one dispatch attempt.
func (m *Metrics) ObserveUpstream(service, outcome string) {
	m.UpstreamTotal.WithLabelValues(service, outcome).Inc()
}
