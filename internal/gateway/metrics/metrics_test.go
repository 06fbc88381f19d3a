package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/gateway/internal/config"
	"github.com/taskmesh/gateway/internal/gateway/cache"
	"github.com/taskmesh/gateway/internal/gateway/circuitbreaker"
	"github.com/taskmesh/gateway/internal/gateway/ratelimit"
)

// gatherValue scrapes reg and returns the value of the series matching name
// and every given label. Works for counters and gauges.
func gatherValue(t *testing.T, reg prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := true
			for wantName, wantValue := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == wantName && lp.GetValue() == wantValue {
						found = true
						break
					}
				}
				if !found {
					matched = false
					break
				}
			}
			if !matched {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("no series %s with labels %v", name, labels)
	return 0
}

func TestMetrics_RequestInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("/v1/profile", "GET", 200, 12*time.Millisecond)
	m.ObserveRequest("/v1/profile", "GET", 200, 9*time.Millisecond)
	m.ObserveRequest("/v1/profile", "GET", 502, 40*time.Millisecond)
	m.ObserveRejection("RATE_LIMITED")
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)
	m.ObserveUpstream("bookings", "success")

	assert.Equal(t, 2.0, gatherValue(t, reg, "taskmesh_gateway_requests_total",
		map[string]string{"route": "/v1/profile", "method": "GET", "status": "200"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_requests_total",
		map[string]string{"route": "/v1/profile", "method": "GET", "status": "502"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_rejections_total",
		map[string]string{"code": "RATE_LIMITED"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_cache_lookups_total",
		map[string]string{"outcome": "hit"}))
	assert.Equal(t, 2.0, gatherValue(t, reg, "taskmesh_gateway_cache_lookups_total",
		map[string]string{"outcome": "miss"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_upstream_requests_total",
		map[string]string{"service": "bookings", "outcome": "success"}))

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() != "taskmesh_gateway_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			samples += m.GetHistogram().GetSampleCount()
		}
	}
	assert.EqualValues(t, 3, samples, "every request observation lands in the histogram")
}

func TestStatsCollector_ExportsComponentState(t *testing.T) {
	breakers := circuitbreaker.NewRegistry(config.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     time.Hour,
		HalfOpenProbes:   1,
		MaxBreakers:      10,
	})
	breakers.RecordFailure("bookings")
	breakers.RecordFailure("bookings")
	for i := 0; i < 3; i++ {
		breakers.RecordFailure("matching")
	}

	limiter := ratelimit.New(config.RateLimitConfig{
		Identity: config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 1},
	}, nil)
	limiter.Admit(ratelimit.TierIdentity, "user-1", "bookings")
	limiter.Admit(ratelimit.TierIdentity, "user-1", "bookings")

	store := cache.NewStore(config.CacheConfig{Enabled: true, DefaultTTL: time.Minute, MaxEntries: 64})
	store.Put(&cache.Entry{Key: "GET /v1/requests", Status: 200, Body: []byte(`[]`), StoredAt: time.Now()})
	_, hit := store.Get("GET /v1/requests")
	require.True(t, hit)
	_, hit = store.Get("GET /v1/absent")
	require.False(t, hit)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStatsCollector(breakers, limiter, store))

	assert.Equal(t, 0.0, gatherValue(t, reg, "taskmesh_gateway_breaker_state",
		map[string]string{"service": "bookings"}), "two failures leave bookings closed")
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_breaker_state",
		map[string]string{"service": "matching"}), "threshold failures open matching")
	assert.Equal(t, 2.0, gatherValue(t, reg, "taskmesh_gateway_breaker_consecutive_failures",
		map[string]string{"service": "bookings"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_breaker_state_transitions_total",
		map[string]string{"service": "matching"}))

	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_ratelimit_allowed_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_ratelimit_rejected_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_ratelimit_tracked_keys",
		map[string]string{"tier": "identity"}))

	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_cache_entries", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_cache_hits_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "taskmesh_gateway_cache_misses_total", nil))
}

func TestBreakerStateValue(t *testing.T) {
	assert.Equal(t, 0.0, breakerStateValue("closed"))
	assert.Equal(t, 1.0, breakerStateValue("open"))
	assert.Equal(t, 2.0, breakerStateValue("half-open"))
	assert.Equal(t, 0.0, breakerStateValue("anything-else"))
}
