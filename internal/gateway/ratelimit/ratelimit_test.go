package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/gateway/internal/config"
)

// testRLConfig uses hour-long windows so tests never straddle a rollover
// unless they arrange one deliberately.
func testRLConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Identity:  config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 5},
		IP:        config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 3},
		Write:     config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 4},
		Sensitive: config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 2},
	}
}

type fakeHealth struct {
	open map[string]bool
}

func (f *fakeHealth) IsOpen(service string) bool { return f.open[service] }

// alignToWindowStart sleeps until shortly after the next boundary of the
// given window so the admissions that follow cannot straddle one.
func alignToWindowStart(w time.Duration) {
	now := time.Now().UnixNano()
	next := (now/int64(w) + 1) * int64(w)
	time.Sleep(time.Duration(next-now) + 5*time.Millisecond)
}

func TestLimiter_KeyedTierEnforcesLimit(t *testing.T) {
	l := New(testRLConfig(), nil)

	for i := 0; i < 5; i++ {
		decision := l.Admit(TierIdentity, "user-42", "bookings")
		require.True(t, decision.Allowed, "admission %d is within the limit", i+1)
	}

	decision := l.Admit(TierIdentity, "user-42", "bookings")
	assert.False(t, decision.Allowed)
	assert.Equal(t, TierIdentity, decision.Tier)
	assert.Equal(t, 5, decision.Limit)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Hour)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(testRLConfig(), nil)

	for i := 0; i < 5; i++ {
		l.Admit(TierIdentity, "user-greedy", "bookings")
	}
	require.False(t, l.Admit(TierIdentity, "user-greedy", "bookings").Allowed)

	decision := l.Admit(TierIdentity, "user-quiet", "bookings")
	assert.True(t, decision.Allowed, "one caller's exhaustion never throttles another")
}

func TestLimiter_TiersAreIndependent(t *testing.T) {
	l := New(testRLConfig(), nil)

	for i := 0; i < 2; i++ {
		require.True(t, l.Admit(TierSensitive, "user-42", "identity").Allowed)
	}
	require.False(t, l.Admit(TierSensitive, "user-42", "identity").Allowed)

	decision := l.Admit(TierIdentity, "user-42", "identity")
	assert.True(t, decision.Allowed, "sensitive exhaustion leaves the per-caller tier untouched")
}

func TestLimiter_DisabledTierAdmitsEverything(t *testing.T) {
	cfg := testRLConfig()
	cfg.Write.Enabled = false
	l := New(cfg, nil)

	for i := 0; i < 100; i++ {
		decision := l.Admit(TierWrite, "user-42", "bookings")
		require.True(t, decision.Allowed)
	}
}

func TestLimiter_WindowRolloverAdmitsAgain(t *testing.T) {
	const window = 100 * time.Millisecond
	cfg := config.RateLimitConfig{
		Identity: config.WindowConfig{Enabled: true, Window: window, MaxCount: 2},
	}
	l := New(cfg, nil)

	alignToWindowStart(window)
	require.True(t, l.Admit(TierIdentity, "user-42", "bookings").Allowed)
	require.True(t, l.Admit(TierIdentity, "user-42", "bookings").Allowed)

	rejected := l.Admit(TierIdentity, "user-42", "bookings")
	require.False(t, rejected.Allowed)
	assert.LessOrEqual(t, rejected.RetryAfter, window)

	time.Sleep(window + 20*time.Millisecond)
	decision := l.Admit(TierIdentity, "user-42", "bookings")
	assert.True(t, decision.Allowed, "the new window carries no debt from the old one")
}

func TestLimiter_ConcurrentAdmissionsNeverOverAdmit(t *testing.T) {
	cfg := config.RateLimitConfig{
		Identity: config.WindowConfig{Enabled: true, Window: time.Hour, MaxCount: 10},
	}
	l := New(cfg, nil)

	const goroutines = 50
	var allowed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 4; j++ {
				if l.Admit(TierIdentity, "user-42", "bookings").Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(10), allowed.Load(), "contending requests must serialize on the last slot")
}

func TestLimiter_AdaptiveSheddingTightensOpenTraffic(t *testing.T) {
	cfg := testRLConfig()
	cfg.Identity.MaxCount = 10
	cfg.Adaptive = config.AdaptiveConfig{Enabled: true, OpenFactor: 0.2}
	health := &fakeHealth{open: map[string]bool{"bookings": true}}
	l := New(cfg, health)

	require.True(t, l.Admit(TierIdentity, "user-42", "bookings").Allowed)
	require.True(t, l.Admit(TierIdentity, "user-42", "bookings").Allowed)

	decision := l.Admit(TierIdentity, "user-42", "bookings")
	assert.False(t, decision.Allowed, "traffic toward an open upstream is shed early")
	assert.Equal(t, 2, decision.Limit)

	decision = l.Admit(TierIdentity, "user-42", "reviews")
	assert.True(t, decision.Allowed, "the same caller keeps full headroom toward healthy upstreams")
	assert.Equal(t, 10, decision.Limit)
}

func TestLimiter_AdaptiveDisabledIgnoresHealth(t *testing.T) {
	cfg := testRLConfig()
	health := &fakeHealth{open: map[string]bool{"bookings": true}}
	l := New(cfg, health)

	for i := 0; i < 5; i++ {
		decision := l.Admit(TierIdentity, "user-42", "bookings")
		require.True(t, decision.Allowed)
		assert.Equal(t, 5, decision.Limit)
	}
}

func TestLimiter_NilHealthSourceKeepsAdaptiveInert(t *testing.T) {
	cfg := testRLConfig()
	cfg.Adaptive = config.AdaptiveConfig{Enabled: true, OpenFactor: 0.2}
	l := New(cfg, nil)

	for i := 0; i < 5; i++ {
		require.True(t, l.Admit(TierIdentity, "user-42", "bookings").Allowed)
	}
}

func TestScaledLimit(t *testing.T) {
	tests := []struct {
		limit  int
		factor float64
		want   int
	}{
		{10, 0.2, 2},
		{100, 0.25, 25},
		{10, 0.0, 1},
		{1, 0.5, 1},
		{3, 0.9, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d*%.2f", tt.limit, tt.factor), func(t *testing.T) {
			assert.Equal(t, tt.want, scaledLimit(tt.limit, tt.factor))
		})
	}
}

func TestLimiter_GlobalCeiling(t *testing.T) {
	cfg := config.RateLimitConfig{
		Global: config.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 5, Burst: 3},
	}
	l := New(cfg, nil)

	for i := 0; i < 3; i++ {
		decision := l.AdmitGlobal()
		require.True(t, decision.Allowed, "burst admission %d", i+1)
	}

	decision := l.AdmitGlobal()
	require.False(t, decision.Allowed)
	assert.Equal(t, TierGlobal, decision.Tier)
	assert.Equal(t, 5, decision.Limit)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Second)

	// The rejection's retry hint came from a canceled reservation, so the
	// bucket refills on schedule: one token every 200ms at 5 rps.
	time.Sleep(300 * time.Millisecond)
	assert.True(t, l.AdmitGlobal().Allowed)
}

func TestLimiter_GlobalDisabledAdmitsEverything(t *testing.T) {
	l := New(config.RateLimitConfig{}, nil)
	for i := 0; i < 100; i++ {
		require.True(t, l.AdmitGlobal().Allowed)
	}
}

func TestLimiter_GetStats(t *testing.T) {
	l := New(testRLConfig(), nil)

	l.Admit(TierIdentity, "user-42", "bookings")
	l.Admit(TierIdentity, "user-42", "bookings")
	l.Admit(TierSensitive, "user-42", "identity")
	l.Admit(TierSensitive, "user-42", "identity")
	rejected := l.Admit(TierSensitive, "user-42", "identity")
	require.False(t, rejected.Allowed)

	stats := l.GetStats()
	assert.Equal(t, int64(4), stats.Allowed)
	assert.Equal(t, int64(1), stats.Rejected)
	assert.Equal(t, 1, stats.ActiveKeys[TierIdentity])
	assert.Equal(t, 1, stats.ActiveKeys[TierSensitive])
	assert.Equal(t, 0, stats.ActiveKeys[TierIP])
	assert.Equal(t, 0, stats.ActiveKeys[TierWrite])
}
