package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		windowIdx int64
		count     int64
	}{
		{0, 0},
		{1, 1},
		{487_000, 42}, // a realistic hour index for nanosecond clocks
		{1 << 30, countMask - 1},
	}
	for _, tt := range tests {
		state := pack(tt.windowIdx, tt.count)
		idx, count := unpack(state)
		assert.Equal(t, tt.windowIdx, idx)
		assert.Equal(t, tt.count, count)
	}
}

func TestWindowCounter_AcquireUpToLimit(t *testing.T) {
	var c windowCounter

	for i := 0; i < 3; i++ {
		require.True(t, c.tryAcquire(100, 3), "slot %d is within the limit", i+1)
	}
	assert.False(t, c.tryAcquire(100, 3), "the window is exhausted")
	assert.False(t, c.tryAcquire(100, 3), "rejection does not consume state")

	assert.True(t, c.tryAcquire(101, 3), "the next window starts fresh")
	_, count := unpack(c.state.Load())
	assert.Equal(t, int64(1), count, "rollover discards the old count")
}

// TestWindowCounter_ConcurrentExactBound drives one counter from many
// goroutines within a single fixed window; the admitted total must equal the
// limit exactly, never one more.
func TestWindowCounter_ConcurrentExactBound(t *testing.T) {
	var c windowCounter
	const (
		limit      = 10
		goroutines = 32
		attempts   = 8
	)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < attempts; j++ {
				if c.tryAcquire(7, limit) {
					admitted.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestTierLimiter_RetryAfterIsBoundedByWindow(t *testing.T) {
	tl := newTierLimiter(TierIP, time.Second, 1)

	allowed, retryAfter := tl.tryAcquire("ip:203.0.113.7", 1)
	require.True(t, allowed)
	assert.Zero(t, retryAfter)

	allowed, retryAfter = tl.tryAcquire("ip:203.0.113.7", 1)
	require.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Second)
}

func TestTierLimiter_GetOrCreateReusesCounters(t *testing.T) {
	tl := newTierLimiter(TierIdentity, time.Hour, 5)

	first := tl.getOrCreate("user-42", 1)
	second := tl.getOrCreate("user-42", 1)
	assert.Same(t, first, second)
	assert.Equal(t, 1, tl.keyCount())

	tl.getOrCreate("user-7", 1)
	assert.Equal(t, 2, tl.keyCount())
}

func TestTierLimiter_ConcurrentGetOrCreateSharesOneCounter(t *testing.T) {
	tl := newTierLimiter(TierIdentity, time.Hour, 5)

	const goroutines = 32
	counters := make([]*windowCounter, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			counters[i] = tl.getOrCreate("user-42", 1)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, counters[0], counters[i])
	}
	assert.Equal(t, 1, tl.keyCount())
}

// TestWindowShardMap_SweepDropsElapsedCounters pins the retention rule:
// counters whose stored window predates the current one are garbage, counters
// in the current window hold live admission state.
func TestWindowShardMap_SweepDropsElapsedCounters(t *testing.T) {
	shard := &windowShardMap{counters: make(map[string]*windowCounter)}

	const currentIdx = 500
	for i, idx := range []int64{100, 499, currentIdx} {
		c := &windowCounter{}
		c.state.Store(pack(idx, 3))
		shard.counters[fmt.Sprintf("user-%d", i)] = c
	}

	shard.sweep(currentIdx)

	assert.Len(t, shard.counters, 1)
	_, ok := shard.counters["user-2"]
	assert.True(t, ok, "the live counter survives the sweep")
}
