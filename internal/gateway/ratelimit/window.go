package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	windowShardCount = 16
	hashMultiplier   = 31

	// Counter state packs the window index and the in-window count into one
	// word so increment-and-compare is a single CAS. 24 bits of count caps a
	// window at ~16.7M admissions, far above any configured tier limit.
	countBits = 24
	countMask = (1 << countBits) - 1

	// Shards are swept of elapsed-window counters when they grow past this
	// size. Sweeping is amortized over inserts; there is no background
	// goroutine, and an elapsed counter reads as absent either way.
	shardSweepThreshold = 1024
)

// windowCounter is the admission state for one (tier, identity) key: the
// current window index and the count within it, packed into one atomic word.
// A counter whose stored window has elapsed is logically absent; the next
// acquisition rolls it over in place.
type windowCounter struct {
	state atomic.Int64
}

func pack(windowIdx int64, count int64) int64 {
	return windowIdx<<countBits | count
}

func unpack(state int64) (windowIdx, count int64) {
	return state >> countBits, state & countMask
}

// tryAcquire attempts to take one admission slot in the given window. It
// returns false when the pre-increment count already equals limit. The CAS
// loop makes the increment-and-compare linearizable per key: concurrent
// callers racing on the last slot serialize on the swap, and the loser
// re-reads a count that already includes the winner.
func (c *windowCounter) tryAcquire(windowIdx int64, limit int) bool {
	for {
		state := c.state.Load()
		curWin, count := unpack(state)

		if curWin != windowIdx {
			// The stored window elapsed (or, after a clock step back, is in
			// the future); either way this request starts the new window.
			if c.state.CompareAndSwap(state, pack(windowIdx, 1)) {
				return true
			}
			continue
		}
		if count >= int64(limit) || count >= countMask {
			return false
		}
		if c.state.CompareAndSwap(state, pack(windowIdx, count+1)) {
			return true
		}
	}
}

// windowIdxOf returns the counter's current window index.
func (c *windowCounter) windowIdxOf() int64 {
	idx, _ := unpack(c.state.Load())
	return idx
}

// tierLimiter holds the keyed counters for one tier, sharded so unrelated
// identities never contend.
type tierLimiter struct {
	tier     Tier
	window   time.Duration
	maxCount int

	shards [windowShardCount]*windowShardMap
}

type windowShardMap struct {
	mu       sync.RWMutex
	counters map[string]*windowCounter
}

func newTierLimiter(tier Tier, window time.Duration, maxCount int) *tierLimiter {
	tl := &tierLimiter{tier: tier, window: window, maxCount: maxCount}
	for i := range tl.shards {
		tl.shards[i] = &windowShardMap{counters: make(map[string]*windowCounter)}
	}
	return tl
}

// tryAcquire admits or rejects one request for the identity against the
// effective limit. On rejection the retry-after is the time remaining in the
// current window, by construction in (0, window].
func (tl *tierLimiter) tryAcquire(identity string, limit int) (bool, time.Duration) {
	now := time.Now()
	windowIdx := now.UnixNano() / int64(tl.window)

	counter := tl.getOrCreate(identity, windowIdx)
	if counter.tryAcquire(windowIdx, limit) {
		return true, 0
	}

	windowEnd := time.Unix(0, (windowIdx+1)*int64(tl.window))
	retryAfter := windowEnd.Sub(now)
	if retryAfter > tl.window {
		retryAfter = tl.window
	}
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return false, retryAfter
}

// getOrCreate returns the identity's counter, creating it on first use.
// Double-checked locking keeps the common path on the read lock.
func (tl *tierLimiter) getOrCreate(identity string, currentIdx int64) *windowCounter {
	shard := tl.shardFor(identity)

	shard.mu.RLock()
	counter, ok := shard.counters[identity]
	shard.mu.RUnlock()
	if ok {
		return counter
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if counter, ok = shard.counters[identity]; ok {
		return counter
	}

	if len(shard.counters) >= shardSweepThreshold {
		shard.sweep(currentIdx)
	}

	counter = &windowCounter{}
	shard.counters[identity] = counter
	return counter
}

func (tl *tierLimiter) shardFor(identity string) *windowShardMap {
	var hash uint32
	for i := 0; i < len(identity); i++ {
		hash = hash*hashMultiplier + uint32(identity[i])
	}
	return tl.shards[hash%windowShardCount]
}

func (tl *tierLimiter) keyCount() int {
	n := 0
	for _, shard := range tl.shards {
		shard.mu.RLock()
		n += len(shard.counters)
		shard.mu.RUnlock()
	}
	return n
}

// sweep drops counters whose window has elapsed. Caller holds the write
// lock. Counters in the current window stay: they hold live admission state.
func (s *windowShardMap) sweep(currentIdx int64) {
	for identity, counter := range s.counters {
		if counter.windowIdxOf() < currentIdx {
			delete(s.counters, identity)
		}
	}
}
