package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskmesh/gateway/internal/config"
	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
)

const (
	shardCount     = 16
	hashMultiplier = 31
)

// UpstreamHealth is the externally visible state of one breaker, served by
// the administrative surface.
type UpstreamHealth struct {
	Service             string     `json:"service"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	HalfOpenSuccesses   int        `json:"halfOpenSuccesses"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	NextRetryAt         *time.Time `json:"nextRetryAt,omitempty"`
	RequestsAllowed     int64      `json:"requestsAllowed"`
	RequestsRejected    int64      `json:"requestsRejected"`
	StateTransitions    int64      `json:"stateTransitions"`
}

// Registry holds one breaker per upstream service name. Breakers are created
// lazily on first use and persist for the process lifetime; state for one
// service never influences another. The map is sharded so lookups for
// unrelated services do not contend.
type Registry struct {
	shards [shardCount]struct {
		sync.RWMutex
		breakers map[string]*breaker
	}
	total atomic.Int64

	cfg config.CircuitBreakerConfig
}

// NewRegistry builds an empty registry with the given breaker tuning.
func NewRegistry(cfg config.CircuitBreakerConfig) *Registry {
	r := &Registry{cfg: cfg}
	for i := range r.shards {
		r.shards[i].breakers = make(map[string]*breaker)
	}
	return r
}

func (r *Registry) shardFor(service string) int {
	var hash uint32
	for i := 0; i < len(service); i++ {
		hash = hash*hashMultiplier + uint32(service[i])
	}
	return int(hash % uint32(shardCount))
}

func (r *Registry) get(service string) (*breaker, bool) {
	shard := &r.shards[r.shardFor(service)]
	shard.RLock()
	b, ok := shard.breakers[service]
	shard.RUnlock()
	return b, ok
}

// getOrCreate returns the breaker for a service, creating it on first use.
// Double-checked locking keeps the fast path on the read lock.
func (r *Registry) getOrCreate(service string) (*breaker, error) {
	if b, ok := r.get(service); ok {
		return b, nil
	}

	shard := &r.shards[r.shardFor(service)]
	shard.Lock()
	defer shard.Unlock()

	if b, ok := shard.breakers[service]; ok {
		return b, nil
	}
	if max := r.cfg.MaxBreakers; max > 0 && int(r.total.Load()) >= max {
		return nil, gwerrors.New(gwerrors.KindInternal, gwerrors.CodeInternal,
			fmt.Sprintf("circuit breaker limit reached (%d), cannot track service %s", max, service))
	}

	b := newBreaker(service, r.cfg.FailureThreshold, r.cfg.SuccessThreshold,
		r.cfg.ResetTimeout, r.cfg.HalfOpenProbes)
	shard.breakers[service] = b
	r.total.Add(1)
	return b, nil
}

// IsAvailable reports whether the service's breaker currently admits
// requests, applying the lazy OPEN to HALF_OPEN transition as a side effect
// of the check. When unavailable, the returned duration is the retry hint
// derived from the breaker's next retry time. A service with no recorded
// history is available.
func (r *Registry) IsAvailable(service string) (bool, time.Duration) {
	b, ok := r.get(service)
	if !ok {
		return true, 0
	}
	return b.available()
}

// IsOpen is the side-effect-free consult used by adaptive load shedding.
func (r *Registry) IsOpen(service string) bool {
	b, ok := r.get(service)
	return ok && b.isOpen()
}

// RecordSuccess applies a successful dispatch outcome for the service.
func (r *Registry) RecordSuccess(service string) {
	if b, ok := r.get(service); ok {
		b.recordSuccess()
	}
}

// RecordFailure applies a failed dispatch outcome for the service, creating
// the breaker on first use so early failures are never lost.
func (r *Registry) RecordFailure(service string) {
	b, err := r.getOrCreate(service)
	if err != nil {
		return
	}
	b.recordFailure()
}

// Snapshot returns the health of one service's breaker.
func (r *Registry) Snapshot(service string) (UpstreamHealth, bool) {
	b, ok := r.get(service)
	if !ok {
		return UpstreamHealth{}, false
	}
	return b.snapshot(), true
}

// SnapshotAll returns the health of every tracked breaker, ordered by
// service name for stable admin output.
func (r *Registry) SnapshotAll() []UpstreamHealth {
	var out []UpstreamHealth
	for i := range r.shards {
		shard := &r.shards[i]
		shard.RLock()
		for _, b := range shard.breakers {
			out = append(out, b.snapshot())
		}
		shard.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Reset forces a service's breaker back to closed. Operator action via the
// administrative surface.
func (r *Registry) Reset(service string) bool {
	b, ok := r.get(service)
	if !ok {
		return false
	}
	b.transitionTo(StateClosed)
	return true
}

// Len returns the number of tracked breakers.
func (r *Registry) Len() int {
	return int(r.total.Load())
}
