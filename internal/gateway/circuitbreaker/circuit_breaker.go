// Package circuitbreaker tracks per-upstream health and gates forwarding.
// Each logical backend service gets an independent three-state breaker:
// CLOSED forwards normally, OPEN rejects immediately without an upstream
// call, and HALF_OPEN admits a bounded number of probes to test recovery.
// The OPEN to HALF_OPEN transition is time-triggered but applied lazily on
// the next availability check; there are no timers and no background
// goroutines. All state is atomics with CAS loops so concurrent requests
// against the same service never observe torn transitions.
package circuitbreaker

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// State is the current mode of a single breaker.
type State int32

const (
	// StateClosed forwards requests normally.
	StateClosed State = iota
	// StateOpen rejects requests without attempting the upstream call.
	StateOpen
	// StateHalfOpen admits a bounded number of probe requests.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// admitResult is the outcome of a breaker admission check. When the request
// is admitted in half-open state, release must be called once the request
// completes to return the probe slot.
type admitResult struct {
	allowed    bool
	retryAfter time.Duration // set when rejected
	isProbe    bool
	release    func()
}

// breakerMetrics tracks per-breaker admission counters.
type breakerMetrics struct {
	stateTransitions atomic.Int64
	requestsAllowed  atomic.Int64
	requestsRejected atomic.Int64
	probeAttempts    atomic.Int64
	probeSuccesses   atomic.Int64
}

// breaker is the state machine for one upstream service.
//
// failures counts consecutive failures while closed; successes counts probe
// successes while half-open. nextRetryAt is set whenever the breaker opens
// and refreshed by failures recorded while open, so the retry hint surfaced
// to callers always reflects the most recent failure evidence.
type breaker struct {
	service string

	state       atomic.Int32
	failures    atomic.Int32
	successes   atomic.Int32
	probes      atomic.Int32 // in-flight half-open probe slots
	nextRetryAt atomic.Int64 // unix nanos; 0 when unset
	lastFailure atomic.Int64 // unix nanos; 0 when never
	lastSuccess atomic.Int64 // unix nanos; 0 when never

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration
	maxProbes        int

	metrics breakerMetrics
}

func newBreaker(service string, failureThreshold, successThreshold int, resetTimeout time.Duration, maxProbes int) *breaker {
	b := &breaker{
		service:          service,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		resetTimeout:     resetTimeout,
		maxProbes:        maxProbes,
	}
	b.state.Store(int32(StateClosed))
	return b
}

// admit decides whether a request may proceed, applying the lazy
// OPEN to HALF_OPEN transition when the reset timeout has elapsed.
func (b *breaker) admit() admitResult {
	state := State(b.state.Load())

	switch state {
	case StateClosed:
		b.metrics.requestsAllowed.Add(1)
		return admitResult{allowed: true, release: func() {}}

	case StateOpen, StateHalfOpen:
		if state == StateOpen {
			retryAt := b.nextRetryAt.Load()
			if now := time.Now().UnixNano(); now < retryAt {
				b.metrics.requestsRejected.Add(1)
				return admitResult{retryAfter: time.Duration(retryAt - now), release: func() {}}
			}
			b.transitionTo(StateHalfOpen)
		}
		return b.admitProbe()

	default:
		b.metrics.requestsRejected.Add(1)
		return admitResult{retryAfter: b.resetTimeout, release: func() {}}
	}
}

// admitProbe allocates a half-open probe slot. Surplus requests inside the
// probe window are rejected as if the breaker were still open.
func (b *breaker) admitProbe() admitResult {
	for {
		current := b.probes.Load()
		if int(current) >= b.maxProbes {
			b.metrics.requestsRejected.Add(1)
			return admitResult{retryAfter: time.Second, release: func() {}}
		}
		if b.probes.CompareAndSwap(current, current+1) {
			release := func() {
				// Saturate at zero: a concurrent transition may already
				// have reset the counter.
				for {
					cur := b.probes.Load()
					if cur == 0 || b.probes.CompareAndSwap(cur, cur-1) {
						return
					}
				}
			}
			b.metrics.probeAttempts.Add(1)
			b.metrics.requestsAllowed.Add(1)
			return admitResult{allowed: true, isProbe: true, release: release}
		}
	}
}

// available reports admission without consuming a probe slot, applying the
// lazy transition. The retry-after is non-zero only when unavailable.
func (b *breaker) available() (bool, time.Duration) {
	switch State(b.state.Load()) {
	case StateClosed:
		return true, 0
	case StateHalfOpen:
		if int(b.probes.Load()) < b.maxProbes {
			return true, 0
		}
		return false, time.Second
	case StateOpen:
		retryAt := b.nextRetryAt.Load()
		if now := time.Now().UnixNano(); now < retryAt {
			return false, time.Duration(retryAt - now)
		}
		b.transitionTo(StateHalfOpen)
		return true, 0
	default:
		return false, b.resetTimeout
	}
}

// isOpen is the side-effect-free consult used by adaptive load shedding: it
// reports whether the gate would reject right now, without performing the
// lazy transition itself.
func (b *breaker) isOpen() bool {
	if State(b.state.Load()) != StateOpen {
		return false
	}
	return time.Now().UnixNano() < b.nextRetryAt.Load()
}

// recordSuccess applies a successful outcome. While closed it walks the
// consecutive-failure count back toward zero one success at a time, so an
// intermittently flaky upstream cannot clear its history on a single lucky
// call. While half-open it counts toward the close threshold.
func (b *breaker) recordSuccess() {
	b.lastSuccess.Store(time.Now().UnixNano())

	for {
		state := State(b.state.Load())
		switch state {
		case StateClosed:
			for {
				cur := b.failures.Load()
				if cur == 0 || b.failures.CompareAndSwap(cur, cur-1) {
					return
				}
			}

		case StateHalfOpen:
			successes := b.successes.Add(1)
			b.metrics.probeSuccesses.Add(1)
			if int(successes) >= b.successThreshold {
				if b.state.CompareAndSwap(int32(state), int32(StateClosed)) {
					b.failures.Store(0)
					b.successes.Store(0)
					b.probes.Store(0)
					b.nextRetryAt.Store(0)
					b.metrics.stateTransitions.Add(1)
					slog.Info("circuit breaker state transition",
						"service", b.service,
						"from", StateHalfOpen.String(),
						"to", StateClosed.String())
					return
				}
				b.successes.Add(-1)
				continue
			}
			return

		case StateOpen:
			// A straggling in-flight request finished after another opened
			// the breaker. The outcome is stale; the open countdown stands.
			return
		}
	}
}

// recordFailure applies a failed outcome. While closed it counts toward the
// open threshold; while half-open it reopens immediately; while open it
// refreshes the retry countdown.
func (b *breaker) recordFailure() {
	now := time.Now()
	b.lastFailure.Store(now.UnixNano())

	for {
		state := State(b.state.Load())
		switch state {
		case StateClosed:
			failures := b.failures.Add(1)
			if int(failures) >= b.failureThreshold {
				b.nextRetryAt.Store(now.Add(b.resetTimeout).UnixNano())
				if b.state.CompareAndSwap(int32(state), int32(StateOpen)) {
					b.failures.Store(0)
					b.successes.Store(0)
					b.probes.Store(0)
					b.metrics.stateTransitions.Add(1)
					slog.Info("circuit breaker state transition",
						"service", b.service,
						"from", StateClosed.String(),
						"to", StateOpen.String(),
						"consecutive_failures", failures)
					return
				}
				continue
			}
			return

		case StateHalfOpen:
			b.nextRetryAt.Store(now.Add(b.resetTimeout).UnixNano())
			if b.state.CompareAndSwap(int32(state), int32(StateOpen)) {
				b.failures.Store(0)
				b.successes.Store(0)
				b.probes.Store(0)
				b.metrics.stateTransitions.Add(1)
				slog.Info("circuit breaker state transition",
					"service", b.service,
					"from", StateHalfOpen.String(),
					"to", StateOpen.String())
				return
			}
			continue

		case StateOpen:
			b.nextRetryAt.Store(now.Add(b.resetTimeout).UnixNano())
			return
		}
	}
}

// transitionTo forces a state change, resetting the per-state counters.
func (b *breaker) transitionTo(newState State) {
	oldState := State(b.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}

	b.failures.Store(0)
	b.successes.Store(0)
	b.probes.Store(0)
	if newState == StateClosed {
		b.nextRetryAt.Store(0)
	}

	b.metrics.stateTransitions.Add(1)
	slog.Info("circuit breaker state transition",
		"service", b.service,
		"from", oldState.String(),
		"to", newState.String())
}

// snapshot captures the breaker's externally visible health.
func (b *breaker) snapshot() UpstreamHealth {
	h := UpstreamHealth{
		Service:             b.service,
		State:               State(b.state.Load()).String(),
		ConsecutiveFailures: int(b.failures.Load()),
		HalfOpenSuccesses:   int(b.successes.Load()),
		RequestsAllowed:     b.metrics.requestsAllowed.Load(),
		RequestsRejected:    b.metrics.requestsRejected.Load(),
		StateTransitions:    b.metrics.stateTransitions.Load(),
	}
	if ns := b.lastFailure.Load(); ns > 0 {
		t := time.Unix(0, ns)
		h.LastFailureAt = &t
	}
	if ns := b.lastSuccess.Load(); ns > 0 {
		t := time.Unix(0, ns)
		h.LastSuccessAt = &t
	}
	if ns := b.nextRetryAt.Load(); ns > 0 {
		t := time.Unix(0, ns)
		h.NextRetryAt = &t
	}
	return h
}

// retryAfterSeconds converts a retry-after duration into the whole seconds
// surfaced in error envelopes, rounding up with a floor of one second.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
