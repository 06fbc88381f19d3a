// Package ratelimit provides admission control for the gateway pipeline.
//
// Keyed tiers (per-authenticated-identity, per-anonymous-IP, write-operation,
// sensitive-operation) use fixed-window counting: at most MaxCount admissions
// per window per key, with the window identified by floor(now/window). A
// fixed window admits up to twice the nominal rate across a window boundary
// in the worst case; that is an accepted tradeoff for O(1) memory per key
// and no ordering requirement across requests.
//
// A separate global ceiling protects the whole process with a token bucket,
// which smooths bursts better than a window at process scale while keeping
// the same admit contract.
//
// An adaptive mode consults upstream breaker health: traffic aimed at an
// upstream whose breaker is open gets its keyed limits scaled down, shedding
// load before it reaches a gate that would reject it anyway.
package ratelimit

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskmesh/gateway/internal/config"
)

// Tier identifies one independently configured admission tier.
type Tier string

const (
	TierGlobal    Tier = "global"
	TierIdentity  Tier = "identity"
	TierIP        Tier = "ip"
	TierWrite     Tier = "write"
	TierSensitive Tier = "sensitive"
)

// Decision is the outcome of one admission check. RetryAfter is the time
// remaining until the current window rolls over, set only on rejection; it
// never exceeds the tier's window duration.
type Decision struct {
	Allowed    bool
	Tier       Tier
	Limit      int
	RetryAfter time.Duration
}

// HealthSource reports whether an upstream's breaker is currently open.
// Implemented by the circuit breaker registry; consulted on read with no
// side effects.
type HealthSource interface {
	IsOpen(service string) bool
}

// Limiter enforces the configured admission tiers. All keyed state is
// per-key linearizable: two concurrent requests against the same key can
// never both be admitted on the same remaining slot.
type Limiter struct {
	global *rate.Limiter
	cfg    config.RateLimitConfig

	tiers map[Tier]*tierLimiter

	health HealthSource

	allowed  atomic.Int64
	rejected atomic.Int64

	logger *slog.Logger
}

// New builds a Limiter from configuration. health may be nil; adaptive
// shedding then stays inert regardless of configuration.
func New(cfg config.RateLimitConfig, health HealthSource) *Limiter {
	l := &Limiter{
		cfg:    cfg,
		health: health,
		tiers:  make(map[Tier]*tierLimiter, 4),
		logger: slog.Default().With("component", "ratelimit"),
	}

	if cfg.Global.Enabled {
		l.global = rate.NewLimiter(rate.Limit(cfg.Global.RequestsPerSecond), cfg.Global.Burst)
	}

	for tier, wc := range map[Tier]config.WindowConfig{
		TierIdentity:  cfg.Identity,
		TierIP:        cfg.IP,
		TierWrite:     cfg.Write,
		TierSensitive: cfg.Sensitive,
	} {
		if wc.Enabled {
			l.tiers[tier] = newTierLimiter(tier, wc.Window, wc.MaxCount)
		}
	}
	return l
}

// AdmitGlobal consumes the process-wide ceiling. The retry hint on rejection
// is computed from a canceled reservation so failed requests never leak
// bucket capacity.
func (l *Limiter) AdmitGlobal() Decision {
	if l.global == nil {
		return Decision{Allowed: true, Tier: TierGlobal}
	}
	if l.global.Allow() {
		l.allowed.Add(1)
		return Decision{Allowed: true, Tier: TierGlobal}
	}

	reservation := l.global.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	l.rejected.Add(1)
	return Decision{
		Tier:       TierGlobal,
		Limit:      int(l.cfg.Global.RequestsPerSecond),
		RetryAfter: delay,
	}
}

// Admit checks one keyed tier for the given identity. The request increments
// the counter for the current window; if the pre-increment count already
// equals the tier's limit, the request is rejected and not counted. service
// names the dispatch target so adaptive shedding can tighten the effective
// limit while that upstream's breaker is open.
//
// A disabled tier admits everything.
func (l *Limiter) Admit(tier Tier, identity, service string) Decision {
	tl, ok := l.tiers[tier]
	if !ok {
		return Decision{Allowed: true, Tier: tier}
	}

	limit := tl.maxCount
	if l.cfg.Adaptive.Enabled && l.health != nil && l.health.IsOpen(service) {
		limit = scaledLimit(limit, l.cfg.Adaptive.OpenFactor)
	}

	allowed, retryAfter := tl.tryAcquire(identity, limit)
	if allowed {
		l.allowed.Add(1)
		return Decision{Allowed: true, Tier: tier, Limit: limit}
	}

	l.rejected.Add(1)
	l.logger.Debug("admission rejected",
		"tier", string(tier), "limit", limit, "retry_after", retryAfter)
	return Decision{Tier: tier, Limit: limit, RetryAfter: retryAfter}
}

// scaledLimit tightens a tier limit by the adaptive factor, never below one
// so recovery probes can still originate from real traffic.
func scaledLimit(limit int, factor float64) int {
	scaled := int(float64(limit) * factor)
	if scaled < 1 {
		return 1
	}
	return scaled
}

// Stats reports limiter activity for the administrative surface.
type Stats struct {
	Allowed    int64        `json:"allowed"`
	Rejected   int64        `json:"rejected"`
	ActiveKeys map[Tier]int `json:"activeKeys"`
}

// GetStats returns a point-in-time view of limiter activity.
func (l *Limiter) GetStats() Stats {
	s := Stats{
		Allowed:    l.allowed.Load(),
		Rejected:   l.rejected.Load(),
		ActiveKeys: make(map[Tier]int, len(l.tiers)),
	}
	for tier, tl := range l.tiers {
		s.ActiveKeys[tier] = tl.keyCount()
	}
	return s
}
