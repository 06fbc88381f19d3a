package config

import (
	"time"
)

// Server constants.
const (
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Auth constants.
const (
	DefaultMaxTokenLifetime = 24 * time.Hour
	MinHMACSecretLength     = 32
)

// Circuit breaker constants.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenProbes   = DefaultSuccessThreshold
	DefaultMaxBreakers      = 1000 // Safety valve against unbounded service-name cardinality.
)

// Rate limiting constants.
const (
	DefaultGlobalRPS       = 250
	DefaultGlobalBurst     = 50
	DefaultIdentityWindow  = time.Minute
	DefaultIdentityMax     = 60
	DefaultIPWindow        = time.Minute
	DefaultIPMax           = 30
	DefaultWriteWindow     = time.Minute
	DefaultWriteMax        = 20
	DefaultSensitiveWindow = 15 * time.Minute
	DefaultSensitiveMax    = 10
	DefaultAdaptiveFactor  = 0.25
)

// Cache constants.
const (
	DefaultCacheTTL        = 30 * time.Second
	DefaultCacheMaxEntries = 1024
)

// Upstream constants.
const DefaultUpstreamTimeout = 10 * time.Second

// DefaultConfig returns the ambient defaults for a gateway instance.
// Upstreams and routes are deployment-specific and intentionally empty; a
// config without them fails validation, which is the correct startup
// behavior for a gateway with nothing to forward to.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Auth: AuthConfig{
			Algorithm:        "RS256",
			MaxTokenLifetime: DefaultMaxTokenLifetime,
		},
		RateLimit: RateLimitConfig{
			Global: GlobalRateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: DefaultGlobalRPS,
				Burst:             DefaultGlobalBurst,
			},
			Identity:  WindowConfig{Enabled: true, Window: DefaultIdentityWindow, MaxCount: DefaultIdentityMax},
			IP:        WindowConfig{Enabled: true, Window: DefaultIPWindow, MaxCount: DefaultIPMax},
			Write:     WindowConfig{Enabled: true, Window: DefaultWriteWindow, MaxCount: DefaultWriteMax},
			Sensitive: WindowConfig{Enabled: true, Window: DefaultSensitiveWindow, MaxCount: DefaultSensitiveMax},
			Adaptive: AdaptiveConfig{
				Enabled:    true,
				OpenFactor: DefaultAdaptiveFactor,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			ResetTimeout:     DefaultResetTimeout,
			HalfOpenProbes:   DefaultHalfOpenProbes,
			MaxBreakers:      DefaultMaxBreakers,
		},
		Cache: CacheConfig{
			Enabled:    true,
			DefaultTTL: DefaultCacheTTL,
			MaxEntries: DefaultCacheMaxEntries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
