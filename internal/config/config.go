// Package config holds the gateway's process configuration: the listen
// surface, credential verification inputs, admission and breaker tuning,
// cache bounds, upstream targets, and the route table. Configuration is
// loaded once at startup and validated before the server accepts traffic;
// any invalid security-critical value aborts the process.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for a gateway instance.
type Config struct {
	Server         ServerConfig              `mapstructure:"server"`
	Auth           AuthConfig                `mapstructure:"auth"`
	RateLimit      RateLimitConfig           `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig      `mapstructure:"circuit_breaker"`
	Cache          CacheConfig               `mapstructure:"cache"`
	Upstreams      map[string]UpstreamConfig `mapstructure:"upstreams"`
	Routes         []RouteConfig             `mapstructure:"routes"`
	Logging        LoggingConfig             `mapstructure:"logging"`
	Metrics        MetricsConfig             `mapstructure:"metrics"`
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig holds credential verification inputs. Exactly one signing
// algorithm is active per deployment; the algorithm is fixed here and never
// negotiated per request.
type AuthConfig struct {
	// Algorithm selects the active verification algorithm: "RS256"
	// (asymmetric, preferred) or "HS256" (shared secret, legacy).
	Algorithm string `mapstructure:"algorithm"`

	// PublicKeyFile is a path to a PEM-encoded RSA public key (RS256).
	PublicKeyFile string `mapstructure:"public_key_file"`

	// PublicKeyPEM is an inline PEM-encoded RSA public key (RS256).
	// Used when PublicKeyFile is empty; convenient for env injection.
	PublicKeyPEM string `mapstructure:"public_key_pem"`

	// HMACSecret is the shared secret for HS256. Sensitive.
	HMACSecret string `mapstructure:"hmac_secret"`

	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`

	// MaxTokenLifetime bounds revocation retention: a revoked token id older
	// than this has necessarily expired and its record can be dropped.
	MaxTokenLifetime time.Duration `mapstructure:"max_token_lifetime"`
}

// RateLimitConfig configures the admission tiers. Each keyed tier is an
// independent fixed window; the global ceiling is a token bucket guarding
// the whole process.
type RateLimitConfig struct {
	Global    GlobalRateLimitConfig `mapstructure:"global"`
	Identity  WindowConfig          `mapstructure:"identity"`
	IP        WindowConfig          `mapstructure:"ip"`
	Write     WindowConfig          `mapstructure:"write"`
	Sensitive WindowConfig          `mapstructure:"sensitive"`
	Adaptive  AdaptiveConfig        `mapstructure:"adaptive"`
}

// WindowConfig is one fixed-window tier: at most MaxCount admissions per
// Window per key.
type WindowConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Window   time.Duration `mapstructure:"window"`
	MaxCount int           `mapstructure:"max_count"`
}

// GlobalRateLimitConfig is the per-process admission ceiling.
type GlobalRateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// AdaptiveConfig controls load shedding toward unhealthy upstreams: when the
// target's breaker is open, keyed tier limits for that traffic are scaled by
// OpenFactor.
type AdaptiveConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	OpenFactor float64 `mapstructure:"open_factor"`
}

// CircuitBreakerConfig controls per-upstream breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenProbes   int           `mapstructure:"half_open_probes"`
	MaxBreakers      int           `mapstructure:"max_breakers"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// UpstreamConfig is one logical backend target.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Route auth modes.
const (
	AuthRequired = "required"
	AuthOptional = "optional"
	AuthNone     = "none"
)

// Route tier classes. The class selects which keyed tiers admit the request
// in addition to the per-caller tier: write operations also consume the
// write tier, sensitive operations (login, registration, password reset)
// also consume the sensitive tier.
const (
	TierDefault   = "default"
	TierWrite     = "write"
	TierSensitive = "sensitive"
)

// RouteConfig maps one inbound route to an upstream, with its auth mode,
// admission class, and cacheability.
type RouteConfig struct {
	Method  string `mapstructure:"method"`
	Path    string `mapstructure:"path"`
	Service string `mapstructure:"service"`

	// Auth is "required", "optional", or "none". Routes with "none" form the
	// unauthenticated allowlist (login, registration, token refresh,
	// password reset, public reads); "optional" verifies when a credential
	// is present but downgrades silently to anonymous when absent or invalid.
	Auth string `mapstructure:"auth"`

	// Tier is "default", "write", or "sensitive".
	Tier string `mapstructure:"tier"`

	// Cacheable marks an idempotent read whose successful responses may be
	// cached. Only valid on GET and HEAD routes.
	Cacheable bool `mapstructure:"cacheable"`

	// CacheTTL overrides the cache's default TTL for this route.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// IdentityScoped marks responses that vary per caller; the cache key is
	// extended with the caller's subject so entries are never served
	// cross-caller.
	IdentityScoped bool `mapstructure:"identity_scoped"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Validate checks the configuration for values the gateway cannot safely run
// with. It returns the first problem found; the caller treats any error as
// fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if err := c.CircuitBreaker.validate(); err != nil {
		return err
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1 when the cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive when the cache is enabled")
	}

	if len(c.Upstreams) == 0 {
		return fmt.Errorf("no upstreams configured")
	}
	for name, u := range c.Upstreams {
		parsed, err := url.Parse(u.BaseURL)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("upstream %q: base_url %q is not an absolute http(s) URL", name, u.BaseURL)
		}
		if u.Timeout <= 0 {
			return fmt.Errorf("upstream %q: timeout must be positive", name)
		}
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("no routes configured")
	}
	for i, r := range c.Routes {
		if err := r.validate(c.Upstreams); err != nil {
			return fmt.Errorf("route %d (%s %s): %w", i, r.Method, r.Path, err)
		}
	}
	return nil
}

func (a AuthConfig) validate() error {
	switch a.Algorithm {
	case "RS256":
		if a.PublicKeyFile == "" && a.PublicKeyPEM == "" {
			return fmt.Errorf("auth: RS256 requires public_key_file or public_key_pem")
		}
	case "HS256":
		if len(a.HMACSecret) < MinHMACSecretLength {
			return fmt.Errorf("auth: HS256 requires hmac_secret of at least %d bytes", MinHMACSecretLength)
		}
	default:
		return fmt.Errorf("auth: algorithm %q is not supported (RS256 or HS256)", a.Algorithm)
	}
	if a.Issuer == "" {
		return fmt.Errorf("auth: issuer is required")
	}
	if a.Audience == "" {
		return fmt.Errorf("auth: audience is required")
	}
	if a.MaxTokenLifetime <= 0 {
		return fmt.Errorf("auth: max_token_lifetime must be positive")
	}
	return nil
}

func (r RateLimitConfig) validate() error {
	if r.Global.Enabled {
		if r.Global.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.global: requests_per_second must be positive")
		}
		if r.Global.Burst < 1 {
			return fmt.Errorf("rate_limit.global: burst must be at least 1")
		}
	}
	for name, w := range map[string]WindowConfig{
		"identity":  r.Identity,
		"ip":        r.IP,
		"write":     r.Write,
		"sensitive": r.Sensitive,
	} {
		if !w.Enabled {
			continue
		}
		if w.Window <= 0 {
			return fmt.Errorf("rate_limit.%s: window must be positive", name)
		}
		if w.MaxCount < 1 {
			return fmt.Errorf("rate_limit.%s: max_count must be at least 1", name)
		}
	}
	if r.Adaptive.Enabled && (r.Adaptive.OpenFactor <= 0 || r.Adaptive.OpenFactor > 1) {
		return fmt.Errorf("rate_limit.adaptive: open_factor must be in (0, 1]")
	}
	return nil
}

func (cb CircuitBreakerConfig) validate() error {
	if cb.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be at least 1")
	}
	if cb.SuccessThreshold < 1 {
		return fmt.Errorf("circuit_breaker.success_threshold must be at least 1")
	}
	if cb.ResetTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.reset_timeout must be positive")
	}
	if cb.HalfOpenProbes < 1 {
		return fmt.Errorf("circuit_breaker.half_open_probes must be at least 1")
	}
	if cb.MaxBreakers < 1 {
		return fmt.Errorf("circuit_breaker.max_breakers must be at least 1")
	}
	return nil
}

func (r RouteConfig) validate(upstreams map[string]UpstreamConfig) error {
	switch r.Method {
	case "GET", "HEAD", "POST", "PUT", "PATCH", "DELETE":
	default:
		return fmt.Errorf("method %q is not supported", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if _, ok := upstreams[r.Service]; !ok {
		return fmt.Errorf("service %q has no configured upstream", r.Service)
	}
	switch r.Auth {
	case AuthRequired, AuthOptional, AuthNone:
	default:
		return fmt.Errorf("auth mode %q is not supported", r.Auth)
	}
	switch r.Tier {
	case TierDefault, TierWrite, TierSensitive:
	default:
		return fmt.Errorf("tier %q is not supported", r.Tier)
	}
	if r.Cacheable && r.Method != "GET" && r.Method != "HEAD" {
		return fmt.Errorf("cacheable is only valid on GET and HEAD routes")
	}
	if r.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}
