package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: rate_limit.identity.max_count
// becomes TASKMESH_RATE_LIMIT_IDENTITY_MAX_COUNT.
const EnvPrefix = "TASKMESH"

// Load reads configuration from the given file path, layered with TASKMESH_*
// environment overrides on top of the built-in defaults, and validates the
// result. When path is empty, Load searches the working directory and
// ./config for a gateway.yaml. A missing file is tolerated only if the
// environment supplies a complete configuration; validation decides.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must exist; the search path is optional.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)
	v.SetDefault("server.idle_timeout", DefaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)

	v.SetDefault("auth.algorithm", "RS256")
	v.SetDefault("auth.max_token_lifetime", DefaultMaxTokenLifetime)

	v.SetDefault("rate_limit.global.enabled", true)
	v.SetDefault("rate_limit.global.requests_per_second", DefaultGlobalRPS)
	v.SetDefault("rate_limit.global.burst", DefaultGlobalBurst)
	v.SetDefault("rate_limit.identity.enabled", true)
	v.SetDefault("rate_limit.identity.window", DefaultIdentityWindow)
	v.SetDefault("rate_limit.identity.max_count", DefaultIdentityMax)
	v.SetDefault("rate_limit.ip.enabled", true)
	v.SetDefault("rate_limit.ip.window", DefaultIPWindow)
	v.SetDefault("rate_limit.ip.max_count", DefaultIPMax)
	v.SetDefault("rate_limit.write.enabled", true)
	v.SetDefault("rate_limit.write.window", DefaultWriteWindow)
	v.SetDefault("rate_limit.write.max_count", DefaultWriteMax)
	v.SetDefault("rate_limit.sensitive.enabled", true)
	v.SetDefault("rate_limit.sensitive.window", DefaultSensitiveWindow)
	v.SetDefault("rate_limit.sensitive.max_count", DefaultSensitiveMax)
	v.SetDefault("rate_limit.adaptive.enabled", true)
	v.SetDefault("rate_limit.adaptive.open_factor", DefaultAdaptiveFactor)

	v.SetDefault("circuit_breaker.failure_threshold", DefaultFailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", DefaultSuccessThreshold)
	v.SetDefault("circuit_breaker.reset_timeout", DefaultResetTimeout)
	v.SetDefault("circuit_breaker.half_open_probes", DefaultHalfOpenProbes)
	v.SetDefault("circuit_breaker.max_breakers", DefaultMaxBreakers)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.default_ttl", DefaultCacheTTL)
	v.SetDefault("cache.max_entries", DefaultCacheMaxEntries)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
