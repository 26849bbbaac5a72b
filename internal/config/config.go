package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Policy is the rate-limit rule applied to requests matching Path. Path may
// be exact (`/api/search`) or a wildcard pattern (`/api/*`); the default
// policy has an empty path. Window is expressed in seconds.
type Policy struct {
	Path     string `yaml:"path" json:"path" validate:"omitempty,startswith=/"`
	Strategy string `yaml:"strategy" json:"strategy" validate:"required,oneof=token_bucket sliding_window"`
	Limit    int64  `yaml:"limit" json:"limit" validate:"gt=0"`
	Window   int64  `yaml:"window" json:"window" validate:"gt=0"`
}

// WindowDuration returns the policy window as a duration.
func (p Policy) WindowDuration() time.Duration {
	return time.Duration(p.Window) * time.Second
}

// BreakerConfig sets the circuit breaker thresholds for the store path.
type BreakerConfig struct {
	FailureThreshold int   `yaml:"failure_threshold" validate:"gt=0"`
	TimeoutSeconds   int64 `yaml:"timeout_seconds" validate:"gt=0"`
}

// TimeoutDuration returns the open-state probe interval.
func (b BreakerConfig) TimeoutDuration() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// AnalyticsConfig controls the decision log sink.
type AnalyticsConfig struct {
	Path          string `yaml:"path"`
	Buffer        int    `yaml:"buffer" validate:"gte=0"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// MaxAge returns the retention period for stored records.
func (a AnalyticsConfig) MaxAge() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// Config is the full gateway configuration: defaults, overlaid by the YAML
// file when one is given, overlaid by environment variables, then validated.
type Config struct {
	ListenAddr              string          `yaml:"listen_addr" validate:"required"`
	DownstreamURL           string          `yaml:"downstream_url" validate:"required,url"`
	RedisAddr               string          `yaml:"redis_addr"`
	RedisTimeoutMs          int64           `yaml:"redis_timeout_ms" validate:"gt=0"`
	CheckTimeoutMs          int64           `yaml:"check_timeout_ms" validate:"gt=0"`
	FailMode                string          `yaml:"fail_mode" validate:"oneof=open closed"`
	GracefulShutdownTimeout int             `yaml:"graceful_shutdown_timeout" validate:"gt=0"`
	MaxRequestBytes         int64           `yaml:"max_request_bytes" validate:"gt=0"`
	JWTSecret               string          `yaml:"jwt_secret"`
	JWTIssuer               string          `yaml:"jwt_issuer"`
	Breaker                 BreakerConfig   `yaml:"breaker"`
	Default                 Policy          `yaml:"default_policy"`
	Policies                []Policy        `yaml:"policies" validate:"dive"`
	Analytics               AnalyticsConfig `yaml:"analytics"`
}

// RedisTimeout returns the per-operation Redis timeout.
func (c Config) RedisTimeout() time.Duration {
	return time.Duration(c.RedisTimeoutMs) * time.Millisecond
}

// CheckTimeout returns the budget for a single rate-limit check.
func (c Config) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeout) * time.Second
}

// Default returns the built-in configuration: memory store, fail-open,
// 100 requests per minute per client.
func Default() Config {
	return Config{
		ListenAddr:              ":8080",
		DownstreamURL:           "http://localhost:8081",
		RedisTimeoutMs:          500,
		CheckTimeoutMs:          250,
		FailMode:                "open",
		GracefulShutdownTimeout: 15,
		MaxRequestBytes:         1 << 20,
		Breaker:                 BreakerConfig{FailureThreshold: 5, TimeoutSeconds: 60},
		Default:                 Policy{Strategy: "token_bucket", Limit: 100, Window: 60},
		Analytics: AnalyticsConfig{
			Path:          "analytics.db",
			Buffer:        1024,
			RetentionDays: 7,
			PruneSchedule: "0 3 * * *",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration. Unparsable
// numeric values are ignored, keeping the previous value.
func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DOWNSTREAM_URL"); v != "" {
		c.DownstreamURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISS"); v != "" {
		c.JWTIssuer = v
	}
	if v := os.Getenv("FAIL_MODE"); v != "" {
		c.FailMode = v
	}
	if v := os.Getenv("GRACEFUL_SHUTDOWN_TIMEOUT"); v != "" {
		if t, err := strconv.Atoi(v); err == nil {
			c.GracefulShutdownTimeout = t
		}
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Default.Limit = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Default.Window = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_STRATEGY"); v != "" {
		c.Default.Strategy = v
	}
}

// Validate checks the configuration against its struct tags plus the rules
// tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i, p := range c.Policies {
		if p.Path == "" {
			return fmt.Errorf("invalid config: policies[%d]: path is required", i)
		}
	}
	return nil
}

// ValidatePolicy checks a single policy, used for admin updates.
func ValidatePolicy(p Policy) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}
