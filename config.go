package credlife

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/credlife/password"
	"github.com/MrEthical07/credlife/token"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override; key material is never read from YAML.
type Config struct {
	Token         token.Config        `yaml:"token"`
	Session       SessionConfig       `yaml:"session"`
	Password      PasswordConfig      `yaml:"password"`
	PasswordReset PasswordResetConfig `yaml:"password_reset"`
	Audit         AuditConfig         `yaml:"audit"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Account       AccountConfig       `yaml:"account"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session and refresh token storage.
type SessionConfig struct {
	// RedisPrefix namespaces every Redis key the engine writes.
	RedisPrefix string `yaml:"redis_prefix"`
	// TokenRetention keeps revoked refresh tokens past expiry so replays are
	// still recognized as reuse.
	TokenRetention time.Duration `yaml:"token_retention"`
	// RevokeOnReuse ends the whole session when a consumed refresh token is
	// replayed. When false, reuse is reported and audited but the session's
	// current token stays valid.
	RevokeOnReuse bool `yaml:"revoke_on_reuse"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds hashing cost, policy and hashing concurrency.
type PasswordConfig struct {
	Argon2     password.Config `yaml:"argon2"`
	MinLength  int             `yaml:"min_length"`
	MaxLength  int             `yaml:"max_length"`
	MinClasses int             `yaml:"min_classes"`
	// PoolSize bounds concurrent hash and verify calls.
	PoolSize     int64         `yaml:"pool_size"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

type PasswordResetConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BufferSize  int           `yaml:"buffer_size"`
	DropIfFull  bool          `yaml:"drop_if_full"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the built-in limiter. A limiter passed to
// Builder.WithLimiter replaces it.
type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxLoginFailures int           `yaml:"max_login_failures"`
	LoginWindow      time.Duration `yaml:"login_window"`
	MaxResetRequests int           `yaml:"max_reset_requests"`
	ResetWindow      time.Duration `yaml:"reset_window"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

type AccountConfig struct {
	// RequireVerifiedEmail makes an unverified email a gate rejection.
	RequireVerifiedEmail bool `yaml:"require_verified_email"`
}

// DefaultConfig returns production defaults. Signing keys and the refresh
// lookup secret must still be provided.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: token.MethodEd25519,
			Issuer:        "credlife",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:    "cl",
			TokenRetention: 7 * 24 * time.Hour,
			RevokeOnReuse:  true,
		},
		Password: PasswordConfig{
			Argon2:       password.DefaultConfig(),
			MinLength:    12,
			MaxLength:    1024,
			MinClasses:   1,
			PoolSize:     8,
			QueueTimeout: 2 * time.Second,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			TTL:         15 * time.Minute,
			MaxAttempts: 5,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: false,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			MaxLoginFailures: 10,
			LoginWindow:      15 * time.Minute,
			MaxResetRequests: 3,
			ResetWindow:      time.Hour,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Durations are strings
// such as "15m".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the engine owns. Key
// material is checked by token.NewIssuer during Build.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token.AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token.RefreshTTL must exceed Token.AccessTTL")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session.RedisPrefix must not be empty")
	}
	if c.Session.TokenRetention < 0 {
		return errors.New("Session.TokenRetention must be >= 0")
	}
	if err := c.Password.Argon2.Validate(); err != nil {
		return err
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password.MaxLength must be >= Password.MinLength")
	}
	if c.Password.MinClasses < 0 || c.Password.MinClasses > 4 {
		return errors.New("Password.MinClasses must be within [0, 4]")
	}
	if c.Password.PoolSize <= 0 {
		return errors.New("Password.PoolSize must be > 0")
	}
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TTL <= 0 || c.PasswordReset.TTL > 24*time.Hour {
			return errors.New("PasswordReset.TTL must be within (0, 24h]")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset.MaxAttempts must be > 0")
		}
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginFailures < 0 || c.RateLimit.MaxResetRequests < 0 {
			return errors.New("RateLimit budgets must be >= 0")
		}
		if c.RateLimit.MaxLoginFailures > 0 && c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit.LoginWindow must be > 0")
		}
		if c.RateLimit.MaxResetRequests > 0 && c.RateLimit.ResetWindow <= 0 {
			return errors.New("RateLimit.ResetWindow must be > 0")
		}
	}
	return nil
}
