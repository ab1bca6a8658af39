package tokengate

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Populate it once, pass it to the
// Builder, and treat it as immutable afterwards; Build copies it.
type Config struct {
	JWT           JWTConfig
	Storage       StorageConfig
	RateLimit     RateLimitConfig
	Verification  VerificationConfig
	PasswordReset PasswordResetConfig
	Password      PasswordConfig
	Audit         AuditConfig
}

// JWTConfig carries key material and token lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// StorageConfig controls the Redis keyspace shared by the token store, the
// challenge store, and the rate limiter.
type StorageConfig struct {
	RedisPrefix string
	// Retention is how long expired records stay readable before the TTL
	// backstop removes them. The cleanup sweep normally gets there first.
	Retention time.Duration
}

// Limit is one fixed-window rate limit. Max <= 0 disables the limit.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig names the guarded operations.
type RateLimitConfig struct {
	Login        Limit
	Refresh      Limit
	ResetRequest Limit
}

// VerificationConfig controls the emailed one-time codes.
type VerificationConfig struct {
	Digits          int
	TTL             time.Duration
	MaxAttempts     int
	ResendCooldown  time.Duration
	MaxResends      int
	LockoutDuration time.Duration
}

// PasswordResetConfig controls the emailed reset links.
type PasswordResetConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// LinkBaseURL is the prefix for generated links; uid and token segments
	// are appended. Example: https://example.com/auth/reset-password
	LinkBaseURL string
}

// PasswordConfig is the password policy and hashing cost.
type PasswordConfig struct {
	MinLength  int
	BcryptCost int
}

// AuditConfig controls the asynchronous security event stream.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Storage: StorageConfig{
			RedisPrefix: "tg",
			Retention:   24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:        Limit{Max: 10, Window: time.Minute},
			Refresh:      Limit{Max: 30, Window: time.Minute},
			ResetRequest: Limit{Max: 3, Window: time.Hour},
		},
		Verification: VerificationConfig{
			Digits:          6,
			TTL:             5 * time.Minute,
			MaxAttempts:     5,
			ResendCooldown:  time.Minute,
			MaxResends:      3,
			LockoutDuration: 20 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TTL:         15 * time.Minute,
			MaxAttempts: 5,
		},
		Password: PasswordConfig{
			MinLength:  8,
			BcryptCost: 12,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// mergeConfig fills zero values in cfg from the defaults so callers only
// set what they care about.
func mergeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.JWT.AccessTTL <= 0 {
		cfg.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if cfg.JWT.RefreshTTL <= 0 {
		cfg.JWT.RefreshTTL = def.JWT.RefreshTTL
	}
	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = def.JWT.SigningMethod
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = def.Storage.RedisPrefix
	}
	if cfg.Storage.Retention <= 0 {
		cfg.Storage.Retention = def.Storage.Retention
	}
	if cfg.RateLimit.Login.Window <= 0 {
		cfg.RateLimit.Login = def.RateLimit.Login
	}
	if cfg.RateLimit.Refresh.Window <= 0 {
		cfg.RateLimit.Refresh = def.RateLimit.Refresh
	}
	if cfg.RateLimit.ResetRequest.Window <= 0 {
		cfg.RateLimit.ResetRequest = def.RateLimit.ResetRequest
	}
	if cfg.Verification.Digits == 0 {
		cfg.Verification.Digits = def.Verification.Digits
	}
	if cfg.Verification.TTL <= 0 {
		cfg.Verification.TTL = def.Verification.TTL
	}
	if cfg.Verification.MaxAttempts <= 0 {
		cfg.Verification.MaxAttempts = def.Verification.MaxAttempts
	}
	if cfg.Verification.ResendCooldown <= 0 {
		cfg.Verification.ResendCooldown = def.Verification.ResendCooldown
	}
	if cfg.Verification.MaxResends <= 0 {
		cfg.Verification.MaxResends = def.Verification.MaxResends
	}
	if cfg.Verification.LockoutDuration <= 0 {
		cfg.Verification.LockoutDuration = def.Verification.LockoutDuration
	}
	if cfg.PasswordReset.TTL <= 0 {
		cfg.PasswordReset.TTL = def.PasswordReset.TTL
	}
	if cfg.PasswordReset.MaxAttempts <= 0 {
		cfg.PasswordReset.MaxAttempts = def.PasswordReset.MaxAttempts
	}
	if cfg.Password.MinLength <= 0 {
		cfg.Password.MinLength = def.Password.MinLength
	}
	if cfg.Password.BcryptCost <= 0 {
		cfg.Password.BcryptCost = def.Password.BcryptCost
	}
	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}

	return cfg
}

func validateConfig(cfg Config) error {
	switch cfg.JWT.SigningMethod {
	case "ed25519", "hs256":
	default:
		return errors.New("jwt signing method must be ed25519 or hs256")
	}
	if len(cfg.JWT.PrivateKey) == 0 {
		return errors.New("jwt private key is required")
	}
	if cfg.JWT.SigningMethod == "ed25519" && len(cfg.JWT.PublicKey) == 0 {
		return errors.New("jwt public key is required for ed25519")
	}
	if cfg.JWT.AccessTTL >= cfg.JWT.RefreshTTL {
		return errors.New("access ttl must be shorter than refresh ttl")
	}
	if cfg.Verification.Digits < 4 || cfg.Verification.Digits > 10 {
		return errors.New("verification code digits out of range")
	}
	return nil
}
