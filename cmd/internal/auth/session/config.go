package session

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, and the two independent
// HS256 signing secrets. The struct is intentionally explicit and
// environment-driven so production deployments can tune security parameters
// without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of refresh tokens.
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret signs access tokens. Never reuse it for refresh tokens.
	AccessSecret string

	// RefreshSecret signs refresh tokens.
	RefreshSecret string
}

// minSecretBytes guards against trivially brute-forceable HMAC secrets.
const minSecretBytes = 32

// DefaultConfig returns a secure default configuration suitable for
// development. Secrets are not defaulted; they must come from env.
func DefaultConfig() Config {
	return Config{
		Issuer:          "reel",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - REEL_AUTH_ACCESS_SECRET  (>= 32 bytes)
//   - REEL_AUTH_REFRESH_SECRET (>= 32 bytes, distinct from access secret)
//
// Optional (durations must be valid Go duration strings):
//   - REEL_AUTH_ISSUER
//   - REEL_AUTH_ACCESS_TTL
//   - REEL_AUTH_REFRESH_TTL
//   - REEL_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("REEL_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("REEL_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("REEL_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("REEL_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = os.Getenv("REEL_AUTH_ACCESS_SECRET")
	cfg.RefreshSecret = os.Getenv("REEL_AUTH_REFRESH_SECRET")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Issuer == "" || c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if len(c.AccessSecret) < minSecretBytes || len(c.RefreshSecret) < minSecretBytes {
		return ErrConfig
	}
	// Shared secrets would let an access token masquerade as a refresh token.
	if c.AccessSecret == c.RefreshSecret {
		return ErrConfig
	}
	// An access token outliving the refresh token makes rotation pointless.
	if c.AccessTokenTTL > c.RefreshTokenTTL {
		return ErrConfig
	}
	return nil
}
