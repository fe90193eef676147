package app

import (
	"errors"

	"reel/cmd/security/token"
)

// ValidateSecurityConfig enforces Reel's security policy at startup.
//
// Fail-fast: silently falling back to weaker crypto in production is
// unacceptable. Enforcement validates the same module that performs the
// fingerprint hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret. Measured in bytes, not
	// runes, because the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: REEL_REQUIRE_TOKEN_HMAC=true but REEL_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: REEL_REQUIRE_TOKEN_HMAC=true but REEL_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: the hasher must actually be in HMAC mode, guarding
	// against a future change that reintroduces a SHA fallback under policy.
	if !token.HMACEnabled() {
		return errors.New("security policy: REEL_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
