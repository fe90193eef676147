// Package authapi exposes the session lifecycle over HTTP.
//
// It is a thin shell around session.Service: request decoding, response
// shaping, cookie transport for web refresh tokens (with CSRF double-submit
// protection), and multipart staging for image uploads. No domain rules
// live here.
package authapi

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// ErrConfig is returned for invalid API configuration.
var ErrConfig = errors.New("invalid api config")

// Config controls the HTTP transport surface.
type Config struct {
	// WebRefreshCookieEnabled switches web clients to cookie-delivered
	// refresh tokens. Non-web clients always get the token in the body.
	WebRefreshCookieEnabled bool

	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// UploadDir is the staging directory for multipart image uploads;
	// MaxUploadBytes bounds a whole multipart form.
	UploadDir      string
	MaxUploadBytes int64
}

// DefaultConfig returns production-leaning defaults.
func DefaultConfig() Config {
	return Config{
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "reel_refresh",
		CSRFCookieName:          "reel_csrf",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/api/v1/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
		MaxBodyBytes:            1 << 20,  // 1 MiB
		UploadDir:               os.TempDir(),
		MaxUploadBytes:          16 << 20, // 16 MiB
	}
}

// LoadConfigFromEnv loads transport configuration.
//
// Optional:
//   - REEL_API_WEB_REFRESH_COOKIE (true/false)
//   - REEL_API_COOKIE_DOMAIN
//   - REEL_API_COOKIE_SECURE (true/false; disable only for local dev)
//   - REEL_API_MAX_BODY_BYTES
//   - REEL_API_UPLOAD_DIR
//   - REEL_API_MAX_UPLOAD_BYTES
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("REEL_API_WEB_REFRESH_COOKIE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.WebRefreshCookieEnabled = b
	}
	if v := strings.TrimSpace(os.Getenv("REEL_API_COOKIE_DOMAIN")); v != "" {
		cfg.CookieDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("REEL_API_COOKIE_SECURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CookieSecure = b
	}
	if v := strings.TrimSpace(os.Getenv("REEL_API_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("REEL_API_UPLOAD_DIR")); v != "" {
		cfg.UploadDir = v
	}
	if v := strings.TrimSpace(os.Getenv("REEL_API_MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxUploadBytes = n
	}

	return cfg, nil
}
