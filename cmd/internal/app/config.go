package app

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime configuration loaded from environment variables
// and an optional .env file.
type Config struct {
	HTTPAddr  string `mapstructure:"REEL_HTTP_ADDR"`
	LogLevel  string `mapstructure:"REEL_LOG_LEVEL"`
	LogFormat string `mapstructure:"REEL_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"REEL_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"REEL_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"REEL_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"REEL_HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"REEL_HTTP_MAX_HEADER_BYTES"`

	DatabaseURL string `mapstructure:"REEL_DATABASE_URL"`
	DBSchema    string `mapstructure:"REEL_DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"REEL_DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"REEL_DB_MIN_CONNS"`

	// MigrateOnStart applies pending migrations before the server accepts
	// traffic. Leave false when a deploy pipeline owns the schema.
	MigrateOnStart bool `mapstructure:"REEL_MIGRATE_ON_START"`

	// Media upload backend. Empty base URL selects the passthrough uploader,
	// which only makes sense in local development.
	MediaBaseURL string `mapstructure:"REEL_MEDIA_BASE_URL"`
	MediaAPIKey  string `mapstructure:"REEL_MEDIA_API_KEY"`
	MediaFolder  string `mapstructure:"REEL_MEDIA_FOLDER"`

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"REEL_READINESS_REQUIRE_DB"`

	// Security policy:
	// If true, REEL_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token
	// fingerprinting must be HMAC-based.
	RequireTokenHMAC bool `mapstructure:"REEL_REQUIRE_TOKEN_HMAC"`

	// CORSOrigins is the raw comma-separated origin list; CORSAllowedOrigins
	// is the split form the middleware consumes.
	CORSOrigins          string   `mapstructure:"REEL_CORS_ALLOWED_ORIGINS"`
	CORSAllowedOrigins   []string `mapstructure:"-"`
	CORSAllowCredentials bool     `mapstructure:"REEL_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"REEL_CORS_MAX_AGE_SECONDS"`
}

// LoadConfig reads .env (if present), then builds Config from the environment
// via Viper. Missing .env is ignored; env vars override .env.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("REEL_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("REEL_LOG_LEVEL", "info")
	v.SetDefault("REEL_LOG_FORMAT", "json")

	v.SetDefault("REEL_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("REEL_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("REEL_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("REEL_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("REEL_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("REEL_DATABASE_URL", "")
	v.SetDefault("REEL_DB_SCHEMA", "reel")
	v.SetDefault("REEL_DB_MAX_CONNS", 10)
	v.SetDefault("REEL_DB_MIN_CONNS", 0)
	v.SetDefault("REEL_MIGRATE_ON_START", false)

	v.SetDefault("REEL_MEDIA_BASE_URL", "")
	v.SetDefault("REEL_MEDIA_API_KEY", "")
	v.SetDefault("REEL_MEDIA_FOLDER", "reel")

	v.SetDefault("REEL_READINESS_REQUIRE_DB", false)
	v.SetDefault("REEL_REQUIRE_TOKEN_HMAC", false)

	v.SetDefault("REEL_CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("REEL_CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("REEL_CORS_MAX_AGE_SECONDS", 600)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, errors.New("config: REEL_HTTP_ADDR must be set")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "json", "pretty":
	default:
		return Config{}, errors.New("config: REEL_LOG_FORMAT must be json or pretty")
	}
	if cfg.DBMinConns < 0 {
		cfg.DBMinConns = 0
	}

	cfg.CORSAllowedOrigins = splitOrigins(cfg.CORSOrigins)

	return cfg, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.TrimRight(p, "/"))
		}
	}
	return out
}
