// Package app wires the Reel auth server runtime: config, logging, metrics,
// persistence, and the HTTP surface.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"reel/cmd/identity"
	authapi "reel/cmd/internal/auth/api"
	"reel/cmd/internal/auth/session"
	"reel/cmd/internal/media"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Closer is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Closer interface {
	Close(ctx context.Context) error
}

// nopCloser is used for in-memory store mode.
type nopCloser struct{}

func (nopCloser) Close(_ context.Context) error { return nil }

// App is the Reel server runtime: it owns HTTP server wiring and the
// dependencies behind the auth surface.
type App struct {
	cfg Config
	log Logger

	closer Closer

	dbPool    *pgxpool.Pool
	dbEnabled bool

	auth    *authapi.Handler
	metrics *Metrics
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	closer, dbPool, dbEnabled, accounts, err := newAccountStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*App, error) {
		_ = closer.Close(context.Background())
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return fail(err)
	}
	tokens, err := session.NewTokenManager(sessCfg)
	if err != nil {
		return fail(err)
	}

	svc, err := session.NewService(accounts, tokens, newUploader(cfg, log), log)
	if err != nil {
		return fail(err)
	}

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return fail(err)
	}
	auth, err := authapi.NewHandler(apiCfg, svc, log)
	if err != nil {
		return fail(err)
	}

	return &App{
		cfg:       cfg,
		log:       log,
		closer:    closer,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		auth:      auth,
		metrics:   NewMetrics(),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.metrics)

	var handler http.Handler = mux
	handler = a.metrics.WithMetrics(handler)
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.closer.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newAccountStore decides between Postgres-backed persistence and the
// in-memory dev store.
func newAccountStore(ctx context.Context, cfg Config, log Logger) (Closer, *pgxpool.Pool, bool, identity.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopCloser{}, nil, false, identity.NewMemoryStore(), nil
	}

	if cfg.MigrateOnStart {
		if err := MigrateUp(cfg.DatabaseURL); err != nil {
			return nil, nil, false, nil, err
		}
		log.Info("db.migrations.applied")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore holds the pool but never closes it
	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbCloser{pool: pool}, pool, true, accounts, nil
}

// newUploader picks the media backend. No base URL means passthrough, which
// stores raw references; acceptable only for local development.
func newUploader(cfg Config, log Logger) media.Uploader {
	if cfg.MediaBaseURL == "" {
		log.Info("media.disabled.passthrough")
		return media.Passthrough{}
	}
	log.Info("media.enabled.http", "base_url", cfg.MediaBaseURL, "folder", cfg.MediaFolder)
	return &media.HTTPClient{
		BaseURL: cfg.MediaBaseURL,
		APIKey:  cfg.MediaAPIKey,
		Folder:  cfg.MediaFolder,
	}
}

type dbCloser struct {
	pool *pgxpool.Pool
}

func (c dbCloser) Close(_ context.Context) error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}
