package app

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrationFS embeds the schema migrations shipped with the binary.
//
//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNoChange is returned by the underlying runner when the schema is already
// at the target version; MigrateUp and MigrateDown swallow it.
var ErrNoChange = migrate.ErrNoChange

// MigrateUp applies all pending migrations against dsn.
func MigrateUp(dsn string) error { return runMigrations(dsn, "up") }

// MigrateDown rolls back all migrations against dsn.
func MigrateDown(dsn string) error { return runMigrations(dsn, "down") }

func runMigrations(dsn, direction string) error {
	if dsn == "" {
		return errors.New("migrate: REEL_DATABASE_URL is not set")
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("migrate: direction must be up or down, got %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
