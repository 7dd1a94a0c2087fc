// Package migrate applies the embedded schema migrations with golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"phone-verification-server/internal/db"
)

// ErrNoChange means the schema is already at the requested version.
var ErrNoChange = migrate.ErrNoChange

// ErrNoDSN is returned for an empty connection string.
var ErrNoDSN = errors.New("migrate: DATABASE_URL is not set")

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	src, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

func with(dsn string, fn func(*migrate.Migrate) error) error {
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	return fn(m)
}

// Run migrates "up" to the latest version or "down" by one step. Being at the target already is not an error.
func Run(dsn, direction string) error {
	var step func(*migrate.Migrate) error
	switch direction {
	case "up":
		step = (*migrate.Migrate).Up
	case "down":
		step = func(m *migrate.Migrate) error { return m.Steps(-1) }
	default:
		return fmt.Errorf("migrate: direction must be up or down, got %q", direction)
	}
	err := with(dsn, step)
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Version reports the applied version. A fresh database is version 0.
func Version(dsn string) (version uint, dirty bool, err error) {
	err = with(dsn, func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// Force records version as applied and clears the dirty flag after a failed migration was fixed by hand.
func Force(dsn string, version int) error {
	if version < 0 {
		return fmt.Errorf("migrate: force version must be >= 0, got %d", version)
	}
	return with(dsn, func(m *migrate.Migrate) error { return m.Force(version) })
}
