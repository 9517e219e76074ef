package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// ErrSchemaBehind is returned when auto-migration is off and the database
// has not reached the newest embedded version.
var ErrSchemaBehind = errors.New("database schema is behind embedded migrations")

// Source returns the embedded migrations as a golang-migrate source driver.
func Source() (source.Driver, error) {
	d, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return d, nil
}

// LatestVersion walks the embedded source to its last migration.
func LatestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no embedded migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to walk migrations after %d: %w", v, err)
		}
		v = next
	}
}

// RunMigrations brings meters and meter_readings up to the newest embedded
// version. With autoMigrate off nothing is applied, but a database that is
// behind is reported as ErrSchemaBehind so startup fails before the adapter
// prepares statements against missing columns.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	src, err := Source()
	if err != nil {
		return err
	}
	latest, err := LatestVersion(src)
	if err != nil {
		return err
	}

	m, err := newMigrator(db, src)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	if dirty {
		slog.Warn("[Migrations] Dirty migration state, forcing recorded version",
			"version", version)
		// Every statement is IF [NOT] EXISTS, so re-running Up after a force is safe.
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to recover dirty migration state at version %d: %w", version, err)
		}
	}

	if !autoMigrate {
		if version < latest {
			return fmt.Errorf("%w: at %d, want %d", ErrSchemaBehind, version, latest)
		}
		slog.Info("[Migrations] Auto-migration disabled, schema is current", "version", version)
		return nil
	}

	slog.Info("[Migrations] Applying migrations", "from_version", version, "to_version", latest)
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Schema up to date", "version", version)
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("[Migrations] Migrations applied", "version", latest)
	return nil
}

func newMigrator(db *sql.DB, src source.Driver) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
