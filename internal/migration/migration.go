package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsDir   = "migrations"
	migrationsTable = "leaguetracker_schema_migrations"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var ErrDirtySchema = errors.New("schema_dirty")

// Result reports the schema version after RunMigrations.
type Result struct {
	Version uint
	Applied bool
}

// RunMigrations applies the embedded Postgres schema. A schema left dirty
// by an interrupted run is reported, never forced.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}
	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}
	// migrator.Close would close the shared *sql.DB.

	if _, dirty, err := migrator.Version(); err == nil && dirty {
		return Result{}, ErrDirtySchema
	}

	applied := true
	if err := migrator.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return Result{}, fmt.Errorf("apply migrations: %w", err)
		}
		applied = false
	}

	version, _, err := migrator.Version()
	if err != nil {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	return Result{Version: version, Applied: applied}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}
