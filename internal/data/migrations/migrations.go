package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/technosupport/ts-camviewer/internal/data"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// New opens a dedicated connection for cfg and returns a migrator over the
// embedded scripts for its dialect. Close the migrator to release it.
func New(cfg data.Config) (*migrate.Migrate, error) {
	db, err := data.Open(cfg)
	if err != nil {
		return nil, err
	}

	var (
		dir    string
		driver database.Driver
	)
	switch data.DialectFor(cfg.Driver) {
	case data.Dialect(data.DriverPostgres):
		dir = "postgres"
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		dir = "sqlite"
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate driver: %w", err)
	}

	src, err := iofs.New(files, dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dir, driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate init: %w", err)
	}
	return m, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func Up(cfg data.Config) error {
	m, err := New(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
