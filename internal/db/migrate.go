package db

import (
	"embed"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Francklinok/EasyRent-sub004/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite://"+db.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return m, nil
}

// Migrate applies all pending schema migrations from the embedded FS. It
// uses its own connection, closed before returning.
func (db *DB) Migrate(logger *slog.Logger) error {
	m, err := db.newMigrate()
	if err != nil {
		return errors.Wrap(errors.ErrMigration, "prepare migrations", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(errors.ErrMigration, "apply migrations", err)
	}

	version, dirty, _ := m.Version()
	if logger != nil {
		logger.Info("database migrated",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	}
	return nil
}

// SchemaVersion returns the applied schema version, 0 when none.
func (db *DB) SchemaVersion() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
