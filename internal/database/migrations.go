package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// DefaultMigrationsPath is the directory holding the catalog schema migrations.
const DefaultMigrationsPath = "migrations"

// MigrationRunner applies the catalog schema migrations.
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner creates a runner reading migrations from a local directory.
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	if migrationsPath == "" {
		migrationsPath = DefaultMigrationsPath
	}
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}
	return &MigrationRunner{migrate: m, log: logger}, nil
}

// Up applies every pending migration. Having nothing to apply is not an error.
func (mr *MigrationRunner) Up() error {
	return mr.apply("up", mr.migrate.Up)
}

// Down rolls back the latest migration.
func (mr *MigrationRunner) Down() error {
	return mr.apply("down", func() error { return mr.migrate.Steps(-1) })
}

func (mr *MigrationRunner) apply(direction string, step func() error) error {
	mr.log.WithField("direction", direction).Info("Running catalog schema migrations")

	if err := step(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.WithField("direction", direction).Info("Catalog schema already current")
			return nil
		}
		return fmt.Errorf("running migrations %s: %w", direction, err)
	}

	version, dirty, err := mr.migrate.Version()
	if err != nil {
		mr.log.WithError(err).Warn("Could not read migration version")
		return nil
	}
	mr.log.WithFields(logrus.Fields{
		"direction": direction,
		"version":   version,
		"dirty":     dirty,
	}).Info("Catalog schema migrated")
	return nil
}

// Version returns the current migration version.
func (mr *MigrationRunner) Version() (uint, bool, error) {
	return mr.migrate.Version()
}

// Close releases the migration source and database handles.
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
