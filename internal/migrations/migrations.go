// Package migrations embeds the schema for every SQL store driver and
// applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseURL converts a store DSN into the URL golang-migrate expects.
// SQLite DSNs are plain file paths.
func DatabaseURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverPostgres:
		for _, prefix := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, prefix) {
				return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
			}
		}
		return "", fmt.Errorf("postgres dsn must be a URL, got %q", dsn)
	case DriverSQLite:
		return "sqlite://" + dsn, nil
	default:
		return "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

// Up applies all pending migrations for driver.
func Up(driver, dsn string, logger *logrus.Entry) error {
	m, err := newMigrate(driver, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to run")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.WithField("version", version).Info("Migrations applied successfully")
	return nil
}

// Down rolls back every migration for driver.
func Down(driver, dsn string, logger *logrus.Entry) error {
	m, err := newMigrate(driver, dsn, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

func newMigrate(driver, dsn string, logger *logrus.Entry) (*migrate.Migrate, error) {
	dbURL, err := DatabaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	m.Log = migrateLogger{logger}
	return m, nil
}

type migrateLogger struct {
	entry *logrus.Entry
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.entry.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
