package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var fs embed.FS

// Migrate runs all pending migrations against the database file
func Migrate(dbPath string) error {
	db, err := writerConnection(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return migrateUp(db)
}

// Rollback reverts the most recent migration
func Rollback(dbPath string) error {
	db, err := writerConnection(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}

	log.Info("Rolled back one migration")
	return nil
}

func migrateUp(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		log.WithFields(log.Fields{
			"version": version,
			"dirty":   dirty,
		}).Debug("Database schema is up to date")
	}

	return nil
}

// newMigrator shares the caller's connection pool. The migrator is never
// closed since that would close the pool as well.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(fs, "migrations")
	if err != nil {
		return nil, err
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("error creating migrate driver: %w", err)
	}

	return migrate.NewWithInstance("iofs", source, "sqlite", driver)
}
