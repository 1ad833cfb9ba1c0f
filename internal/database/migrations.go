package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable keeps StoryLens' schema version apart from anything else
// sharing the database.
const migrationsTable = "storylens_schema_migrations"

// RunMigrations brings the stories schema up to date and returns the
// version it ends at.
func RunMigrations(db *gorm.DB, logger *slog.Logger) (uint, error) {
	if db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Get underlying sql.DB for migrate library
	sqlDB, err := db.DB()
	if err != nil {
		return 0, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Migrations ship inside the binary
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create migration source driver: %w", err)
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return 0, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// A dirty version means an earlier run died halfway; refuse to guess
	if version, dirty, err := m.Version(); err == nil && dirty {
		return version, fmt.Errorf("stories schema is dirty at version %d, fix it manually before starting", version)
	}

	upToDate := false
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return 0, fmt.Errorf("failed to run migrations: %w", err)
		}
		upToDate = true
	}

	version, _, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if upToDate {
		logger.Info("Stories schema already up to date", "version", version)
	} else {
		logger.Info("Stories schema migrated", "version", version)
	}
	return version, nil
}
