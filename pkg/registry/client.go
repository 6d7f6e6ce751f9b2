// Package registry is the transactional store shared by every other core
// component: agents, pipeline runs and stage runs, PR review state, and the
// delivery-id dedup index.
package registry

import (
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"context"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver with database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection and pool settings for the Registry's backing store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Registry wraps a pooled database/sql connection. The other files in this
// package (agents.go, pipelines.go, ...) add typed operations as methods on *Registry.
type Registry struct {
	db *stdsql.DB
}

// DB exposes the underlying pool for health checks.
func (r *Registry) DB() *stdsql.DB { return r.db }

// Open connects to the backing store, applies pending migrations, and
// returns a ready Registry.
func Open(ctx context.Context, cfg Config) (*Registry, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging registry database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying registry migrations: %w", err)
	}

	return &Registry{db: db}, nil
}

// FromDB wraps an already-open database connection (used by tests against a
// disposable database).
func FromDB(db *stdsql.DB) *Registry {
	return &Registry{db: db}
}

// Close releases the underlying connection pool.
func (r *Registry) Close() error {
	return r.db.Close()
}

// RunMigrationsForTest exposes runMigrations to other packages' integration
// tests that open their own disposable connection via FromDB.
func RunMigrationsForTest(db *stdsql.DB, databaseName string) error {
	return runMigrations(db, databaseName)
}

func runMigrations(db *stdsql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found in the registry binary")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	// Do not call m.Close() — it would also close db via postgres.WithInstance,
	// and the pool is owned by the caller for the life of the process.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
