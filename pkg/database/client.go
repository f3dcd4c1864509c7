// Package database provides PostgreSQL pool management and migration utilities.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	stdsql "database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql, used only by the migration runner
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pgx connection pool used by every storage package.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pgx pool against cfg.DSN, runs embedded migrations through
// golang-migrate, and returns a ready Client. Pool sizing mirrors the
// teacher's SetMaxOpenConns/SetMaxIdleConns/ConnMaxLifetime knobs, expressed
// through pgxpool's native config fields since pgxpool manages its own pool
// rather than wrapping database/sql.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxOpenConns
	poolCfg.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // bounded by config.Validate
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// Close releases the underlying pool.
func (c *Client) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// runMigrations applies pending migrations using golang-migrate against the
// embedded migrations directory, following the teacher's go:embed +
// iofs-source pattern. Unlike the teacher (which reuses an open *sql.DB
// shared with an ent driver and therefore must avoid m.Close()), this
// migration runner owns a private database/sql connection opened
// exclusively for the migration run, so it closes the migrate instance
// normally once done.
func runMigrations(dsn string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "tagrover", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration db driver: %w", dbErr)
	}
	return nil
}

// hasEmbeddedMigrations checks if the embedded FS contains any .sql migration files.
func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
