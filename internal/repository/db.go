package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns          = 20
	defaultMinConns          = 2
	defaultHealthCheckPeriod = 30 * time.Second
)

// PoolOption adjusts the pgxpool config before the pool is opened.
type PoolOption func(*pgxpool.Config)

// WithPoolSize bounds the pool. Zero keeps the default for that bound.
func WithPoolSize(maxConns, minConns int32) PoolOption {
	return func(c *pgxpool.Config) {
		if maxConns > 0 {
			c.MaxConns = maxConns
		}
		if minConns > 0 {
			c.MinConns = min(minConns, c.MaxConns)
		}
	}
}

// NewPool opens and pings a pool for the billing database. The webhook path
// holds one connection per in-flight delivery for the length of its
// transaction, so MaxConns caps concurrent reconciliations.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = defaultMaxConns
	config.MinConns = defaultMinConns
	config.HealthCheckPeriod = defaultHealthCheckPeriod
	for _, opt := range opts {
		opt(config)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("open billing pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping billing database: %w", err)
	}

	slog.Info("billing database connected",
		"host", config.ConnConfig.Host, "database", config.ConnConfig.Database,
		"max_conns", config.MaxConns, "min_conns", config.MinConns)
	return pool, nil
}

// RunMigrations applies the embedded billing schema. migrationsFS must hold
// the .sql files at dir.
func RunMigrations(databaseURL string, migrationsFS fs.FS, dir string) error {
	d, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("billing schema migrated", "version", version, "dirty", dirty)
	return nil
}
