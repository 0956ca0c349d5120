// Package store is the single relational store: a wide ticker-metadata
// table, a long daily-bar fact table keyed by (ticker, date), and the
// append-only corporate-action ledger table.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Config is the Postgres connection configuration.
type Config struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required"`
	User     string `validate:"required"`
	Password string
	Name     string `validate:"required"`
	SSLMode  string
	MinConns int
	MaxConns int
}

// ConnString builds a Postgres connection string from cfg.
func ConnString(cfg Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect creates the pool and verifies the connection. Failure here is the
// only fatal startup condition in the whole tool.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema when missing. active is a nullable boolean:
// true = Active, false = Inactive, NULL = PendingObservation.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tickers_fundamental (
			ticker TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			active BOOLEAN,
			primary_exchange TEXT NOT NULL DEFAULT '',
			last_updated_utc TIMESTAMP NOT NULL DEFAULT now(),
			clean_passes INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stock_daily (
			ticker TEXT NOT NULL,
			ts DATE NOT NULL,
			open NUMERIC(18, 6) NOT NULL,
			high NUMERIC(18, 6) NOT NULL,
			low NUMERIC(18, 6) NOT NULL,
			close NUMERIC(18, 6) NOT NULL,
			volume BIGINT NOT NULL,
			turnover NUMERIC(18, 6) NOT NULL DEFAULT 0,
			PRIMARY KEY (ticker, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_daily_ts ON stock_daily (ts)`,
		`CREATE TABLE IF NOT EXISTS stock_splits (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			execution_date DATE NOT NULL,
			split_from NUMERIC NOT NULL,
			split_to NUMERIC NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_splits_exec ON stock_splits (execution_date)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
