// Package store implements the Metadata Store (§4.A): the Postgres-backed
// system of record for users, sources, documents, directory fingerprints,
// and the OCR queue.
package store

import (
	"context"
	"embed"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/archivist/engine/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a connection pool to the metadata database.
type Store struct {
	pool *pgxpool.Pool
}

// Config configures the pool backing a Store.
type Config struct {
	DSN             string
	MaxOpenConns    int32
	ConnMaxLifetime time.Duration
}

// Open establishes a connection pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "parse database dsn")
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(errors.KindRemoteUnavailable, err, "open database pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(errors.KindRemoteUnavailable, err, "ping database")
	}

	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies every pending goose migration under migrations/.
func (s *Store) Migrate(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(errors.KindInternal, err, "set goose dialect")
	}

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "open migration connection")
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Wrap(errors.KindInternal, err, "apply migrations")
	}
	return nil
}
