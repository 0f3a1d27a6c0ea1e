// Package store owns the Postgres connection pool, schema, watermark, and
// aggregate-rebuild logic (component C1). Grounded on
// original_source/src/db.rs for the exact DDL/migration/rebuild semantics,
// translated from SQLite to Postgres, and on
// Outblock-flowindex/backend/internal/repository/postgres.go for the
// pool-construction and schema-file idiom.
package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store wraps the pooled connection to the local relational store.
type Store struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// StoreError marks a transaction/constraint failure per the error-kind
// table: the caller rolls back, logs, and abandons the affected row — the
// next observation retries it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Open parses dbURL, applies pool-size overrides (env vars take precedence
// over the passed-in defaults, matching the teacher's DB_MAX_OPEN_CONNS /
// DB_MAX_IDLE_CONNS knobs), and connects.
func Open(ctx context.Context, dbURL string, maxOpen, maxIdle int, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = int32(maxOpen)
	cfg.MinConns = int32(maxIdle)
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database %s: %w", redactDatabaseURL(dbURL), err)
	}

	log.Info().Str("database", redactDatabaseURL(dbURL)).Int32("max_conns", cfg.MaxConns).Msg("store: connected")
	return &Store{Pool: pool, log: log}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// redactDatabaseURL strips userinfo from a postgres connection string before
// it is ever logged, following the teacher's main.go precedent.
func redactDatabaseURL(dbURL string) string {
	at := strings.LastIndex(dbURL, "@")
	scheme := strings.Index(dbURL, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return dbURL
	}
	return dbURL[:scheme+3] + "***" + dbURL[at:]
}
