package store

import (
	"context"
	"fmt"
	"time"
)

// schemaSQL is the idempotent DDL for the three logical tables plus the
// indices required on the fact table. Translated from the SQLite DDL in
// original_source/src/db.rs: INTEGER PRIMARY KEY -> BIGINT PRIMARY KEY,
// date(ts,'unixepoch') -> to_timestamp(ts)::date used at query time instead
// of a stored generated column, so the DDL itself stays a direct structural
// translation.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipelines (
    id BIGINT PRIMARY KEY,
    project_id BIGINT NOT NULL,
    project_name TEXT NOT NULL,
    project_full_path TEXT NOT NULL,
    ref_name TEXT NOT NULL,
    user_name TEXT,
    sha TEXT,
    status TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    finished_at BIGINT,
    duration BIGINT,
    web_url TEXT
);
CREATE TABLE IF NOT EXISTS poll_state (
    id INTEGER PRIMARY KEY,
    last_poll_at BIGINT NOT NULL,
    CONSTRAINT poll_state_single_row CHECK (id = 1)
);
CREATE TABLE IF NOT EXISTS daily_stats (
    date TEXT NOT NULL,
    project_id BIGINT NOT NULL,
    project_name TEXT NOT NULL,
    project_full_path TEXT NOT NULL,
    status TEXT NOT NULL,
    count BIGINT NOT NULL DEFAULT 0,
    total_duration BIGINT NOT NULL DEFAULT 0,
    count_with_duration BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (date, project_id, status)
);
CREATE INDEX IF NOT EXISTS idx_query ON pipelines(project_name, status, created_at);
CREATE INDEX IF NOT EXISTS idx_status_created ON pipelines(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_project_created ON pipelines(project_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_watermark ON pipelines(finished_at);
`

// Init creates tables/indices idempotently, applies the forward-only
// count_with_duration migration, and seeds the watermark row if empty —
// the Go/Postgres equivalent of original_source/src/db.rs init_db.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return &StoreError{Op: "init schema", Err: err}
	}

	if err := s.migrateCountWithDuration(ctx); err != nil {
		return err
	}
	if err := s.migrateProjectFullPath(ctx); err != nil {
		return err
	}

	_, found, err := s.GetWatermark(ctx)
	if err != nil {
		return err
	}
	if !found {
		if err := s.SetWatermark(ctx, time.Now().Unix()); err != nil {
			return fmt.Errorf("seed watermark: %w", err)
		}
	}

	return nil
}

// migrateCountWithDuration adds daily_stats.count_with_duration when an
// older database predates it, mirroring db.rs's pragma_table_info check
// with Postgres's information_schema equivalent.
func (s *Store) migrateCountWithDuration(ctx context.Context) error {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'daily_stats' AND column_name = 'count_with_duration'
		)`).Scan(&exists)
	if err != nil {
		return &StoreError{Op: "check count_with_duration column", Err: err}
	}
	if exists {
		return nil
	}

	if _, err := s.Pool.Exec(ctx, `ALTER TABLE daily_stats ADD COLUMN count_with_duration BIGINT NOT NULL DEFAULT 0`); err != nil {
		return &StoreError{Op: "add count_with_duration column", Err: err}
	}
	s.log.Info().Msg("store: migrated daily_stats, added count_with_duration")
	return nil
}

// migrateProjectFullPath adds daily_stats.project_full_path when an older
// database predates it, backfilling existing rows from the fact table so
// the query API's project_full_path filter can reach the aggregate path
// for databases that already have history.
func (s *Store) migrateProjectFullPath(ctx context.Context) error {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'daily_stats' AND column_name = 'project_full_path'
		)`).Scan(&exists)
	if err != nil {
		return &StoreError{Op: "check project_full_path column", Err: err}
	}
	if exists {
		return nil
	}

	if _, err := s.Pool.Exec(ctx, `ALTER TABLE daily_stats ADD COLUMN project_full_path TEXT NOT NULL DEFAULT ''`); err != nil {
		return &StoreError{Op: "add project_full_path column", Err: err}
	}
	if _, err := s.Pool.Exec(ctx, `
		UPDATE daily_stats ds SET project_full_path = p.project_full_path
		FROM (SELECT DISTINCT project_id, project_full_path FROM pipelines) p
		WHERE p.project_id = ds.project_id AND ds.project_full_path = ''`); err != nil {
		return &StoreError{Op: "backfill project_full_path", Err: err}
	}
	s.log.Info().Msg("store: migrated daily_stats, added project_full_path")
	return nil
}
