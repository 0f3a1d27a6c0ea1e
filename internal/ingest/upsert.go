// Package ingest owns the upsert engine (component C3): writing one
// observed pipeline into the fact table and reconciling the corresponding
// daily_stats cell in the same transaction. Grounded on
// original_source/src/monitor.rs's insert_pipeline, translated from sqlx's
// query builder into hand-written pgx SQL and from SQLite's default
// isolation into Postgres SERIALIZABLE with a bounded retry, matching the
// testable property that concurrent upserts of the same pipeline id never
// double-count an aggregate cell.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"flowscan-clone/internal/models"
	"flowscan-clone/internal/store"
)

const serializationFailure = "40001"

// Engine upserts pipelines into the store, maintaining daily_stats as it
// goes.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
}

func NewEngine(s *store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// upsertPipelineSQL is the exact status-progression rule from
// monitor.rs's insert_pipeline: a finished pipeline's status never reverts
// to non-terminal because of a stale incoming read, and timestamps/fields
// only move forward.
const upsertPipelineSQL = `
INSERT INTO pipelines (id, project_id, project_name, project_full_path, ref_name, user_name, sha, status, created_at, finished_at, web_url, duration)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    status = CASE
        WHEN excluded.finished_at IS NULL AND pipelines.finished_at IS NOT NULL THEN pipelines.status
        ELSE excluded.status
    END,
    finished_at = CASE
        WHEN excluded.finished_at IS NOT NULL THEN excluded.finished_at
        ELSE pipelines.finished_at
    END,
    sha = excluded.sha,
    duration = CASE
        WHEN excluded.duration IS NOT NULL THEN excluded.duration
        ELSE pipelines.duration
    END,
    web_url = COALESCE(excluded.web_url, pipelines.web_url),
    user_name = COALESCE(excluded.user_name, pipelines.user_name)
`

const incrementDailyStatsSQL = `
INSERT INTO daily_stats (date, project_id, project_name, project_full_path, status, count, total_duration, count_with_duration)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
ON CONFLICT (date, project_id, status) DO UPDATE SET
    count = daily_stats.count + 1,
    total_duration = daily_stats.total_duration + excluded.total_duration,
    count_with_duration = daily_stats.count_with_duration + excluded.count_with_duration,
    project_name = excluded.project_name,
    project_full_path = excluded.project_full_path
`

// Upsert writes p into the fact table and reconciles daily_stats in one
// SERIALIZABLE transaction, retrying once on a Postgres serialization
// failure (the direct analogue of SQLite's implicit single-writer
// serialization in the original).
func (e *Engine) Upsert(ctx context.Context, p models.Pipeline) error {
	err := e.upsertOnce(ctx, p)
	if isSerializationFailure(err) {
		err = e.upsertOnce(ctx, p)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}

func (e *Engine) upsertOnce(ctx context.Context, p models.Pipeline) error {
	tx, err := e.store.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return &store.StoreError{Op: "upsert pipeline: begin", Err: err}
	}
	defer tx.Rollback(ctx)

	var existingStatus string
	var existingDuration *int64
	var existingCreatedAt int64
	var existingFinishedAt *int64
	err = tx.QueryRow(ctx, `SELECT status, duration, created_at, finished_at FROM pipelines WHERE id = $1`, p.ID).
		Scan(&existingStatus, &existingDuration, &existingCreatedAt, &existingFinishedAt)
	hasExisting := true
	if errors.Is(err, pgx.ErrNoRows) {
		hasExisting = false
		err = nil
	}
	if err != nil {
		return &store.StoreError{Op: "upsert pipeline: read existing", Err: err}
	}

	if _, err := tx.Exec(ctx, upsertPipelineSQL,
		p.ID, p.ProjectID, p.ProjectName, p.ProjectFullPath, p.RefName, nullIfEmpty(p.UserName), nullIfEmpty(p.SHA),
		p.Status, p.CreatedAt, p.FinishedAt, nullIfEmpty(p.WebURL), p.Duration,
	); err != nil {
		return &store.StoreError{Op: "upsert pipeline: write row", Err: err}
	}

	// Reconcile daily_stats against the row as written, not as observed: a
	// kept terminal status and a preserved duration stay in their cell.
	if hasExisting {
		if p.FinishedAt == nil && existingFinishedAt != nil {
			p.Status = existingStatus
		}
		if p.Duration == nil {
			p.Duration = existingDuration
		}
	}

	pDate := dayString(p.CreatedAt)
	newHasDur := p.Duration != nil
	newDur := int64(0)
	if newHasDur {
		newDur = *p.Duration
	}

	switch {
	case !hasExisting:
		if err := e.incrementCell(ctx, tx, pDate, p.ProjectID, p.ProjectName, p.ProjectFullPath, p.Status, newDur, newHasDur); err != nil {
			return err
		}

	case existingStatus == p.Status:
		oldHasDur := existingDuration != nil
		oldDur := int64(0)
		if oldHasDur {
			oldDur = *existingDuration
		}

		switch {
		case oldHasDur && newHasDur:
			if delta := newDur - oldDur; delta != 0 {
				if _, err := tx.Exec(ctx,
					`UPDATE daily_stats SET total_duration = total_duration + $1 WHERE date = $2 AND project_id = $3 AND status = $4`,
					delta, pDate, p.ProjectID, p.Status,
				); err != nil {
					return &store.StoreError{Op: "upsert pipeline: adjust duration", Err: err}
				}
			}
		case !oldHasDur && newHasDur:
			if _, err := tx.Exec(ctx,
				`UPDATE daily_stats SET total_duration = total_duration + $1, count_with_duration = count_with_duration + 1 WHERE date = $2 AND project_id = $3 AND status = $4`,
				newDur, pDate, p.ProjectID, p.Status,
			); err != nil {
				return &store.StoreError{Op: "upsert pipeline: add duration", Err: err}
			}
		case oldHasDur && !newHasDur:
			if _, err := tx.Exec(ctx,
				`UPDATE daily_stats SET total_duration = total_duration - $1, count_with_duration = count_with_duration - 1 WHERE date = $2 AND project_id = $3 AND status = $4`,
				oldDur, pDate, p.ProjectID, p.Status,
			); err != nil {
				return &store.StoreError{Op: "upsert pipeline: remove duration", Err: err}
			}
		}

	default:
		oldHasDur := existingDuration != nil
		oldDur := int64(0)
		if oldHasDur {
			oldDur = *existingDuration
		}
		oldDate := dayString(existingCreatedAt)
		oldCountWithDur := int64(0)
		if oldHasDur {
			oldCountWithDur = 1
		}

		if _, err := tx.Exec(ctx,
			`UPDATE daily_stats SET count = count - 1, total_duration = total_duration - $1, count_with_duration = count_with_duration - $2 WHERE date = $3 AND project_id = $4 AND status = $5`,
			oldDur, oldCountWithDur, oldDate, p.ProjectID, existingStatus,
		); err != nil {
			return &store.StoreError{Op: "upsert pipeline: decrement old status", Err: err}
		}

		if err := e.incrementCell(ctx, tx, pDate, p.ProjectID, p.ProjectName, p.ProjectFullPath, p.Status, newDur, newHasDur); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &store.StoreError{Op: "upsert pipeline: commit", Err: err}
	}
	return nil
}

func (e *Engine) incrementCell(ctx context.Context, tx pgx.Tx, date string, projectID int64, projectName, projectFullPath, status string, duration int64, hasDuration bool) error {
	countWithDur := int64(0)
	if hasDuration {
		countWithDur = 1
	}
	if _, err := tx.Exec(ctx, incrementDailyStatsSQL, date, projectID, projectName, projectFullPath, status, duration, countWithDur); err != nil {
		return &store.StoreError{Op: "upsert pipeline: increment cell", Err: err}
	}
	return nil
}

func dayString(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format("2006-01-02")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
