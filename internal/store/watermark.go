package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetWatermark reads the single poll_state row. found is false when the
// row has not been seeded yet (Init always seeds it, but callers in tests
// may operate on a bare schema).
func (s *Store) GetWatermark(ctx context.Context) (ts int64, found bool, err error) {
	err = s.Pool.QueryRow(ctx, `SELECT last_poll_at FROM poll_state WHERE id = 1`).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &StoreError{Op: "get watermark", Err: err}
	}
	return ts, true, nil
}

// SetWatermark upserts the single poll_state row, the Go/pgx equivalent of
// original_source/src/db.rs's `INSERT ... ON CONFLICT(id) DO UPDATE`.
func (s *Store) SetWatermark(ctx context.Context, ts int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO poll_state (id, last_poll_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_poll_at = excluded.last_poll_at`, ts)
	if err != nil {
		return &StoreError{Op: "set watermark", Err: err}
	}
	return nil
}
