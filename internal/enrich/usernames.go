// Package enrich backfills the user_name column for pipelines that were
// ingested without one (component C6) — the REST fetch path in C4 carries
// no user info, so this runs as a standing background pass. Grounded on
// original_source/src/monitor.rs's backfill_usernames: GraphQL by gid
// first, REST detail fetch as fallback, 50-row chunks bounded to 10
// concurrent lookups, a 200ms pause between chunks to go easy on the
// forge.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"flowscan-clone/internal/forge"
)

const (
	batchSize      = 500
	chunkSize      = 50
	concurrency    = 10
	interChunkWait = 200 * time.Millisecond
	// standingInterval re-arms the enricher periodically so pipelines that
	// arrive later without a resolvable user (e.g. the GraphQL lookup
	// briefly failed) are retried rather than left permanently blank.
	standingInterval = 10 * time.Minute
)

type candidate struct {
	id        int64
	projectID int64
}

// Enricher fills in missing pipeline usernames.
type Enricher struct {
	pool   *pgxpool.Pool
	client *forge.Client
	log    zerolog.Logger
}

func New(pool *pgxpool.Pool, client *forge.Client, log zerolog.Logger) *Enricher {
	return &Enricher{pool: pool, client: client, log: log}
}

// RunOnce drains every pipeline currently missing a user_name, in batches,
// until none remain. Returns the number of rows updated.
func (e *Enricher) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		rows, err := e.fetchCandidates(ctx)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			e.log.Info().Msg("enrich: no pipelines with missing user_name")
			return total, nil
		}

		for i := 0; i < len(rows); i += chunkSize {
			end := i + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			total += e.processChunk(ctx, rows[i:end])

			if end < len(rows) {
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-time.After(interChunkWait):
				}
			}
		}
	}
}

// RunStanding calls RunOnce on a fixed interval until ctx is canceled, the
// background counterpart spawned once at startup alongside the initial
// backfill in the original.
func (e *Enricher) RunStanding(ctx context.Context) {
	if n, err := e.RunOnce(ctx); err != nil {
		e.log.Error().Err(err).Msg("enrich: initial username backfill failed")
	} else if n > 0 {
		e.log.Info().Int("updated", n).Msg("enrich: initial username backfill complete")
	}

	ticker := time.NewTicker(standingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.RunOnce(ctx); err != nil {
				e.log.Error().Err(err).Msg("enrich: username backfill failed")
			} else if n > 0 {
				e.log.Info().Int("updated", n).Msg("enrich: username backfill complete")
			}
		}
	}
}

func (e *Enricher) fetchCandidates(ctx context.Context) ([]candidate, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, project_id FROM pipelines
		WHERE user_name IS NULL OR user_name = ''
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("enrich: query candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.projectID); err != nil {
			return nil, fmt.Errorf("enrich: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type lookupResult struct {
	id   int64
	name string
}

func (e *Enricher) processChunk(ctx context.Context, chunk []candidate) int {
	results := make([]lookupResult, len(chunk))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, c := range chunk {
		wg.Add(1)
		go func(i int, c candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = lookupResult{id: c.id, name: e.lookupUser(ctx, c)}
		}(i, c)
	}
	wg.Wait()

	updated := 0
	for _, r := range results {
		if r.name == "" {
			continue
		}
		tag, err := e.pool.Exec(ctx,
			`UPDATE pipelines SET user_name = $1 WHERE id = $2 AND (user_name IS NULL OR user_name = '')`,
			r.name, r.id)
		if err != nil {
			e.log.Error().Err(err).Int64("pipeline_id", r.id).Msg("enrich: update failed")
			continue
		}
		if tag.RowsAffected() > 0 {
			updated++
		}
	}
	return updated
}

// lookupUser tries the GraphQL gid lookup first, falling back to the REST
// pipeline detail endpoint on error or an empty result, matching
// backfill_usernames' GraphQL-then-REST fallback chain.
func (e *Enricher) lookupUser(ctx context.Context, c candidate) string {
	gid := fmt.Sprintf("gid://gitlab/Ci::Pipeline/%d", c.id)
	name, err := e.client.FetchPipelineUserByGID(ctx, gid)
	if err == nil && name != "" {
		return name
	}
	if err != nil {
		e.log.Error().Err(err).Int64("pipeline_id", c.id).Msg("enrich: graphql lookup failed, trying rest")
	}

	name, err = e.client.FetchPipelineUserViaREST(ctx, c.projectID, c.id)
	if err != nil {
		e.log.Error().Err(err).Int64("pipeline_id", c.id).Msg("enrich: rest fallback failed")
		return ""
	}
	return name
}
