// Command backfill_daily_stats is the operator-triggered equivalent of
// POST /api/refresh_daily_stats (internal/api/handlers.go), for use from a
// deploy hook or cron when the API server isn't reachable. It connects
// directly to the store and runs the same rebuild_aggregates path C1
// exposes, matching the original source's standalone backfill binary
// grounded on Outblock-flowindex/backend/cmd/tools/backfill_daily_stats.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"flowscan-clone/internal/store"
)

func main() {
	var (
		filtered     bool
		branchFilter string
	)
	flag.BoolVar(&filtered, "filtered", false, "exclude refs not matching -branch-filter from the recompute (see spec §9 reconciliation-mode open question)")
	flag.StringVar(&branchFilter, "branch-filter", "", "regex of ref names to keep when -filtered is set")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DB_URL")
	}
	if dbURL == "" {
		log.Fatal("DATABASE_URL or DB_URL is required")
	}

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, dbURL, 5, 5, zlog)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	started := time.Now()
	if filtered {
		if branchFilter == "" {
			log.Fatal("-branch-filter is required with -filtered")
		}
		log.Printf("[backfill_daily_stats] running filtered rebuild (branch_filter=%q)", branchFilter)
		if err := st.RebuildAggregatesFiltered(ctx, branchFilter); err != nil {
			log.Fatalf("[backfill_daily_stats] filtered rebuild failed: %v", err)
		}
	} else {
		log.Printf("[backfill_daily_stats] running full rebuild")
		if err := st.RebuildAggregates(ctx); err != nil {
			log.Fatalf("[backfill_daily_stats] full rebuild failed: %v", err)
		}
	}

	log.Printf("[backfill_daily_stats] done in %s", time.Since(started).Truncate(time.Second))
}
