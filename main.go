// Command flowscan-clone runs the pipeline-activity monitor: it connects to
// the local store, applies schema/migrations, backfills history on an empty
// store, then starts the steady-state monitor loop, the username enricher,
// and the query API server side by side until a shutdown signal arrives.
// Grounded on Outblock-flowindex/backend/main.go's overall shape (config ->
// repository connect+migrate -> background workers in a WaitGroup -> API
// server -> signal-driven shutdown), re-wired end to end for this system's
// components (C1-C7) instead of the teacher's blockchain ingesters.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flowscan-clone/internal/api"
	"flowscan-clone/internal/backfill"
	"flowscan-clone/internal/config"
	"flowscan-clone/internal/enrich"
	"flowscan-clone/internal/forge"
	"flowscan-clone/internal/ingest"
	"flowscan-clone/internal/monitor"
	"flowscan-clone/internal/store"
)

// BuildCommit is set at build time via -ldflags, matching the teacher's own
// version-stamping convention.
var BuildCommit = "dev"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog := newLogger(cfg.Log.Level)
	zlog.Info().Str("build", BuildCommit).Msg("starting flowscan-clone")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var branchFilter *regexp.Regexp
	if cfg.GitLab.BranchFilterRegex != "" {
		branchFilter, err = regexp.Compile(cfg.GitLab.BranchFilterRegex)
		if err != nil {
			log.Fatalf("config: gitlab.branch_filter_regex: %v", err)
		}
	}

	// 1. Store: connect, create schema, apply forward-only migrations.
	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, zlog)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		log.Fatalf("store: init: %v", err)
	}

	// 2. Forge client, upsert engine, monitored-project cache: shared by
	// backfill, monitor loop, enricher and the read API alike.
	client := forge.NewClient(forge.Config{
		BaseURL:           cfg.GitLab.URL,
		Token:             cfg.GitLab.Token,
		TimeoutSeconds:    cfg.GitLab.TimeoutSeconds,
		SkipInvalidCerts:  cfg.GitLab.SkipInvalidCerts,
		RequestsPerSecond: 10,
	})
	engine := ingest.NewEngine(st, zlog)
	monitored := api.NewMonitoredProjects()

	// 3. Cold-start backfill: only when the fact table is empty, per §3
	// ("bulk rebuild runs only at startup when the fact table is empty").
	coordinator := backfill.NewCoordinator(client, engine, zlog)
	empty, err := st.PipelineCount(ctx)
	if err != nil {
		log.Fatalf("store: pipeline count: %v", err)
	}
	if empty == 0 {
		zlog.Info().Msg("fact table empty, running initial backfill")
		result, err := coordinator.Run(ctx, cfg.GitLab.MonitorGroups, cfg.Poller.BackfillDays, branchFilter)
		if err != nil {
			zlog.Error().Err(err).Msg("initial backfill failed, continuing with an empty store")
		} else {
			zlog.Info().Int("projects", result.ProjectsDiscovered).Int("pipelines", result.PipelinesIngested).Msg("initial backfill complete")
			setMonitored(monitored, result.Projects)
			if err := st.RebuildAggregates(ctx); err != nil {
				zlog.Error().Err(err).Msg("post-backfill aggregate rebuild failed")
			}
		}
	} else {
		zlog.Info().Int64("rows", empty).Msg("fact table non-empty, skipping initial backfill")
	}

	var wg sync.WaitGroup

	// 4. Monitor loop: steady-state incremental polling.
	loop := monitor.New(client, engine, st, zlog, cfg.GitLab.MonitorGroups, time.Duration(cfg.Poller.IntervalSeconds)*time.Second, branchFilter)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	// 5. Username enricher: standing background pass.
	enricher := enrich.New(st.Pool, client, zlog)
	wg.Add(1)
	go func() {
		defer wg.Done()
		enricher.RunStanding(ctx)
	}()

	// 6. Query API.
	refresh := api.RefreshTrigger(loop.TriggerRefresh)
	server := api.NewServer(st.Pool, st, monitored, refresh, zlog,
		int(cfg.Poller.Capacity), time.Duration(cfg.Poller.TTLSeconds)*time.Second)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(ctx, addr); err != nil && ctx.Err() == nil {
			zlog.Error().Err(err).Msg("api server stopped")
		}
	}()
	zlog.Info().Str("addr", addr).Msg("api server listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zlog.Info().Msg("shutting down")
	cancel()
	wg.Wait()
}

func setMonitored(m *api.MonitoredProjects, projects []backfill.MonitoredProject) {
	out := make([]api.MonitoredProject, len(projects))
	for i, p := range projects {
		out[i] = api.MonitoredProject{
			ID:                p.ID,
			Name:              p.Name,
			PathWithNamespace: p.PathWithNamespace,
			WebURL:            p.WebURL,
		}
	}
	m.Set(out)
}

// newLogger builds the process-wide zerolog logger at the configured
// level, writing timestamped JSON lines to stdout.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
