// Package backfill discovers monitored projects and loads their pipeline
// history into the store (component C4), grounded on
// original_source/src/monitor.rs's perform_initial_backfill and
// gitlab_ops.rs's fetch_pipelines_concurrent. The Semaphore+JoinSet
// concurrency-bounded fan-out there becomes a buffered-channel semaphore
// plus sync.WaitGroup here, the idiomatic Go translation used throughout
// this codebase for bounded parallel fetch.
package backfill

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowscan-clone/internal/forge"
	"flowscan-clone/internal/ingest"
)

const (
	concurrency     = 10
	maxRetries      = 3
	initialBackoff  = 500 * time.Millisecond
)

// Coordinator runs the initial (and operator-triggered) full backfill.
type Coordinator struct {
	client *forge.Client
	engine *ingest.Engine
	log    zerolog.Logger
}

func NewCoordinator(client *forge.Client, engine *ingest.Engine, log zerolog.Logger) *Coordinator {
	return &Coordinator{client: client, engine: engine, log: log}
}

// MonitoredProject is the minimal shape backfill hands back to the caller
// for the supplemental /api/monitored_projects listing (state.rs's
// monitored_projects, held in memory for the life of the process).
type MonitoredProject struct {
	ID                int64
	Name              string
	PathWithNamespace string
	WebURL            string
}

// Result reports how the backfill went, for logging and for the caller to
// decide whether a fresh-install aggregate rebuild is still needed.
type Result struct {
	ProjectsDiscovered int
	PipelinesIngested  int
	Projects           []MonitoredProject
}

// Run discovers every non-archived project across groups, then fetches and
// upserts each project's pipeline history back to backfillDays ago,
// concurrency-bounded and retried with exponential backoff, matching
// perform_initial_backfill. branchFilter is applied before ingest, never at
// the forge, so the full project list is always known regardless of which
// refs are tracked.
func (c *Coordinator) Run(ctx context.Context, groups []string, backfillDays int64, branchFilter *regexp.Regexp) (Result, error) {
	var allProjects []forge.Project
	for _, group := range groups {
		projects, err := c.client.DiscoverProjects(ctx, group)
		if err != nil {
			return Result{}, err
		}
		allProjects = append(allProjects, projects...)
	}

	c.log.Info().Int("projects", len(allProjects)).Msg("backfill: discovered projects")

	cutoff := time.Now().Add(-time.Duration(backfillDays) * 24 * time.Hour)

	type fetchResult struct {
		project    forge.Project
		pipelines  []forge.RESTPipeline
	}

	results := make([]fetchResult, len(allProjects))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, project := range allProjects {
		wg.Add(1)
		go func(i int, project forge.Project) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pipelines, err := c.fetchWithRetry(ctx, project.ID, &cutoff)
			if err != nil {
				c.log.Error().Err(err).Int64("project_id", project.ID).Msg("backfill: fetch pipelines failed")
				pipelines = nil
			}
			results[i] = fetchResult{project: project, pipelines: pipelines}
		}(i, project)
	}
	wg.Wait()

	ingested := 0
	for _, r := range results {
		c.log.Info().Int("pipelines", len(r.pipelines)).Str("project", r.project.Name).Msg("backfill: fetched project")
		for _, rp := range r.pipelines {
			if branchFilter != nil && !branchFilter.MatchString(rp.Ref) {
				continue
			}
			p := forge.FromREST(rp, r.project.ID, r.project.Name, r.project.PathWithNamespace)
			if err := c.engine.Upsert(ctx, p); err != nil {
				c.log.Error().Err(err).Int64("pipeline_id", p.ID).Msg("backfill: upsert failed")
				continue
			}
			ingested++
		}
	}

	monitored := make([]MonitoredProject, len(allProjects))
	for i, p := range allProjects {
		monitored[i] = MonitoredProject{ID: p.ID, Name: p.Name, PathWithNamespace: p.PathWithNamespace, WebURL: p.WebURL}
	}

	return Result{ProjectsDiscovered: len(allProjects), PipelinesIngested: ingested, Projects: monitored}, nil
}

// fetchWithRetry retries FetchPipelines up to maxRetries times with
// doubling backoff starting at initialBackoff, matching
// fetch_pipelines_concurrent's `500 * 2^(attempt-1)` schedule.
func (c *Coordinator) fetchWithRetry(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]forge.RESTPipeline, error) {
	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pipelines, err := c.client.FetchPipelines(ctx, projectID, updatedAfter)
		if err == nil {
			return pipelines, nil
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}
