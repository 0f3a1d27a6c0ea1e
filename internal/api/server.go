// Package api serves the read-side query surface (component C7): pipeline
// listings and pre-aggregated statistics, backed by the fast daily_stats
// path or the slow pipelines-table scan depending on the requested filter.
// Grounded on original_source/src/api.rs's axum handlers, translated into
// gorilla/mux in the teacher's own routing style
// (internal/api/routes_registration.go, removed but mirrored here) with
// the response-cache idiom from internal/api/response_cache.go
// generalized to also bound capacity.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"flowscan-clone/internal/store"
)

// RefreshTrigger lets the query API ask the monitor loop for an immediate
// poll cycle instead of waiting for the timer, wired to monitor.Loop's
// TriggerRefresh by main.go.
type RefreshTrigger func()

type Server struct {
	pool       *pgxpool.Pool
	store      *store.Store
	cache      *queryCache
	log        zerolog.Logger
	monitored  *MonitoredProjects
	refresh    RefreshTrigger
	httpServer *http.Server
}

func NewServer(pool *pgxpool.Pool, st *store.Store, monitored *MonitoredProjects, refresh RefreshTrigger, log zerolog.Logger, cacheCapacity int, cacheTTL time.Duration) *Server {
	return &Server{
		pool:      pool,
		store:     st,
		cache:     newQueryCache(cacheCapacity, cacheTTL),
		log:       log,
		monitored: monitored,
		refresh:   refresh,
	}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/api/pipelines", s.handleListPipelines).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/summary", s.handleSummaryStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/projects", s.handleProjectStats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/trend", s.handleStatsTrend).Methods(http.MethodGet)
	r.HandleFunc("/api/projects", s.handleListProjects).Methods(http.MethodGet)
	r.HandleFunc("/api/refs", s.handleListRefs).Methods(http.MethodGet)
	r.HandleFunc("/api/monitored_projects", s.handleMonitoredProjects).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh_daily_stats", s.handleRefreshDailyStats).Methods(http.MethodPost)
	return r
}

// ListenAndServe starts the HTTP server on addr and blocks until ctx is
// canceled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("api: listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports whether the store is reachable, distinguishing
// "process is up" from "process can serve real queries".
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleMonitoredProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitored.List())
}
