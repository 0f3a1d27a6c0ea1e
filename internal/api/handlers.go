package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"time"

	"flowscan-clone/internal/models"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// cacheKey builds a stable key from the operation name and filter fields,
// matching api.rs's per-handler format!("...:{:?}:...") keys.
func cacheKey(op string, f filter, extra ...interface{}) string {
	from, to := "None", "None"
	if f.FromTS != nil {
		from = fmt.Sprintf("%d", *f.FromTS)
	}
	if f.ToTS != nil {
		to = fmt.Sprintf("%d", *f.ToTS)
	}
	key := fmt.Sprintf("%s:%s:%s:%s:%s:%s", op, orAll(f.ProjectName), orAll(f.RefName), f.ExcludeProjects, from, to)
	for _, e := range extra {
		key += fmt.Sprintf(":%v", e)
	}
	return key
}

func orAll(s string) string {
	if s == "" {
		return "All"
	}
	return s
}

// handleListPipelines serves GET /api/pipelines, matching api.rs's
// list_pipelines: always the fact table, never cached, since it always
// returns the most recent 100 rows.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)

	wb := newWhereBuilder()
	wb.eqOrIn("project_full_path", f.ProjectName)
	wb.eqOrIn("ref_name", f.RefName)
	if f.ExcludeProjects != "" {
		wb.notIn("project_full_path", f.ExcludeProjects)
	}
	if f.Status != "" {
		wb.clause.WriteString(" AND status = " + wb.add(f.Status))
	}
	// A running-status query skips the created_at range filter, matching
	// api.rs's is_running_query guard.
	if f.Status != "running" {
		if f.FromTS != nil {
			wb.clause.WriteString(" AND created_at >= " + wb.add(*f.FromTS))
		}
		if f.ToTS != nil {
			wb.clause.WriteString(" AND created_at <= " + wb.add(*f.ToTS))
		}
	}

	query := `SELECT id, project_id, project_name, project_full_path, ref_name, sha, user_name, status, created_at, finished_at, duration, web_url
		FROM pipelines ` + wb.String() + ` ORDER BY created_at DESC LIMIT 100`

	rows, err := s.pool.Query(r.Context(), query, wb.args...)
	if err != nil {
		s.log.Error().Err(err).Msg("api: list_pipelines query failed")
		writeJSON(w, []models.PipelineView{})
		return
	}
	defer rows.Close()

	var out []models.PipelineView
	for rows.Next() {
		var p models.Pipeline
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.ProjectName, &p.ProjectFullPath, &p.RefName, &p.SHA, &p.UserName, &p.Status, &p.CreatedAt, &p.FinishedAt, &p.Duration, &p.WebURL); err != nil {
			s.log.Error().Err(err).Msg("api: list_pipelines scan failed")
			continue
		}
		out = append(out, toPipelineView(p))
	}
	writeJSON(w, out)
}

func toPipelineView(p models.Pipeline) models.PipelineView {
	v := models.PipelineView{
		ID:              p.ID,
		ProjectID:       p.ProjectID,
		ProjectName:     p.ProjectName,
		ProjectFullPath: p.ProjectFullPath,
		RefName:         p.RefName,
		SHA:             p.SHA,
		UserName:        p.UserName,
		Status:          p.Status,
		CreatedAt:       time.Unix(p.CreatedAt, 0).UTC().Format(time.RFC3339),
		Duration:        p.Duration,
		WebURL:          p.WebURL,
	}
	if p.FinishedAt != nil {
		f := time.Unix(*p.FinishedAt, 0).UTC().Format(time.RFC3339)
		v.FinishedAt = &f
	}
	return v
}

// handleProjectStats serves GET /api/stats/projects, matching
// api.rs's get_project_stats: the fast daily_stats path when no ref filter
// narrows results, otherwise a full pipelines scan.
func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	key := cacheKey("projects", f)
	if cached, ok := s.cache.get(key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(cached)
		return
	}

	var query string
	wb := newWhereBuilder()
	if f.useFastPath() {
		query = `SELECT project_full_path as project_name, project_full_path,
				SUM(count) as count,
				COALESCE(CAST(SUM(total_duration) AS FLOAT8) / NULLIF(SUM(count_with_duration), 0), 0) as avg_duration,
				(SELECT status FROM pipelines p2 WHERE p2.project_full_path = daily_stats.project_full_path ORDER BY created_at DESC LIMIT 1) as last_status
			FROM daily_stats `
	} else {
		query = `SELECT project_name, project_full_path,
				COUNT(*) as count,
				COALESCE(AVG(duration), 0) as avg_duration,
				(SELECT status FROM pipelines p2 WHERE p2.project_full_path = pipelines.project_full_path ORDER BY created_at DESC LIMIT 1) as last_status
			FROM pipelines `
	}

	wb.eqOrIn("project_full_path", f.ProjectName)
	if !f.useFastPath() {
		wb.eqOrIn("ref_name", f.RefName)
	}
	if f.ExcludeProjects != "" {
		wb.notIn("project_full_path", f.ExcludeProjects)
	}
	if f.useFastPath() {
		if f.FromTS != nil {
			wb.clause.WriteString(" AND date >= " + dateFromUnix(wb, *f.FromTS))
		}
		if f.ToTS != nil {
			wb.clause.WriteString(" AND date <= " + dateFromUnix(wb, *f.ToTS))
		}
	} else {
		if f.FromTS != nil {
			wb.clause.WriteString(" AND created_at >= " + wb.add(*f.FromTS))
		}
		if f.ToTS != nil {
			wb.clause.WriteString(" AND created_at <= " + wb.add(*f.ToTS))
		}
	}

	query += wb.String() + " GROUP BY project_full_path ORDER BY avg_duration ASC"

	rows, err := s.pool.Query(r.Context(), query, wb.args...)
	stats := []models.ProjectStat{}
	if err != nil {
		s.log.Error().Err(err).Msg("api: get_project_stats query failed")
	} else {
		defer rows.Close()
		for rows.Next() {
			var st models.ProjectStat
			if err := rows.Scan(&st.ProjectName, &st.ProjectFullPath, &st.Count, &st.AvgDuration, &st.LastStatus); err != nil {
				s.log.Error().Err(err).Msg("api: get_project_stats scan failed")
				continue
			}
			stats = append(stats, st)
		}
	}

	body, _ := json.Marshal(stats)
	s.cache.set(key, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// dateFromUnix renders a Postgres date-comparison expression for a unix
// timestamp placeholder, translating SQLite's date(ts,'unixepoch') from
// api.rs into to_timestamp(ts)::date.
func dateFromUnix(wb *whereBuilder, ts int64) string {
	return "to_timestamp(" + wb.add(ts) + ")::date"
}

// handleSummaryStats serves GET /api/stats/summary, matching
// api.rs's get_summary_stats.
func (s *Server) handleSummaryStats(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	key := cacheKey("summary", f)
	if cached, ok := s.cache.get(key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(cached)
		return
	}

	var query string
	wb := newWhereBuilder()
	if f.useFastPath() {
		query = `SELECT
				COALESCE(SUM(count), 0) as total_count,
				COALESCE(CAST(SUM(total_duration) AS FLOAT8) / NULLIF(SUM(count_with_duration), 0), 0) as avg_duration,
				COALESCE(SUM(CASE WHEN status = 'success' THEN count ELSE 0 END) * 100.0 / NULLIF(SUM(count), 0), 0) as success_rate
			FROM daily_stats `
	} else {
		query = `SELECT
				COUNT(*) as total_count,
				COALESCE(AVG(duration), 0) as avg_duration,
				COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) * 100.0 / NULLIF(COUNT(*), 0), 0) as success_rate
			FROM pipelines `
	}

	wb.eqOrIn("project_full_path", f.ProjectName)
	if !f.useFastPath() {
		wb.eqOrIn("ref_name", f.RefName)
	}
	if f.ExcludeProjects != "" {
		wb.notIn("project_full_path", f.ExcludeProjects)
	}
	if f.useFastPath() {
		if f.FromTS != nil {
			wb.clause.WriteString(" AND date >= " + dateFromUnix(wb, *f.FromTS))
		}
		if f.ToTS != nil {
			wb.clause.WriteString(" AND date <= " + dateFromUnix(wb, *f.ToTS))
		}
	} else {
		if f.FromTS != nil {
			wb.clause.WriteString(" AND created_at >= " + wb.add(*f.FromTS))
		}
		if f.ToTS != nil {
			wb.clause.WriteString(" AND created_at <= " + wb.add(*f.ToTS))
		}
	}
	query += wb.String()

	var stat models.SummaryStat
	if err := s.pool.QueryRow(r.Context(), query, wb.args...).Scan(&stat.TotalCount, &stat.AvgDuration, &stat.SuccessRate); err != nil {
		s.log.Error().Err(err).Msg("api: get_summary_stats query failed")
		stat = models.SummaryStat{}
	}

	body, _ := json.Marshal(stat)
	s.cache.set(key, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleStatsTrend serves GET /api/stats/trend, matching
// api.rs's get_stats_trend: defaults to the last 30 days, widened to 7 when
// the requested window is under a day.
func (s *Server) handleStatsTrend(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	now := time.Now().Unix()
	endTS := now
	if f.ToTS != nil {
		endTS = *f.ToTS
	}
	startTS := now - 30*86400
	if f.FromTS != nil {
		startTS = *f.FromTS
	}
	if endTS-startTS < 86400 {
		startTS = endTS - 7*86400
	}

	key := cacheKey("trend", f, startTS, endTS)
	if cached, ok := s.cache.get(key); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(cached)
		return
	}

	var query string
	wb := newWhereBuilder()
	if f.useFastPath() {
		wb.clause.Reset()
		wb.clause.WriteString("WHERE date >= " + dateFromUnix(wb, startTS) + " AND date <= " + dateFromUnix(wb, endTS))
		query = `SELECT date, status, SUM(count) as count FROM daily_stats `
	} else {
		wb.clause.Reset()
		wb.clause.WriteString("WHERE created_at >= " + wb.add(startTS) + " AND created_at <= " + wb.add(endTS))
		query = `SELECT to_char(to_timestamp(created_at) AT TIME ZONE 'UTC', 'YYYY-MM-DD') as date, status, COUNT(*) as count FROM pipelines `
	}

	wb.eqOrIn("project_full_path", f.ProjectName)
	if !f.useFastPath() {
		wb.eqOrIn("ref_name", f.RefName)
	}
	if f.ExcludeProjects != "" {
		wb.notIn("project_full_path", f.ExcludeProjects)
	}

	query += wb.String()
	if f.useFastPath() {
		query += " GROUP BY date, status ORDER BY date DESC"
	} else {
		query += " GROUP BY 1, 2 ORDER BY 1 DESC"
	}

	rows, err := s.pool.Query(r.Context(), query, wb.args...)
	points := []models.TrendPoint{}
	if err != nil {
		s.log.Error().Err(err).Msg("api: get_stats_trend query failed")
	} else {
		defer rows.Close()
		for rows.Next() {
			var p models.TrendPoint
			if err := rows.Scan(&p.Date, &p.Status, &p.Count); err != nil {
				s.log.Error().Err(err).Msg("api: get_stats_trend scan failed")
				continue
			}
			points = append(points, p)
		}
	}

	body, _ := json.Marshal(points)
	s.cache.set(key, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleListProjects serves GET /api/projects, matching api.rs's
// list_projects.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pool.Query(r.Context(), `SELECT DISTINCT project_full_path FROM pipelines ORDER BY project_full_path`)
	names := []string{}
	if err != nil {
		s.log.Error().Err(err).Msg("api: list_projects query failed")
	} else {
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err == nil {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	writeJSON(w, names)
}

// handleListRefs serves GET /api/refs, matching api.rs's list_refs.
func (s *Server) handleListRefs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pool.Query(r.Context(), `SELECT DISTINCT ref_name FROM pipelines ORDER BY ref_name`)
	refs := []string{}
	if err != nil {
		s.log.Error().Err(err).Msg("api: list_refs query failed")
	} else {
		defer rows.Close()
		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err == nil {
				refs = append(refs, ref)
			}
		}
	}
	writeJSON(w, refs)
}

// handleRefreshDailyStats serves POST /api/refresh_daily_stats, matching
// api.rs's trigger_refresh_daily_stats. An explicit
// ?reconcile=filtered&branch_filter=<regex> invokes the filtered
// reconciliation mode added to resolve the spec's open question about
// branch filters changing after history was already ingested (see
// DESIGN.md); the default remains the unfiltered full rebuild.
func (s *Server) handleRefreshDailyStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	var err error
	if r.URL.Query().Get("reconcile") == "filtered" {
		pattern := r.URL.Query().Get("branch_filter")
		if pattern == "" {
			http.Error(w, "branch_filter is required for filtered reconciliation", http.StatusBadRequest)
			return
		}
		if _, reErr := regexp.Compile(pattern); reErr != nil {
			http.Error(w, "invalid branch_filter regex: "+reErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.store.RebuildAggregatesFiltered(ctx, pattern)
	} else {
		err = s.store.RebuildAggregates(ctx)
	}

	if err != nil {
		s.log.Error().Err(err).Msg("api: daily_stats backfill failed")
		writeJSON(w, "daily_stats backfill failed")
		return
	}
	writeJSON(w, "daily_stats backfill triggered/completed")
}
