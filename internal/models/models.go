// Package models holds the domain entities shared across the ingestion and
// query-API layers.
package models

// Pipeline is the canonical record of one CI run. Identity is Pipeline.ID,
// which is globally unique across projects on the forge.
type Pipeline struct {
	ID              int64  `json:"id"`
	ProjectID       int64  `json:"project_id"`
	ProjectName     string `json:"project_name"`
	ProjectFullPath string `json:"project_full_path"`
	RefName         string `json:"ref_name"`
	SHA             string `json:"sha"`
	UserName        string `json:"user_name"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
	FinishedAt      *int64 `json:"finished_at,omitempty"`
	Duration        *int64 `json:"duration,omitempty"`
	WebURL          string `json:"web_url,omitempty"`
}

// Terminal reports whether the pipeline has reached a finished state.
func (p Pipeline) Terminal() bool {
	return p.FinishedAt != nil
}

// DailyAggregate is one pre-computed (date, project, status) cell.
type DailyAggregate struct {
	Date              string `json:"date"`
	ProjectID         int64  `json:"project_id"`
	ProjectName       string `json:"project_name"`
	Status            string `json:"status"`
	Count             int64  `json:"count"`
	TotalDuration     int64  `json:"total_duration"`
	CountWithDuration int64  `json:"count_with_duration"`
}

// MeanDuration returns total_duration / count_with_duration, or 0 when no
// pipeline in the cell carries a known duration.
func (a DailyAggregate) MeanDuration() float64 {
	if a.CountWithDuration == 0 {
		return 0
	}
	return float64(a.TotalDuration) / float64(a.CountWithDuration)
}

// Project is a discovered, non-archived project on the forge.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url,omitempty"`
}

// SummaryStat is the response shape for GET /api/stats/summary.
type SummaryStat struct {
	TotalCount  int64   `json:"total_count"`
	AvgDuration float64 `json:"avg_duration"`
	SuccessRate float64 `json:"success_rate"`
}

// ProjectStat is one row of GET /api/stats/projects.
type ProjectStat struct {
	ProjectName     string  `json:"project_name"`
	ProjectFullPath string  `json:"project_full_path"`
	Count           int64   `json:"count"`
	AvgDuration     float64 `json:"avg_duration"`
	LastStatus      string  `json:"last_status"`
}

// TrendPoint is one row of GET /api/stats/trend.
type TrendPoint struct {
	Date   string `json:"date"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// PipelineView is the JSON shape returned by GET /api/pipelines: timestamps
// rendered as RFC-3339 strings instead of raw unix seconds.
type PipelineView struct {
	ID              int64   `json:"id"`
	ProjectID       int64   `json:"project_id"`
	ProjectName     string  `json:"project_name"`
	ProjectFullPath string  `json:"project_full_path"`
	RefName         string  `json:"ref_name"`
	SHA             string  `json:"sha"`
	UserName        string  `json:"user_name"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	FinishedAt      *string `json:"finished_at,omitempty"`
	Duration        *int64  `json:"duration,omitempty"`
	WebURL          string  `json:"web_url,omitempty"`
}
