// Package forge talks to the GitLab-shaped CI forge: REST project/pipeline
// discovery and GraphQL incremental activity/user lookups (component C2).
// Grounded on original_source/src/gitlab_ops.rs, gitlab_graphql.rs and
// gitlab_types.rs, translated from the gitlab crate + reqwest into a
// hand-rolled net/http client in the style of
// internal/ingester/network_poller.go's batchGeoIPLookup.
package forge

import (
	"strconv"
	"strings"
	"time"
)

// Project is a discovered repository under a monitored group.
type Project struct {
	ID                int64
	Name              string
	PathWithNamespace string
	WebURL            string
}

// RESTPipeline is one row of GET /api/v4/projects/:id/pipelines — the REST
// shape used by the backfill coordinator, which carries no user info.
type RESTPipeline struct {
	ID         int64
	Ref        string
	SHA        string
	Status     string
	CreatedAt  time.Time
	FinishedAt *time.Time
	Duration   *int64
	WebURL     string
}

// GraphQLPipeline is one pipeline node from the incremental activity query,
// still in wire shape (string timestamps, gid-encoded id).
type GraphQLPipeline struct {
	ID         int64
	SHA        string
	Status     string
	CreatedAt  string
	FinishedAt *string
	Duration   *int64
	Ref        string
	UserName   string
	WebURL     string
}

// ProjectActivity groups the pipelines returned for one project by the
// incremental GraphQL scan, mirroring gitlab_graphql.rs's ProjectPipelineInfo.
type ProjectActivity struct {
	ID       int64
	Name     string
	FullPath string
	WebURL   string
	Pipelines []GraphQLPipeline
}

// ParseGID extracts the trailing numeric id from a GraphQL global id such as
// "gid://gitlab/Ci::Pipeline/12345", matching gitlab_types.rs's parse_gid.
func ParseGID(gid string) (int64, error) {
	parts := strings.Split(gid, "/")
	last := parts[len(parts)-1]
	return strconv.ParseInt(last, 10, 64)
}

// DeriveDuration returns the pipeline duration in seconds, falling back to
// finishedAt - createdAt when the forge omits duration but reports a finish
// time, matching gitlab_types.rs's to_db_pipeline logic on both the REST and
// GraphQL paths. A non-positive duration, reported or derived, is dropped as
// absent.
func DeriveDuration(reported *int64, createdAt time.Time, finishedAt *time.Time) *int64 {
	if reported != nil {
		if *reported <= 0 {
			return nil
		}
		return reported
	}
	if finishedAt == nil {
		return nil
	}
	d := finishedAt.Unix() - createdAt.Unix()
	if d <= 0 {
		return nil
	}
	return &d
}

// PipelineWebURL synthesizes the pipeline's web URL from its project's when
// the forge response does not carry one directly, matching
// gitlab_graphql.rs's "{base}/-/pipelines/{id}" construction.
func PipelineWebURL(projectWebURL string, pipelineID int64) string {
	return strings.TrimRight(projectWebURL, "/") + "/-/pipelines/" + strconv.FormatInt(pipelineID, 10)
}
