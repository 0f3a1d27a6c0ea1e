package forge

import (
	"strings"
	"time"

	"flowscan-clone/internal/models"
)

// FromGraphQL converts a GraphQL pipeline node into a models.Pipeline under
// the given project, matching gitlab_types.rs's PipelineInfo::to_db_pipeline.
// A pipeline whose createdAt cannot be parsed is skipped by the caller
// using the second return value.
func FromGraphQL(p GraphQLPipeline, projectID int64, projectName, projectFullPath string) (models.Pipeline, bool) {
	created, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return models.Pipeline{}, false
	}

	var finished *time.Time
	if p.FinishedAt != nil {
		if t, err := time.Parse(time.RFC3339, *p.FinishedAt); err == nil {
			finished = &t
		}
	}

	var finishedTS *int64
	if finished != nil {
		ts := finished.Unix()
		finishedTS = &ts
	}

	duration := DeriveDuration(p.Duration, created, finished)

	return models.Pipeline{
		ID:              p.ID,
		ProjectID:       projectID,
		ProjectName:     projectName,
		ProjectFullPath: projectFullPath,
		RefName:         p.Ref,
		SHA:             p.SHA,
		UserName:        p.UserName,
		Status:          strings.ToLower(p.Status),
		CreatedAt:       created.Unix(),
		FinishedAt:      finishedTS,
		Duration:        duration,
		WebURL:          p.WebURL,
	}, true
}

// FromREST converts a REST pipeline into a models.Pipeline. The REST
// pipelines endpoint carries no user information, matching
// gitlab_types.rs's GitlabPipeline::to_db_pipeline, which leaves user_name
// empty; the username enricher fills it in afterwards.
func FromREST(p RESTPipeline, projectID int64, projectName, projectFullPath string) models.Pipeline {
	var finishedTS *int64
	if p.FinishedAt != nil {
		ts := p.FinishedAt.Unix()
		finishedTS = &ts
	}

	duration := DeriveDuration(p.Duration, p.CreatedAt, p.FinishedAt)

	webURL := p.WebURL
	if webURL == "" {
		webURL = PipelineWebURL("", p.ID)
	}

	return models.Pipeline{
		ID:              p.ID,
		ProjectID:       projectID,
		ProjectName:     projectName,
		ProjectFullPath: projectFullPath,
		RefName:         p.Ref,
		SHA:             p.SHA,
		UserName:        "",
		Status:          strings.ToLower(p.Status),
		CreatedAt:       p.CreatedAt.Unix(),
		FinishedAt:      finishedTS,
		Duration:        duration,
		WebURL:          webURL,
	}
}
