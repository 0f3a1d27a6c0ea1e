package forge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Client is the REST + GraphQL forge client. One Client is shared by the
// backfill coordinator, monitor loop and username enricher; its rate
// limiter throttles all three so a burst in one does not trip the forge's
// own abuse limits, the same role golang.org/x/time/rate plays for the
// teacher's inbound limiter in internal/api/ratelimit.go, turned outbound.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
}

// Config holds the fields needed to construct a Client, mirroring
// original_source/src/config.rs's GitLabConfig.
type Config struct {
	BaseURL          string
	Token            string
	TimeoutSeconds   int64
	SkipInvalidCerts bool
	// RequestsPerSecond bounds outbound request rate; zero or a negative
	// value falls back to 10 requests per second.
	RequestsPerSecond float64
}

// NewClient builds a Client per Config, matching
// GitlabGraphqlClient::new's timeout + danger_accept_invalid_certs wiring.
func NewClient(cfg Config) *Client {
	transport := &http.Transport{}
	if cfg.SkipInvalidCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: transport,
		},
		baseURL: trimTrailingSlash(cfg.BaseURL),
		token:   cfg.Token,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &RemoteError{Op: path, Status: resp.StatusCode, Detail: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// DiscoverProjects fetches every non-archived project under group (and its
// subgroups), ignoring any activity-date cutoff, matching
// gitlab_ops.rs's discover_projects: a complete project list is wanted so
// that inactive projects can still be filtered later in memory, not at the
// forge.
func (c *Client) DiscoverProjects(ctx context.Context, group string) ([]Project, error) {
	var all []Project
	page := 1
	for {
		var raw []restProjectDTO
		q := url.Values{}
		q.Set("include_subgroups", "true")
		q.Set("archived", "false")
		q.Set("per_page", "100")
		q.Set("page", strconv.Itoa(page))

		path := "/api/v4/groups/" + url.PathEscape(group) + "/projects"
		if err := c.doJSON(ctx, http.MethodGet, path, q, &raw); err != nil {
			return nil, fmt.Errorf("discover projects in %s: %w", group, err)
		}
		if len(raw) == 0 {
			break
		}
		for _, p := range raw {
			all = append(all, Project{
				ID:                p.ID,
				Name:              p.Name,
				PathWithNamespace: p.PathWithNamespace,
				WebURL:            p.WebURL,
			})
		}
		if len(raw) < 100 {
			break
		}
		page++
	}
	return all, nil
}

type restProjectDTO struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// FetchPipelines fetches every pipeline for projectID updated after
// updatedAfter (nil fetches all history), matching gitlab_ops.rs's
// fetch_pipelines. Pagination follows the same page-until-empty loop as
// DiscoverProjects since GitLab's REST API exposes no cursor here.
func (c *Client) FetchPipelines(ctx context.Context, projectID int64, updatedAfter *time.Time) ([]RESTPipeline, error) {
	var all []RESTPipeline
	page := 1
	for {
		var raw []restPipelineDTO
		q := url.Values{}
		q.Set("per_page", "100")
		q.Set("page", strconv.Itoa(page))
		if updatedAfter != nil {
			q.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))
		}

		path := fmt.Sprintf("/api/v4/projects/%d/pipelines", projectID)
		if err := c.doJSON(ctx, http.MethodGet, path, q, &raw); err != nil {
			return nil, fmt.Errorf("fetch pipelines for project %d: %w", projectID, err)
		}
		if len(raw) == 0 {
			break
		}
		for _, p := range raw {
			created, err := time.Parse(time.RFC3339, p.CreatedAt)
			if err != nil {
				continue
			}
			var finished *time.Time
			if p.UpdatedAt != "" && (p.Status == "success" || p.Status == "failed" || p.Status == "canceled" || p.Status == "skipped") {
				if t, err := time.Parse(time.RFC3339, p.UpdatedAt); err == nil {
					finished = &t
				}
			}
			all = append(all, RESTPipeline{
				ID:         p.ID,
				Ref:        p.Ref,
				SHA:        p.SHA,
				Status:     p.Status,
				CreatedAt:  created,
				FinishedAt: finished,
				Duration:   p.Duration,
				WebURL:     p.WebURL,
			})
		}
		if len(raw) < 100 {
			break
		}
		page++
	}
	return all, nil
}

type restPipelineDTO struct {
	ID        int64  `json:"id"`
	Ref       string `json:"ref"`
	SHA       string `json:"sha"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Duration  *int64 `json:"duration"`
	WebURL    string `json:"web_url"`
}

// FetchPipelineUserViaREST fetches one pipeline's detail to recover its
// triggering user's name, the REST fallback used when the GraphQL lookup in
// FetchPipelineUserByGID is unavailable, matching
// gitlab_graphql.rs's fetch_pipeline_user_via_rest.
func (c *Client) FetchPipelineUserViaREST(ctx context.Context, projectID, pipelineID int64) (string, error) {
	var raw struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	path := fmt.Sprintf("/api/v4/projects/%d/pipelines/%d", projectID, pipelineID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return "", fmt.Errorf("fetch pipeline user via rest for %d: %w", pipelineID, err)
	}
	return raw.User.Name, nil
}
