package forge

import (
	"testing"
	"time"
)

func TestFromGraphQL(t *testing.T) {
	t.Parallel()

	t.Run("status lowercased and duration derived", func(t *testing.T) {
		t.Parallel()
		finished := "2024-01-01T00:05:00Z"
		p := GraphQLPipeline{
			ID:         1,
			SHA:        "deadbeef",
			Status:     "SUCCESS",
			CreatedAt:  "2024-01-01T00:00:00Z",
			FinishedAt: &finished,
			Ref:        "main",
			UserName:   "alice",
			WebURL:     "https://gitlab.example.com/g/p/-/pipelines/1",
		}
		got, ok := FromGraphQL(p, 7, "project", "group/project")
		if !ok {
			t.Fatal("FromGraphQL returned ok=false for a valid pipeline")
		}
		if got.Status != "success" {
			t.Errorf("Status = %q, want lowercased %q", got.Status, "success")
		}
		if got.Duration == nil || *got.Duration != 300 {
			t.Errorf("Duration = %v, want pointer to 300", got.Duration)
		}
		if got.FinishedAt == nil {
			t.Fatal("FinishedAt = nil, want set")
		}
	})

	t.Run("unparsable created_at is rejected", func(t *testing.T) {
		t.Parallel()
		p := GraphQLPipeline{ID: 1, CreatedAt: "not-a-time"}
		if _, ok := FromGraphQL(p, 7, "project", "group/project"); ok {
			t.Fatal("FromGraphQL returned ok=true for an unparsable created_at")
		}
	})
}

func TestFromREST(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("user name always empty", func(t *testing.T) {
		t.Parallel()
		p := RESTPipeline{ID: 2, Status: "PENDING", CreatedAt: created, Ref: "develop"}
		got := FromREST(p, 7, "project", "group/project")
		if got.UserName != "" {
			t.Errorf("UserName = %q, want empty (enricher fills it in later)", got.UserName)
		}
		if got.Status != "pending" {
			t.Errorf("Status = %q, want lowercased %q", got.Status, "pending")
		}
	})

	t.Run("web url synthesized when absent", func(t *testing.T) {
		t.Parallel()
		p := RESTPipeline{ID: 99, Status: "running", CreatedAt: created}
		got := FromREST(p, 7, "project", "group/project")
		if got.WebURL != "/-/pipelines/99" {
			t.Errorf("WebURL = %q, want synthesized %q", got.WebURL, "/-/pipelines/99")
		}
	})
}
