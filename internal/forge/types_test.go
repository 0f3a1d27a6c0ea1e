package forge

import (
	"testing"
	"time"
)

func TestParseGID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "pipeline", in: "gid://gitlab/Pipeline/12345", want: 12345},
		{name: "ci pipeline", in: "gid://gitlab/CiPipeline/98765", want: 98765},
		{name: "namespaced ci pipeline", in: "gid://gitlab/Ci::Pipeline/1", want: 1},
		{name: "bare numeric", in: "42", want: 42},
		{name: "non-numeric tail", in: "gid://gitlab/Pipeline/abc", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseGID(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseGID(%q) = %d, nil; want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGID(%q) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseGID(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestDeriveDuration(t *testing.T) {
	t.Parallel()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("reported zero duration is dropped as absent", func(t *testing.T) {
		t.Parallel()
		zero := int64(0)
		got := DeriveDuration(&zero, created, nil)
		if got != nil {
			t.Fatalf("DeriveDuration reported=0 = %v, want nil", got)
		}
	})

	t.Run("no reported duration, no finish time", func(t *testing.T) {
		t.Parallel()
		if got := DeriveDuration(nil, created, nil); got != nil {
			t.Fatalf("DeriveDuration = %v, want nil", got)
		}
	})

	t.Run("derives from finish minus create", func(t *testing.T) {
		t.Parallel()
		finished := created.Add(300 * time.Second)
		got := DeriveDuration(nil, created, &finished)
		if got == nil || *got != 300 {
			t.Fatalf("DeriveDuration = %v, want pointer to 300", got)
		}
	})

	t.Run("non-positive derived duration is dropped", func(t *testing.T) {
		t.Parallel()
		finished := created.Add(-5 * time.Second)
		if got := DeriveDuration(nil, created, &finished); got != nil {
			t.Fatalf("DeriveDuration = %v, want nil for non-positive derived duration", got)
		}
	})
}

func TestPipelineWebURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		project string
		id      int64
		want    string
	}{
		{name: "trailing slash trimmed", project: "https://gitlab.example.com/group/project/", id: 42, want: "https://gitlab.example.com/group/project/-/pipelines/42"},
		{name: "no trailing slash", project: "https://gitlab.example.com/group/project", id: 7, want: "https://gitlab.example.com/group/project/-/pipelines/7"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := PipelineWebURL(tc.project, tc.id); got != tc.want {
				t.Fatalf("PipelineWebURL(%q, %d) = %q, want %q", tc.project, tc.id, got, tc.want)
			}
		})
	}
}
