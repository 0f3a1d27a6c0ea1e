package api

import (
	"net/http/httptest"
	"testing"
)

func TestParseFilter(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/pipelines?project_name=foo&ref_name=main&from_ts=100&to_ts=not-a-number", nil)
	f := parseFilter(r)

	if f.ProjectName != "foo" {
		t.Errorf("ProjectName = %q, want %q", f.ProjectName, "foo")
	}
	if f.RefName != "main" {
		t.Errorf("RefName = %q, want %q", f.RefName, "main")
	}
	if f.FromTS == nil || *f.FromTS != 100 {
		t.Errorf("FromTS = %v, want pointer to 100", f.FromTS)
	}
	if f.ToTS != nil {
		t.Errorf("ToTS = %v, want nil for an unparsable timestamp (ValidationError policy: treat as absent)", f.ToTS)
	}
}

func TestUseFastPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ref  string
		want bool
	}{
		{name: "absent", ref: "", want: true},
		{name: "explicit All", ref: "All", want: true},
		{name: "single ref forces slow path", ref: "main", want: false},
		{name: "comma list forces slow path", ref: "main,develop", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := filter{RefName: tc.ref}
			if got := f.useFastPath(); got != tc.want {
				t.Fatalf("useFastPath(ref=%q) = %v, want %v", tc.ref, got, tc.want)
			}
		})
	}
}

func TestWhereBuilderEqOrIn(t *testing.T) {
	t.Parallel()

	t.Run("All sentinel is skipped", func(t *testing.T) {
		t.Parallel()
		wb := newWhereBuilder()
		wb.eqOrIn("project_full_path", "All")
		if got := wb.String(); got != "WHERE 1=1" {
			t.Fatalf("clause = %q, want no added predicate", got)
		}
	})

	t.Run("single value uses equality", func(t *testing.T) {
		t.Parallel()
		wb := newWhereBuilder()
		wb.eqOrIn("project_full_path", "group/project")
		if got := wb.String(); got != "WHERE 1=1 AND project_full_path = $1" {
			t.Fatalf("clause = %q", got)
		}
		if len(wb.args) != 1 || wb.args[0] != "group/project" {
			t.Fatalf("args = %v", wb.args)
		}
	})

	t.Run("csv uses IN", func(t *testing.T) {
		t.Parallel()
		wb := newWhereBuilder()
		wb.eqOrIn("ref_name", "main, develop")
		if got := wb.String(); got != "WHERE 1=1 AND ref_name IN ($1, $2)" {
			t.Fatalf("clause = %q", got)
		}
		if len(wb.args) != 2 || wb.args[0] != "main" || wb.args[1] != "develop" {
			t.Fatalf("args = %v, want trimmed [main develop]", wb.args)
		}
	})
}

func TestWhereBuilderNotIn(t *testing.T) {
	t.Parallel()

	wb := newWhereBuilder()
	wb.notIn("project_full_path", "a,b")
	if got := wb.String(); got != "WHERE 1=1 AND project_full_path NOT IN ($1, $2)" {
		t.Fatalf("clause = %q", got)
	}
}
