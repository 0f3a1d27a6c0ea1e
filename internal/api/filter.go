package api

import (
	"net/http"
	"strconv"
	"strings"
)

// filter mirrors original_source/src/api.rs's PipelineFilter: every field is
// optional and comes from the request's query string.
type filter struct {
	ProjectName     string
	RefName         string
	ExcludeProjects string
	Status          string
	FromTS          *int64
	ToTS            *int64
}

func parseFilter(r *http.Request) filter {
	q := r.URL.Query()
	f := filter{
		ProjectName:     q.Get("project_name"),
		RefName:         q.Get("ref_name"),
		ExcludeProjects: q.Get("exclude_projects"),
		Status:          q.Get("status"),
	}
	if v := q.Get("from_ts"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.FromTS = &ts
		}
	}
	if v := q.Get("to_ts"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.ToTS = &ts
		}
	}
	return f
}

// useFastPath reports whether the daily_stats aggregate table can answer
// the query, which holds whenever no ref filter narrows the result below
// what the aggregate already tracks, matching api.rs's use_fast_path.
func (f filter) useFastPath() bool {
	return f.RefName == "" || f.RefName == "All"
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// whereBuilder accumulates a WHERE clause and its positional arguments for
// pgx's $N placeholders, the hand-written equivalent of sqlx::QueryBuilder
// used in the original and of squat-collective-rat's pipelineWhereClause.
type whereBuilder struct {
	clause strings.Builder
	args   []interface{}
}

func newWhereBuilder() *whereBuilder {
	w := &whereBuilder{}
	w.clause.WriteString("WHERE 1=1")
	return w
}

func (w *whereBuilder) placeholder() string {
	return "$" + strconv.Itoa(len(w.args)+1)
}

func (w *whereBuilder) add(value interface{}) string {
	ph := w.placeholder()
	w.args = append(w.args, value)
	return ph
}

// eqOrIn appends "AND column = $n" or "AND column IN ($n, $m, ...)" from a
// possibly comma-separated value, skipping the clause entirely for the
// sentinel "All" or an empty string.
func (w *whereBuilder) eqOrIn(column, value string) {
	if value == "" || value == "All" {
		return
	}
	values := splitCSV(value)
	if len(values) == 0 {
		return
	}
	if len(values) == 1 {
		w.clause.WriteString(" AND " + column + " = " + w.add(values[0]))
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = w.add(v)
	}
	w.clause.WriteString(" AND " + column + " IN (" + strings.Join(placeholders, ", ") + ")")
}

func (w *whereBuilder) notIn(column, csv string) {
	values := splitCSV(csv)
	if len(values) == 0 {
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = w.add(v)
	}
	w.clause.WriteString(" AND " + column + " NOT IN (" + strings.Join(placeholders, ", ") + ")")
}

func (w *whereBuilder) String() string { return w.clause.String() }
