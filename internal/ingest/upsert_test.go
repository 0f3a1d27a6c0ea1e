package ingest

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDayString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ts   int64
		want string
	}{
		{name: "s1 scenario boundary", ts: 1704067200, want: "2024-01-01"},
		{name: "one second before day boundary", ts: 1704067199, want: "2023-12-31"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := dayString(tc.ts); got != tc.want {
				t.Fatalf("dayString(%d) = %q, want %q", tc.ts, got, tc.want)
			}
		})
	}
}

func TestNullIfEmpty(t *testing.T) {
	t.Parallel()

	if got := nullIfEmpty(""); got != nil {
		t.Fatalf("nullIfEmpty(\"\") = %v, want nil", got)
	}
	if got := nullIfEmpty("alice"); got != "alice" {
		t.Fatalf("nullIfEmpty(\"alice\") = %v, want %q", got, "alice")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	t.Parallel()

	if isSerializationFailure(nil) {
		t.Fatal("isSerializationFailure(nil) = true, want false")
	}
	if isSerializationFailure(errors.New("boom")) {
		t.Fatal("isSerializationFailure(plain error) = true, want false")
	}
	serErr := &pgconn.PgError{Code: "40001"}
	if !isSerializationFailure(serErr) {
		t.Fatal("isSerializationFailure(40001) = false, want true")
	}
	otherErr := &pgconn.PgError{Code: "23505"}
	if isSerializationFailure(otherErr) {
		t.Fatal("isSerializationFailure(23505) = true, want false")
	}
}
