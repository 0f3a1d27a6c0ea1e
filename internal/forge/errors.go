package forge

import "fmt"

// RemoteError marks a forge-side failure: non-2xx HTTP status or a
// GraphQL errors[] payload. Per the error-kind table these are transient —
// the caller logs, backs off, and retries without data loss.
type RemoteError struct {
	Op     string
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("forge: %s: http %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("forge: %s: %s", e.Op, e.Detail)
}

// ValidationError marks a forge response that cannot be mapped, currently a
// group that does not exist. Records whose gid fails to parse do not produce
// one: they are skipped without an error.
type ValidationError struct {
	Op     string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("forge: %s: %s", e.Op, e.Detail)
}
