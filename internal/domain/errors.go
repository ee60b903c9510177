package domain

import "errors"

var (
	// ErrTransientFetch marks a network or protocol failure talking to the
	// media server. The reconciliation pass that hit it is abandoned and the
	// cache is left untouched; never destructive.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrMigration marks a failed schema revision. Fatal: the process must
	// not run against a partially migrated store.
	ErrMigration = errors.New("schema migration failed")

	// ErrDanglingReference marks a membership write whose parent row does not
	// exist. Indicates a write-ordering bug in the caller; surfaced, never
	// swallowed.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrNotFound is returned by point lookups for absent rows.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks an illegal download state machine step.
	ErrInvalidTransition = errors.New("invalid download status transition")
)
