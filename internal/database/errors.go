package database

import "errors"

// Sentinel errors shared by all store implementations. Callers check them
// with errors.Is; implementations wrap them with context.
var (
	// ErrNotFound indicates a referenced Asset, Instance, or Stack id is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation. Idempotent
	// operations resolve it internally by re-reading; it only surfaces
	// where a duplicate write is a caller bug (e.g. write-once meta).
	ErrConflict = errors.New("conflict")

	// ErrInvariant indicates a programming-contract violation, such as a
	// duplicate-type stack membership overlap. Detection happens before
	// commit, so committed state is never corrupted.
	ErrInvariant = errors.New("invariant violation")
)
