// Package store holds the MongoDB repositories for documents, chunks,
// processing profiles and remote folder bindings.
package store

import "errors"

// Sentinel errors shared by the repositories. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a lookup by ID matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic update loses the
	// race: the document exists but its updated_at moved on.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
)

// DocumentChange is the set of fields a single status transition may touch.
// Zero-value fields are left alone; pointer fields distinguish "set to zero"
// from "do not touch".
type DocumentChange struct {
	Status          string
	FailReason      string
	ClearFailReason bool
	ChunkCount      *int
	IsActive        *bool
}
