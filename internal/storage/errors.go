package storage

import "errors"

// Sentinel errors returned by repositories and stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateDocument is returned when an upload's content hash
	// matches an already-known document.
	ErrDuplicateDocument = errors.New("duplicate document content")
)
