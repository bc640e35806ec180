package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record with a
	// key that already exists. Commission and ledger stores rely on this to
	// make payments exactly-once.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingReference is returned when a write references an account or
	// record that no longer exists in external state. Callers log it; it is
	// never fatal to tree bookkeeping.
	ErrMissingReference = errors.New("referenced record missing")
)
