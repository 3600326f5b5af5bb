package storage

import "errors"

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same key already exists.
	// The ledger swallows it; it never reaches callers of UpsertBatch.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunInProgress is returned when another run holds the stream's single-flight lease.
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrLeaseLost is returned when a run no longer owns the stream it tries to update.
	ErrLeaseLost = errors.New("sync run lease lost")
)
