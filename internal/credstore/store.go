package credstore

import (
	"context"
	"errors"
)

// ErrNotFound reports that no session record is stored. Callers treat it as
// "not signed in" rather than as a failure.
var ErrNotFound = errors.New("no stored session record")

// ErrReadOnly reports that the backend cannot persist or remove records.
var ErrReadOnly = errors.New("session storage is read-only")

// Store reads, writes, and clears the serialized session record.
//
// Login flows require writable storage.
type Store interface {
	// Read returns the stored record. Returns ErrNotFound if no record
	// exists; other errors indicate the backend itself failed.
	Read(ctx context.Context) (string, error)

	// Write persists the record, replacing any existing one. Returns
	// ErrReadOnly for backends that cannot persist.
	Write(ctx context.Context, record string) error

	// Clear removes the stored record. Clearing an absent record is not an
	// error; logout relies on Clear being safe to call unconditionally.
	Clear(ctx context.Context) error
}
