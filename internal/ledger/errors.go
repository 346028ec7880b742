package ledger

import "errors"

var (
	// ErrInvalidResourceID is returned when an append names no resource.
	ErrInvalidResourceID = errors.New("resource id must be a non-empty string")

	// ErrInvalidMetadata is returned when metadata cannot be canonically
	// serialized.
	ErrInvalidMetadata = errors.New("metadata cannot be canonicalized")

	// ErrNotFound is returned when no entry matches the requested hash.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrDuplicateHash is returned when an insert would reuse an existing
	// entry hash. This is never expected in normal operation and must
	// surface as a server error, not be silently swallowed.
	ErrDuplicateHash = errors.New("duplicate entry hash")

	// ErrConflict is returned when concurrent appends to the same resource
	// kept colliding past the retry budget.
	ErrConflict = errors.New("concurrent append conflict")
)
