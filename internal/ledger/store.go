package ledger

import "context"

// AppendRequest carries the caller-supplied fields of a new entry.
// AnchorTx is stored verbatim when an external anchoring system already
// holds a reference for this record; it is never computed here.
type AppendRequest struct {
	ResourceID string
	Metadata   map[string]any
	CreatedBy  string
	AnchorTx   string
}

// Store is the append-only per-resource entry sequence.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// Append builds and persists the next entry for req.ResourceID.
	// The read-latest → build → insert critical section is serialized
	// per resource, so two concurrent appends can never both chain off
	// the same PrevHash.
	Append(ctx context.Context, req AppendRequest) (*Entry, error)

	// Chain returns all entries for a resource in creation order,
	// ties broken by id ascending. An unknown resource yields an
	// empty slice, not an error.
	Chain(ctx context.Context, resourceID string) ([]*Entry, error)

	// ByHash returns the entry with the given hash, or ErrNotFound.
	ByHash(ctx context.Context, entryHash string) (*Entry, error)

	// Resources lists every resource id with at least one entry, in
	// lexical order.
	Resources(ctx context.Context) ([]string, error)
}
