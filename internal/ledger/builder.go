package ledger

import "time"

// Builder constructs chain entries. It is pure apart from the clock:
// the timestamp it samples is itself part of the hash input, so a built
// entry's hash is always recomputable from its stored fields.
type Builder struct {
	signer *Signer
	now    func() time.Time
}

// NewBuilder creates a Builder. signer may be nil to disable signatures.
func NewBuilder(signer *Signer) *Builder {
	return &Builder{signer: signer, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build produces the next entry for a resource. prev is the current chain
// tip, or nil when this is the resource's first entry. The caller is
// responsible for having read prev under whatever serialization the store
// provides; Build itself holds no locks.
func (b *Builder) Build(resourceID string, metadata map[string]any, createdBy string, prev *Entry) (*Entry, error) {
	if resourceID == "" {
		return nil, ErrInvalidResourceID
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	meta, err := CanonicalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	if prev != nil {
		prevHash = prev.EntryHash
	}

	createdAt := b.now().UTC().Truncate(time.Second)
	ts := createdAt.Format(hashTimeLayout)

	entry := &Entry{
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedBy:  createdBy,
		CreatedAt:  createdAt,
		PrevHash:   prevHash,
		EntryHash:  computeEntryHash(prevHash, resourceID, meta, ts, createdBy),
	}
	if b.signer != nil {
		entry.Signature = b.signer.Sign(entry.EntryHash)
	}
	return entry, nil
}
