package ledger

import "context"

// Reason classifies why a chain failed verification.
type Reason string

const (
	// ReasonHashMismatch: an entry's stored hash does not match the hash
	// recomputed from its stored fields.
	ReasonHashMismatch Reason = "hash_mismatch"
	// ReasonChainBreak: an entry's prev_hash does not match its
	// predecessor's entry_hash.
	ReasonChainBreak Reason = "chain_break"
	// ReasonSignatureMismatch: an entry's signature does not verify under
	// the configured signing key.
	ReasonSignatureMismatch Reason = "signature_mismatch"
)

// VerificationResult reports the outcome of a chain walk. A broken chain
// is an expected, reportable outcome, not an error: errors are reserved
// for failures to read the chain at all.
type VerificationResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
}

// Verifier walks a resource's chain and confirms it is internally
// consistent: every hash recomputes, every link holds, and (when a
// signing key is configured) every signature verifies.
type Verifier struct {
	store  Store
	signer *Signer
}

// NewVerifier creates a Verifier. signer may be nil when no signing key
// is configured; signatures are then not checked.
func NewVerifier(store Store, signer *Signer) *Verifier {
	return &Verifier{store: store, signer: signer}
}

// VerifyChain validates the full chain for a resource. The first
// inconsistency found wins; an empty chain is trivially valid.
func (v *Verifier) VerifyChain(ctx context.Context, resourceID string) (*VerificationResult, error) {
	chain, err := v.store.Chain(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	prevHash := ""
	for _, entry := range chain {
		if entry.PrevHash != prevHash {
			return &VerificationResult{Valid: false, BrokenAt: entry.EntryHash, Reason: ReasonChainBreak}, nil
		}

		recomputed, err := entry.Recompute()
		if err != nil || recomputed != entry.EntryHash {
			return &VerificationResult{Valid: false, BrokenAt: entry.EntryHash, Reason: ReasonHashMismatch}, nil
		}

		if v.signer.Enabled() && !v.signer.Verify(entry.EntryHash, entry.Signature) {
			return &VerificationResult{Valid: false, BrokenAt: entry.EntryHash, Reason: ReasonSignatureMismatch}, nil
		}

		prevHash = entry.EntryHash
	}
	return &VerificationResult{Valid: true}, nil
}
