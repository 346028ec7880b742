package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// hashTimeLayout is the timestamp format folded into the entry hash:
// UTC, whole seconds, trailing Z. Sub-second precision is deliberately
// dropped so the hash input is reproducible from the stored created_at.
const hashTimeLayout = "2006-01-02T15:04:05Z"

// Entry is a single record in a resource's metadata chain. Entries are
// immutable once appended; EntryHash is both the entry's identity and
// the PrevHash link of its successor.
type Entry struct {
	ID         int64          `json:"id"`
	ResourceID string         `json:"resource_id"`
	Metadata   map[string]any `json:"metadata"`
	CreatedBy  string         `json:"created_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	PrevHash   string         `json:"prev_hash"`
	EntryHash  string         `json:"entry_hash"`
	Signature  string         `json:"signature,omitempty"`
	AnchorTx   string         `json:"anchor_tx,omitempty"`
}

// CanonicalMetadata serializes metadata to its canonical text form:
// sorted keys, "," and ":" separators, no insignificant whitespace,
// no HTML escaping. Identical documents always produce identical text,
// which is what makes the entry hash recomputable from stored fields.
//
// Numeric values decoded with json.Number survive the round trip with
// their original literal spelling intact.
func CanonicalMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metadata); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	// Encoder appends a newline; it is not part of the canonical form.
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// computeEntryHash returns the hex SHA-256 over the pipe-joined hash input.
// createdAt must already be formatted with hashTimeLayout.
func computeEntryHash(prevHash, resourceID, canonicalMeta, createdAt, createdBy string) string {
	input := strings.Join([]string{prevHash, resourceID, canonicalMeta, createdAt, createdBy}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Recompute derives the entry hash from the entry's stored fields alone.
// For an untampered entry it equals EntryHash.
func (e *Entry) Recompute() (string, error) {
	meta, err := CanonicalMetadata(e.Metadata)
	if err != nil {
		return "", err
	}
	ts := e.CreatedAt.UTC().Format(hashTimeLayout)
	return computeEntryHash(e.PrevHash, e.ResourceID, meta, ts, e.CreatedBy), nil
}
