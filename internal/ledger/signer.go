package ledger

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// signIterations is the PBKDF2 iteration count. It is a fixed computational
// cost floor: recovering the signing key from leaked signatures requires
// paying it per guess. Changing it invalidates every existing signature.
const signIterations = 100_000

// Signer produces keyed integrity codes over entry hashes using
// PBKDF2-HMAC-SHA256 with the server-held signing key as salt.
// A Signer built from an empty key is disabled: Sign returns "" and
// Verify accepts only an empty signature.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from the configured signing key.
// An empty key yields a disabled signer.
func NewSigner(key string) *Signer {
	if key == "" {
		return &Signer{}
	}
	return &Signer{key: []byte(key)}
}

// Enabled reports whether a signing key is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// Sign derives the hex-encoded signature for an entry hash.
func (s *Signer) Sign(entryHash string) string {
	if !s.Enabled() {
		return ""
	}
	dk := pbkdf2.Key([]byte(entryHash), s.key, signIterations, sha256.Size, sha256.New)
	return hex.EncodeToString(dk)
}

// Verify checks a signature against an entry hash in constant time.
func (s *Signer) Verify(entryHash, signature string) bool {
	if !s.Enabled() {
		return signature == ""
	}
	expected := s.Sign(entryHash)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
