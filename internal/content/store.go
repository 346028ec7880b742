// Package content stores uploaded binary objects on disk under generated
// unique names and reports the SHA-256 of the exact persisted bytes.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnsafeFilename is returned for names that are empty or attempt
	// path traversal.
	ErrUnsafeFilename = errors.New("unsafe filename")

	// ErrExtensionNotAllowed is returned when the file's extension is not
	// on the store's whitelist.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

// SavedFile describes one persisted object. SHA256 is the object's own
// content hash, independent of any ledger entry hash that later
// references it.
type SavedFile struct {
	Field    string `json:"field,omitempty"`
	Filename string `json:"filename"`
	StoredAs string `json:"stored_as"`
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
}

// Store writes objects into a single directory. Stored names are
// timestamp-and-uuid prefixed so they never collide and never escape
// the directory.
type Store struct {
	dir     string
	allowed map[string]struct{}
	now     func() time.Time
}

// NewStore creates the storage directory if needed. allowedExts lists
// acceptable extensions without the leading dot ("pdf", "png", ...).
func NewStore(dir string, allowedExts []string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	allowed := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		allowed[strings.ToLower(ext)] = struct{}{}
	}
	return &Store{dir: dir, allowed: allowed, now: time.Now}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Allowed reports whether filename carries a whitelisted extension.
func (s *Store) Allowed(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return false
	}
	_, ok := s.allowed[strings.ToLower(filename[i+1:])]
	return ok
}

// ValidName rejects names that are empty or could traverse out of the
// storage directory.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}

// SecureFilename reduces an arbitrary client-supplied filename to a safe
// base name: path components stripped, anything outside [A-Za-z0-9._-]
// replaced with "_", leading dots removed.
func SecureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "file"
	}
	return out
}

// Save persists r under a fresh unique name and returns the stored name
// together with the SHA-256 of the bytes actually written. On any error
// the partially written file is removed.
func (s *Store) Save(r io.Reader, originalName string) (*SavedFile, error) {
	if !ValidName(originalName) {
		return nil, ErrUnsafeFilename
	}
	if !s.Allowed(originalName) {
		return nil, ErrExtensionNotAllowed
	}

	secure := SecureFilename(originalName)
	storedAs := fmt.Sprintf("%s-%s-%s",
		s.now().UTC().Format("20060102150405"),
		uuid.NewString()[:8],
		secure,
	)
	path := filepath.Join(s.dir, storedAs)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", storedAs, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()           //nolint:errcheck
		os.Remove(path)     //nolint:errcheck
		return nil, fmt.Errorf("write %s: %w", storedAs, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path) //nolint:errcheck
		return nil, fmt.Errorf("close %s: %w", storedAs, err)
	}

	return &SavedFile{
		Filename: secure,
		StoredAs: storedAs,
		Path:     path,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Path resolves a stored name to its on-disk path, rejecting traversal
// attempts and names that were never written by this store's whitelist.
func (s *Store) Path(storedName string) (string, error) {
	if !ValidName(storedName) || !s.Allowed(storedName) {
		return "", ErrUnsafeFilename
	}
	path := filepath.Join(s.dir, storedName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat %s: %w", storedName, err)
	}
	return path, nil
}

// Remove deletes a stored object. Used to roll back attachments when the
// ledger append they belong to fails.
func (s *Store) Remove(storedName string) error {
	if !ValidName(storedName) {
		return ErrUnsafeFilename
	}
	return os.Remove(filepath.Join(s.dir, storedName))
}
