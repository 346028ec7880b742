package papers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrNotPDF is returned when an upload is not a PDF file.
var ErrNotPDF = errors.New("only PDF files are accepted")

// Archive stores tag-encoded exam papers in a directory and lists them
// by parsing the names back.
type Archive struct {
	dir    string
	logger *zap.Logger
}

// NewArchive creates the archive directory if needed.
func NewArchive(dir string, logger *zap.Logger) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: dir, logger: logger}, nil
}

// IsPDF reports whether filename has a .pdf extension.
func IsPDF(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

// Save persists an upload under its tag-encoded name and returns that
// name. originalName is the client-supplied filename; it must already
// have been reduced to a safe base name by the caller.
func (a *Archive) Save(r io.Reader, t Tags, originalName string) (string, error) {
	if !IsPDF(originalName) {
		return "", ErrNotPDF
	}
	name, err := EncodeFilename(t, originalName)
	if err != nil {
		return "", err
	}

	path := filepath.Join(a.dir, name)
	// Re-uploading the same paper replaces the previous copy.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()       //nolint:errcheck
		os.Remove(path) //nolint:errcheck
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	a.logger.Info("paper archived", zap.String("stored_as", name))
	return name, nil
}

// List scans the archive directory and returns every parseable paper.
// Files that do not follow the tag encoding are skipped, not errors.
func (a *Archive) List() ([]Paper, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}

	out := make([]Paper, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
