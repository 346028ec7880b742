// Package papers implements the exam-paper archive. Tags are encoded
// into the stored filename as bracketed segments and recovered by
// parsing, so the filesystem itself is the index.
package papers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// maxFilenameLen caps generated filenames; most filesystems refuse
// longer names.
const maxFilenameLen = 255

var (
	// ErrMissingTag is returned when a required tag is empty after
	// sanitization.
	ErrMissingTag = errors.New("required tag is empty")

	// ErrFilenameTooLong is returned when the encoded filename exceeds
	// the filesystem limit.
	ErrFilenameTooLong = errors.New("generated filename too long")
)

// filenamePattern matches the seven bracketed tags followed by the
// original PDF name.
var filenamePattern = regexp.MustCompile(
	`(?i)^\[(.*?)\]_\[(.*?)\]_\[(.*?)\]_\[(.*?)\]_\[(.*?)\]_\[(.*?)\]_\[(.*?)\]_(.*\.pdf)$`)

// Tags are the required attributes of an uploaded exam paper.
type Tags struct {
	Class    string
	Subject  string
	Semester string
	Year     string
	ExamType string
	Medium   string
	Uploader string
}

// Paper is the parsed listing form of one archived file.
type Paper struct {
	Class        string `json:"class"`
	Subject      string `json:"subject"`
	Semester     string `json:"semester"`
	Year         string `json:"year"`
	ExamType     string `json:"exam_type"`
	Medium       string `json:"medium"`
	Uploader     string `json:"uploader"`
	OriginalName string `json:"original_name"`
	URL          string `json:"url"`
}

// Sanitize strips everything except letters, digits, spaces, underscores
// and hyphens, then trims trailing spaces. Applied to every tag before it
// is embedded in a filename.
func Sanitize(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// sanitized returns the tags in encoding order, sanitized, with the
// semester rewritten to its "Sem-N" file form.
func (t Tags) sanitized() []string {
	return []string{
		Sanitize(t.Class),
		Sanitize(t.Subject),
		"Sem-" + Sanitize(t.Semester),
		Sanitize(t.Year),
		Sanitize(t.ExamType),
		Sanitize(t.Medium),
		Sanitize(t.Uploader),
	}
}

// Validate checks that every tag survives sanitization non-empty.
func (t Tags) Validate() error {
	for _, v := range []string{t.Class, t.Subject, t.Semester, t.Year, t.ExamType, t.Medium, t.Uploader} {
		if Sanitize(v) == "" {
			return ErrMissingTag
		}
	}
	return nil
}

// EncodeFilename builds the tag-prefixed stored name for an upload.
// originalName must already be a safe base name.
func EncodeFilename(t Tags, originalName string) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	segments := make([]string, 0, 7)
	for _, tag := range t.sanitized() {
		segments = append(segments, "["+tag+"]")
	}
	name := fmt.Sprintf("%s_%s", strings.Join(segments, "_"), originalName)
	if len(name) > maxFilenameLen {
		return "", ErrFilenameTooLong
	}
	return name, nil
}

// ParseFilename recovers a Paper from a stored filename. The second
// return value is false for files that do not follow the tag encoding.
func ParseFilename(name string) (*Paper, bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	return &Paper{
		Class:        m[1],
		Subject:      m[2],
		Semester:     strings.TrimPrefix(m[3], "Sem-"),
		Year:         m[4],
		ExamType:     m[5],
		Medium:       m[6],
		Uploader:     m[7],
		OriginalName: m[8],
		URL:          "/uploads/" + name,
	}, true
}
