package papers

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello World", "Hello World"},
		{"Test123", "Test123"},
		{"File_Name-2024", "File_Name-2024"},
		{`<script>alert("xss")</script>`, "scriptalertxssscript"},
		{"../../etc/passwd", "etcpasswd"},
		{"name!@#$%^&*()", "name"},
		{"'; DROP TABLE users; --", " DROP TABLE users --"},
		{"test   ", "test"},
		{"  test  ", "  test"},
		{"test\n", "test"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func sampleTags() Tags {
	return Tags{
		Class:    "BSc-CS",
		Subject:  "Algorithms",
		Semester: "3",
		Year:     "2024",
		ExamType: "Final",
		Medium:   "English",
		Uploader: "alice",
	}
}

func TestEncodeParse_roundTrip(t *testing.T) {
	name, err := EncodeFilename(sampleTags(), "midterm.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if name != "[BSc-CS]_[Algorithms]_[Sem-3]_[2024]_[Final]_[English]_[alice]_midterm.pdf" {
		t.Errorf("unexpected encoded name: %s", name)
	}

	p, ok := ParseFilename(name)
	if !ok {
		t.Fatalf("encoded name did not parse: %s", name)
	}
	if p.Class != "BSc-CS" || p.Subject != "Algorithms" || p.Semester != "3" ||
		p.Year != "2024" || p.ExamType != "Final" || p.Medium != "English" ||
		p.Uploader != "alice" || p.OriginalName != "midterm.pdf" {
		t.Errorf("parsed fields wrong: %+v", p)
	}
	if p.URL != "/uploads/"+name {
		t.Errorf("url: got %s", p.URL)
	}
}

func TestEncodeFilename_emptyTag(t *testing.T) {
	tags := sampleTags()
	tags.Subject = "!!!" // sanitizes to nothing
	if _, err := EncodeFilename(tags, "x.pdf"); !errors.Is(err, ErrMissingTag) {
		t.Errorf("expected ErrMissingTag, got %v", err)
	}
}

func TestEncodeFilename_tooLong(t *testing.T) {
	tags := sampleTags()
	tags.Subject = strings.Repeat("a", 300)
	if _, err := EncodeFilename(tags, "x.pdf"); !errors.Is(err, ErrFilenameTooLong) {
		t.Errorf("expected ErrFilenameTooLong, got %v", err)
	}
}

func TestParseFilename_rejectsUnencoded(t *testing.T) {
	for _, name := range []string{
		"plain.pdf",
		"[a]_[b]_missing-tags.pdf",
		"[a]_[b]_[c]_[d]_[e]_[f]_[g]_not-a-pdf.txt",
	} {
		if _, ok := ParseFilename(name); ok {
			t.Errorf("ParseFilename(%q) unexpectedly matched", name)
		}
	}
}

func TestArchive_saveAndList(t *testing.T) {
	a, err := NewArchive(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	stored, err := a.Save(strings.NewReader("%PDF-1.4"), sampleTags(), "midterm.pdf")
	if err != nil {
		t.Fatal(err)
	}

	list, err := a.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 paper, got %d", len(list))
	}
	if list[0].URL != "/uploads/"+stored {
		t.Errorf("listing url: got %s", list[0].URL)
	}
}

func TestArchive_rejectsNonPDF(t *testing.T) {
	a, err := NewArchive(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Save(strings.NewReader("x"), sampleTags(), "notes.txt"); !errors.Is(err, ErrNotPDF) {
		t.Errorf("expected ErrNotPDF, got %v", err)
	}
}
