package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestTitleFromFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "underscores and extension", in: "calc_notes.pdf", want: "Calc Notes"},
		{name: "hyphens", in: "organic-chem-week-1.docx", want: "Organic Chem Week 1"},
		{name: "empty", in: "", want: "Untitled Document"},
		{name: "only extension", in: ".pdf", want: "Untitled Document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromFilename(tt.in); got != tt.want {
				t.Errorf("TitleFromFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGuessSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Calculus_Final.pdf", "math"},
		{"thermodynamics.docx", "physics"},
		{"my_resume.pdf", "resume"},
		{"random.pdf", "general"},
		{"", "general"},
	}

	for _, tt := range tests {
		if got := GuessSubject(tt.in); got != tt.want {
			t.Errorf("GuessSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractTags(t *testing.T) {
	got := ExtractTags("Linear Algebra Review", "eigenvalues and the spectral theorem for matrices")
	want := []string{"linear", "algebra", "review", "eigenvalues", "spectral"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractTags() = %v, want %v", got, want)
	}

	if tags := ExtractTags("", ""); tags == nil || len(tags) != 0 {
		t.Errorf("expected empty non-nil tags, got %#v", tags)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	doc := Normalize(Document{
		File: FileRef{OriginalFileName: "calculus_notes.PDF"},
	}, fixedNow)

	if doc.Title != "Calculus Notes" {
		t.Errorf("expected derived title, got %q", doc.Title)
	}
	if doc.Subject != "math" {
		t.Errorf("expected subject math, got %q", doc.Subject)
	}
	if doc.DocType != DefaultDocType {
		t.Errorf("expected docType %q, got %q", DefaultDocType, doc.DocType)
	}
	if doc.Year != 2025 {
		t.Errorf("expected current year, got %d", doc.Year)
	}
	if doc.File.Format != "pdf" {
		t.Errorf("expected format from extension, got %q", doc.File.Format)
	}
	if doc.File.FileName != "calculus_notes.PDF" {
		t.Errorf("expected file name mirrored from original, got %q", doc.File.FileName)
	}
	if doc.ID == "" {
		t.Error("expected a derived identity")
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	once := Normalize(Document{
		Title: "  Physics Lab  ",
		Tags:  []string{" lab ", "", "lab"},
		File:  FileRef{FileName: "lab.pdf"},
	}, fixedNow)
	twice := Normalize(once, fixedNow)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Normalize is not idempotent:\n once=%+v\ntwice=%+v", once, twice)
	}
	if !reflect.DeepEqual(once.Tags, []string{"lab", "lab"}) {
		t.Errorf("expected trimmed tags with duplicates preserved, got %v", once.Tags)
	}
}

func TestNormalize_ContentIDIsStable(t *testing.T) {
	raw := Document{Title: "Notes", File: FileRef{RemoteURL: "https://cdn/x.pdf"}}
	a := Normalize(raw, fixedNow)
	b := Normalize(raw, fixedNow)
	if a.ID != b.ID {
		t.Errorf("expected stable derived id, got %q and %q", a.ID, b.ID)
	}
}

func TestDocument_UnmarshalLegacyRecord(t *testing.T) {
	raw := `{
		"id": "doc_1700000000_abc",
		"cloudinaryPublicId": "world-wide-notes/calc",
		"title": "Calc",
		"type": "notes",
		"year": "2024",
		"university": "MIT",
		"cloudinaryUrl": "https://res.cloudinary.com/demo/image/upload/v1/calc.pdf",
		"fileName": "calc",
		"originalName": "calc.pdf",
		"fileType": "PDF",
		"fileSize": 2048,
		"uploadDate": "2024-01-01T00:00:00.000Z",
		"tags": ["math"]
	}`

	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal legacy record: %v", err)
	}

	if doc.ID != "world-wide-notes/calc" {
		t.Errorf("expected provider public id as identity, got %q", doc.ID)
	}
	if doc.Year != 2024 || doc.Institution != "MIT" || doc.DocType != "notes" {
		t.Errorf("unexpected metadata: %+v", doc)
	}
	if doc.File.ByteSize != 2048 || doc.File.Format != "pdf" || doc.File.OriginalFileName != "calc.pdf" {
		t.Errorf("unexpected file ref: %+v", doc.File)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !doc.UploadedAt.Equal(want) {
		t.Errorf("expected uploadedAt %v, got %v", want, doc.UploadedAt)
	}
}

func TestDocument_CanonicalRoundTrip(t *testing.T) {
	in := Normalize(Document{
		ID:         "x1",
		Title:      "Calc Notes",
		Tags:       []string{"a", "b"},
		File:       FileRef{RemoteURL: "https://cdn/x1.pdf", FileName: "x1.pdf", ByteSize: 10, Format: "pdf"},
		UploadedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Origin:     OriginRemote,
	}, fixedNow)

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestFileRef_DownloadURL(t *testing.T) {
	f := FileRef{RemoteURL: "https://res.cloudinary.com/demo/raw/upload/v1/a.pdf"}
	want := "https://res.cloudinary.com/demo/raw/upload/fl_attachment/v1/a.pdf"
	if got := f.DownloadURL(); got != want {
		t.Errorf("DownloadURL() = %q, want %q", got, want)
	}

	plain := FileRef{RemoteURL: "https://example.com/a.pdf"}
	if got := plain.DownloadURL(); got != plain.RemoteURL {
		t.Errorf("expected unchanged url, got %q", got)
	}
}

func TestRemoteError_Classification(t *testing.T) {
	transient := &RemoteError{Op: "fetch snapshot", StatusCode: 503, Err: ErrTransient}
	if !errors.Is(transient, ErrTransient) {
		t.Error("expected 503 to be transient")
	}

	missing := &RemoteError{Op: "fetch snapshot", StatusCode: 404, Err: ErrNotFound}
	if errors.Is(missing, ErrTransient) {
		t.Error("expected 404 not to be transient")
	}
	if !errors.Is(missing, ErrNotFound) {
		t.Error("expected 404 to be not-found")
	}
}
