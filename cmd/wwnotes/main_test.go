package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wwnotes-sync/internal/domain"
)

func TestPrintDocuments_Table(t *testing.T) {
	var buf bytes.Buffer
	docs := []domain.Document{{
		ID:         "p1",
		Title:      "Calc Notes",
		Subject:    "math",
		DocType:    "notes",
		Year:       2024,
		File:       domain.FileRef{ByteSize: 2048},
		UploadedAt: time.Now().Add(-2 * time.Hour),
	}}

	if err := printDocuments(&buf, docs, false); err != nil {
		t.Fatalf("printDocuments() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "p1", "Calc Notes", "math", "2024", "2.0 kB", "hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}
}

func TestPrintDocuments_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := printDocuments(&buf, nil, false); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "No documents found." {
		t.Errorf("unexpected empty output %q", buf.String())
	}
}

func TestPrintDocuments_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printDocuments(&buf, []domain.Document{{ID: "p1", Title: "A"}}, true); err != nil {
		t.Fatal(err)
	}
	var out []domain.DocumentResponse
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 1 || out[0].ID != "p1" {
		t.Errorf("unexpected json output %+v", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("a very long title indeed", 8); got != "a very…" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"list", "search", "sync", "register"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}
}

func TestRegisterAndList_LocalOnly(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	t.Setenv("REMOTE_BACKEND", "none")
	t.Setenv("LOCAL_BACKEND", "file")
	t.Setenv("LOCAL_DIR", dir)
	t.Setenv("NOTIFIER_CHANNELS", "storage")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"register", "--url", "https://cdn/organic.pdf", "--public-id", "chem-1", "--file-name", "organic_chem.pdf"})
	if err := root.Execute(); err != nil {
		t.Fatalf("register: %v", err)
	}

	out.Reset()
	root = newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"search", "organic"})
	if err := root.Execute(); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out.String(), "chem-1") || !strings.Contains(out.String(), "chemistry") {
		t.Errorf("expected registered document in search output:\n%s", out.String())
	}
}
