package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/tcgdex-snapshot/pkg/pricing"
	"github.com/shopspring/decimal"
)

func sampleRow(id string) pricing.Row {
	return pricing.Row{
		ID:           id,
		Name:         "Furret",
		Number:       "136/189",
		Avg1EUR:      "2.00",
		Avg1USD:      decimal.RequireFromString("2.20"),
		Updated:      "2026-10-18T00:00:00.000Z",
		RunTimestamp: "2026-10-19T06:00:00.000000+00:00",
		Rate:         "1.1",
	}
}

func TestNewWriter_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if buf.String() != pricing.Header+"\n" {
		t.Errorf("output = %q", buf.String())
	}
	if w.Count() != 0 {
		t.Errorf("Count() = %d, want 0", w.Count())
	}
}

func TestWriter_StreamsRows(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}

	if err := w.Write(sampleRow("a")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	// rows are visible before Close
	if !strings.Contains(buf.String(), "\na,") {
		t.Errorf("row not flushed: %q", buf.String())
	}

	n, err := w.WriteAll([]pricing.Row{sampleRow("b"), sampleRow("c")})
	if err != nil || n != 2 {
		t.Fatalf("WriteAll() = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if lines[0] != pricing.Header {
		t.Errorf("header = %q", lines[0])
	}
	expected := `c,"Furret",136/189,2.00,2.20,2026-10-18T00:00:00.000Z,2026-10-19T06:00:00.000000+00:00,1.1`
	if lines[3] != expected {
		t.Errorf("row = %q, want %q", lines[3], expected)
	}
	if w.Count() != 3 {
		t.Errorf("Count() = %d, want 3", w.Count())
	}
}

type failingWriter struct {
	after int
	n     int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.n++
	if f.n > f.after {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func TestWriter_WriteFailure(t *testing.T) {
	w, err := NewWriter(&failingWriter{after: 1})
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}

	n, err := w.WriteAll([]pricing.Row{sampleRow("a"), sampleRow("b")})
	if err == nil || n != 0 {
		t.Errorf("WriteAll() = %d, %v; want failure on first row", n, err)
	}
	if w.Count() != 0 {
		t.Errorf("Count() = %d after failed write", w.Count())
	}

	if _, err := NewWriter(&failingWriter{}); err == nil {
		t.Error("NewWriter() should fail when the header cannot be written")
	}
}

func TestCreate_OverwritesAndCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "daily", DefaultPath)

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := w.WriteAll([]pricing.Row{sampleRow("a"), sampleRow("b")}); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if w.Path() != path {
		t.Errorf("Path() = %q", w.Path())
	}

	// a second run replaces the previous artifact
	w, err = Create(path)
	if err != nil {
		t.Fatalf("Create() second run: %v", err)
	}
	if err := w.Write(sampleRow("z")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "z,") {
		t.Errorf("artifact after second run = %q", string(data))
	}
}

func TestCreate_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Create(filepath.Join(blocker, "out.csv")); err == nil {
		t.Error("Create() under a regular file should fail")
	}
}
