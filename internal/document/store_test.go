package document

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSaveUsesTaskIDOnly(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	path, err := s.Save("abc-123", ".PDF", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if want := filepath.Join(dir, "abc-123.pdf"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestSaveRejectsTraversal(t *testing.T) {
	s := NewStore(t.TempDir())
	cases := []struct {
		id, ext string
		want    error
	}{
		{"../evil", ".pdf", ErrInvalidTaskID},
		{"a/b", ".pdf", ErrInvalidTaskID},
		{"", ".pdf", ErrInvalidTaskID},
		{"ok", "/../../etc", ErrInvalidExtension},
		{"ok", "pdf", ErrInvalidExtension},
	}
	for _, c := range cases {
		if _, err := s.Save(c.id, c.ext, strings.NewReader("x")); !errors.Is(err, c.want) {
			t.Fatalf("Save(%q,%q) err = %v, want %v", c.id, c.ext, err, c.want)
		}
	}
}

func TestDeleteIsBestEffort(t *testing.T) {
	s := NewStore(t.TempDir())
	path, err := s.Save("t1", ".pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(path); err != nil {
		t.Fatalf("delete of missing file should succeed, got %v", err)
	}
}

func TestOrphansFiltersByAge(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	oldID, freshID := uuid.NewString(), uuid.NewString()
	oldPath, _ := s.Save(oldID, ".pdf", strings.NewReader("x"))
	if _, err := s.Save(freshID, ".pdf", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	orphans, err := s.Orphans(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].TaskID != oldID || orphans[0].Path != oldPath {
		t.Fatalf("expected only the old document, got %+v", orphans)
	}
}

func TestOrphansIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "pdf", ".DOCX")
	id := uuid.NewString()
	docPath, err := s.Save(id, ".docx", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	foreign := []string{
		"analysis.db",
		"analysis.db-wal",
		"analysis.db-shm",
		"notes.pdf",
		id + ".txt",
		strings.ToUpper(id) + ".pdf",
		"{" + id + "}.pdf",
		"urn:uuid:" + id + ".pdf",
	}
	past := time.Now().Add(-2 * time.Hour)
	for _, name := range append(foreign, filepath.Base(docPath)) {
		p := filepath.Join(dir, name)
		if name != filepath.Base(docPath) {
			if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
				t.Fatalf("write %s: %v", name, err)
			}
		}
		if err := os.Chtimes(p, past, past); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	orphans, err := s.Orphans(time.Now())
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].TaskID != id {
		t.Fatalf("expected only the stored document, got %+v", orphans)
	}
}

func TestOrphansMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	orphans, err := s.Orphans(time.Now())
	if err != nil || len(orphans) != 0 {
		t.Fatalf("expected empty result for missing dir, got %v, %v", orphans, err)
	}
}
