package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	fileutil "findoc/internal/file"
)

var (
	ErrInvalidTaskID    = errors.New("invalid task id")
	ErrInvalidExtension = errors.New("invalid extension")
)

// Entry describes a stored document found on disk.
type Entry struct {
	TaskID  string
	Path    string
	ModTime time.Time
}

// Store keeps uploaded documents under a single directory, one file per task.
// The file name is derived from the task id only, never from user input.
type Store struct {
	dir        string
	extensions map[string]struct{}
}

// NewStore returns a store rooted at dir. extensions lists the document
// types it holds (".pdf" when none are given); Orphans ignores anything else.
func NewStore(dir string, extensions ...string) *Store {
	if dir == "" {
		dir = "data"
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	if len(exts) == 0 {
		exts[".pdf"] = struct{}{}
	}
	return &Store{dir: dir, extensions: exts}
}

// Dir returns the directory documents are written to.
func (s *Store) Dir() string { return s.dir }

// PathFor maps a task id and extension to its storage path.
func (s *Store) PathFor(taskID, ext string) (string, error) {
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}
	ext = strings.ToLower(ext)
	if ext != "" && (!strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) || strings.Contains(ext, "..")) {
		return "", fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
	}
	return filepath.Join(s.dir, taskID+ext), nil
}

// Save writes the document atomically and returns its path.
func (s *Store) Save(taskID, ext string, content io.Reader) (string, error) {
	path, err := s.PathFor(taskID, ext)
	if err != nil {
		return "", err
	}
	if _, err := fileutil.CopyAtomic(path, content); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	return path, nil
}

// Delete removes a stored document; a missing file is not an error.
func (s *Store) Delete(path string) error {
	return fileutil.RemoveIfExists(path) //nolint:wrapcheck
}

// Orphans lists stored documents last modified before cutoff. Only files
// named <uuid><ext> with a known extension count as documents, so other
// files sharing the directory (a database, temp files) are never listed.
func (s *Store) Orphans(cutoff time.Time) ([]Entry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	found := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		taskID, ok := s.documentTaskID(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		name := e.Name()
		found = append(found, Entry{
			TaskID:  taskID,
			Path:    filepath.Join(s.dir, name),
			ModTime: info.ModTime(),
		})
	}
	return found, nil
}

// documentTaskID returns the task id encoded in a document file name.
func (s *Store) documentTaskID(name string) (string, bool) {
	ext := filepath.Ext(name)
	if _, ok := s.extensions[strings.ToLower(ext)]; !ok {
		return "", false
	}
	stem := strings.TrimSuffix(name, ext)
	id, err := uuid.Parse(stem)
	if err != nil || id.String() != stem {
		return "", false
	}
	return stem, true
}

func validateTaskID(taskID string) error {
	if taskID == "" || taskID == "." || strings.Contains(taskID, "..") || strings.ContainsAny(taskID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}
	return nil
}
