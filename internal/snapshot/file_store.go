package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const filePattern = "contacts-*.vcf"

// FileStore keeps the aggregate in a transient file that is created once and
// rewritten atomically on every publish.
type FileStore struct {
	path string
}

// NewFileStore creates a fresh transient file in dir (os.TempDir when empty).
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	f, err := os.CreateTemp(dir, filePattern)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: create file: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the transient file path.
func (s *FileStore) Path() string { return s.path }

// Write writes to a temp file in the same directory, then renames it over the
// transient file (atomic on Linux).
func (s *FileStore) Write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Remove deletes the transient file. A missing file is not an error.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

var _ Store = (*FileStore)(nil)
