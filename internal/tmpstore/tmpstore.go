// Package tmpstore provides a scoped local file store for content that is
// staged between download and deposit. Each scope is an opaque directory
// that is removed as a unit.
package tmpstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store manages scoped directories under a base path.
type Store struct {
	base string
}

// New creates a store rooted at base, creating the directory if needed.
func New(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp store dir: %w", err)
	}
	return &Store{base: base}, nil
}

// NewScope allocates a fresh scope and returns its id.
func (s *Store) NewScope() (string, error) {
	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Join(s.base, id), 0o755); err != nil {
		return "", fmt.Errorf("create scope dir: %w", err)
	}
	return id, nil
}

// Put writes the stream to a file inside the scope and returns its absolute
// path.
func (s *Store) Put(scope, filename string, src io.Reader) (string, error) {
	path := s.Path(scope, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filename, err)
	}

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", filename, err)
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", filename, err)
	}

	return path, nil
}

// Path returns the absolute path a file in the scope would have.
func (s *Store) Path(scope, filename string) string {
	return filepath.Join(s.base, scope, filepath.Base(filename))
}

// Delete removes the scope and everything in it.
func (s *Store) Delete(scope string) error {
	return os.RemoveAll(filepath.Join(s.base, scope))
}
