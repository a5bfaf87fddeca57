package bodystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileScheme prefixes body locations on the local file system
const FileScheme = "file://"

// FileStore keeps bodies as files. Locations are file:// URLs.
type FileStore struct{}

// NewFileStore creates a file store
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Accepts reports whether the location is a file:// location
func (s *FileStore) Accepts(location string) bool {
	return strings.HasPrefix(location, FileScheme)
}

// Save writes the body to a new file in the base directory
func (s *FileStore) Save(_ context.Context, base string, r io.Reader) (string, error) {
	dir := Path(base)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating body directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".msg")
	if err := writeFile(path, r); err != nil {
		return "", err
	}
	return FileScheme + path, nil
}

// Load opens the body file
func (s *FileStore) Load(_ context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(Path(location))
	if err != nil {
		return nil, fmt.Errorf("opening body: %w", err)
	}
	return f, nil
}

// Update replaces the body file
func (s *FileStore) Update(_ context.Context, location string, r io.Reader) error {
	return writeFile(Path(location), r)
}

// Delete removes the body file; a missing file is not an error
func (s *FileStore) Delete(_ context.Context, location string) error {
	if err := os.Remove(Path(location)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting body: %w", err)
	}
	return nil
}

// Path converts a file:// location to a file system path
func Path(location string) string {
	return filepath.FromSlash(strings.TrimPrefix(location, FileScheme))
}

// writeFile writes through a temporary file so readers never see a partial body
func writeFile(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".body-*")
	if err != nil {
		return fmt.Errorf("creating body file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing body file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("moving body file: %w", err)
	}
	return nil
}
