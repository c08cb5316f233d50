package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haldvik/skribo/internal/document"
)

var errMissingFilePath = errors.New("persistence: file path is required")

// FileAdapter persists the archive as one JSON file, rewritten wholesale on
// every save via a temp file and rename.
type FileAdapter struct {
	path string
}

// NewFile constructs a file-backed adapter.
func NewFile(path string) (*FileAdapter, error) {
	if path == "" {
		return nil, errMissingFilePath
	}
	return &FileAdapter{path: path}, nil
}

// Load reads and decodes the archive. A missing file is not an error; it
// yields an empty archive so a fresh deployment starts clean.
func (a *FileAdapter) Load(_ context.Context) (document.Archive, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return document.NewArchive(), nil
	}
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: read %s: %w", a.path, err)
	}
	archive, err := document.ParseArchive(data)
	if err != nil {
		return document.Archive{}, fmt.Errorf("persistence: decode %s: %w", a.path, err)
	}
	return archive, nil
}

// Save writes the archive atomically relative to readers of the target path.
func (a *FileAdapter) Save(_ context.Context, archive document.Archive) error {
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: encode archive: %w", err)
	}

	dir := filepath.Dir(a.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(a.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: replace %s: %w", a.path, err)
	}
	return nil
}
