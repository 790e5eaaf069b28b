package llmcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per entry under a root directory. Writes go
// to a temp file in the same directory and land via rename, so readers see
// either no entry or a complete one.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed and returns the store.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory entries are stored under.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.root, digest+".json")
}

// Get reads the entry for digest, or ErrNotFound.
func (s *FileStore) Get(_ context.Context, digest string) (*Entry, error) {
	data, err := os.ReadFile(s.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}

	return &e, nil
}

// Put writes the entry for digest. Racing writers of the same digest both
// succeed; the last rename wins.
func (s *FileStore) Put(_ context.Context, digest string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, digest+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(digest)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish entry: %w", err)
	}

	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }
