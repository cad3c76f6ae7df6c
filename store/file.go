package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File is a Store keeping one file per key under a directory. Keys are
// sanitized into file names; values are written atomically via rename.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a file-backed store rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

// Get reads the file for key. A missing file means absent.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("file store: read %q: %w", key, err)
	}
	return data, true, nil
}

// Set writes value to a temp file then renames it into place.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("file store: write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file store: rename %q: %w", key, err)
	}
	return nil
}

// Remove deletes the file for key.
func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file store: remove %q: %w", key, err)
	}
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

// sanitizeKey keeps file names portable. Colons are the conventional
// key separator and map to double underscores.
func sanitizeKey(key string) string {
	r := strings.NewReplacer(":", "__", "/", "_", "\\", "_", "..", "_")
	return r.Replace(key)
}

var _ Store = (*File)(nil)
