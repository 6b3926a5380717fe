package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bgm-archive/archiver/internal/store"
)

// FileStore keeps a single watermark in a plain-text file. The converter
// places it inside the target working tree so it is committed with every
// target commit. The key is not written; use one FileStore per scope.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get reads the stored commit. A missing or empty file means unset.
func (f *FileStore) Get(_ context.Context, _ string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	commit := strings.TrimSpace(string(data))
	return commit, commit != "", nil
}

// Set writes the commit via a temporary file and rename.
func (f *FileStore) Set(_ context.Context, _ string, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create watermark directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".watermark-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(commit + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close watermark: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod watermark: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace watermark: %w", err)
	}
	return nil
}

// DBStore keeps watermarks in the database meta table.
type DBStore struct {
	st *store.Store
}

// NewDBStore returns a DBStore over st.
func NewDBStore(st *store.Store) *DBStore {
	return &DBStore{st: st}
}

// Get reads the meta row for key.
func (d *DBStore) Get(ctx context.Context, key string) (string, bool, error) {
	commit, err := d.st.GetMeta(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return commit, true, nil
}

// Set upserts the meta row for key.
func (d *DBStore) Set(ctx context.Context, key, commit string) error {
	return d.st.SetMeta(ctx, key, commit)
}
