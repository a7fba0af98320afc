package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one pretty-printed JSON file per key inside dir.
// Writes go to a temp file in the same directory and are renamed into
// place, so a crash mid-write never corrupts the previous value.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("kvstore: file store directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Key: dir, Err: err}
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Exists reports whether the key has a stored value.
func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, &StorageError{Op: "stat", Key: key, Err: err}
}

// ReadJSON decodes the stored value for key into out.
func (s *FileStore) ReadJSON(_ context.Context, key string, out any) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "read", Key: key, Err: ErrNotExist}
		}
		return &StorageError{Op: "read", Key: key, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &StorageError{Op: "decode", Key: key, Err: err}
	}
	return nil
}

// WriteJSON encodes value and atomically replaces the record file for key.
func (s *FileStore) WriteJSON(_ context.Context, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Key: key, Err: err}
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp.*")
	if err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Key: key, Err: err}
	}

	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Key: key, Err: fmt.Errorf("rename into place: %w", err)}
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }
