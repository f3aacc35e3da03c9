package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage keeps items in a single JSON document on disk, the closest
// analogue of a device's app-private key-value store.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) (*FileStorage, error) {
	const op = "storage.NewFileStorage"

	if path == "" {
		return nil, fmt.Errorf("%s: empty path", op)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &FileStorage{path: path}, nil
}

func (f *FileStorage) GetItem(_ context.Context, key string) (string, error) {
	const op = "storage.FileStorage.GetItem"

	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	value, ok := items[key]
	if !ok {
		return "", ErrNotFound
	}

	return value, nil
}

func (f *FileStorage) SetItem(ctx context.Context, key, value string) error {
	return f.SetItems(ctx, map[string]string{key: value})
}

func (f *FileStorage) RemoveItem(ctx context.Context, key string) error {
	return f.RemoveItems(ctx, key)
}

func (f *FileStorage) SetItems(_ context.Context, set map[string]string) error {
	const op = "storage.FileStorage.SetItems"

	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for k, v := range set {
		items[k] = v
	}

	if err := f.write(items); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (f *FileStorage) RemoveItems(_ context.Context, keys ...string) error {
	const op = "storage.FileStorage.RemoveItems"

	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, k := range keys {
		delete(items, k)
	}

	if err := f.write(items); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (f *FileStorage) Close() error { return nil }

func (f *FileStorage) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	items := map[string]string{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}

	return items, nil
}

// write replaces the file through a rename so a crash never leaves a
// truncated document behind.
func (f *FileStorage) write(items map[string]string) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".mailportal-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}
