package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores each namespace as one JSON file in a directory.
type FileBackend struct {
	dir string
	mu  sync.RWMutex
}

// NewFileBackend creates a file backend rooted at dir.
// If dir is empty, defaults to ~/.sitebridge/storage
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".sitebridge", "storage")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(namespace string) string {
	return filepath.Join(b.dir, url.PathEscape(namespace)+".json")
}

func (b *FileBackend) Load(_ context.Context, namespace string) (map[string]json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.read(namespace)
}

func (b *FileBackend) read(namespace string) (map[string]json.RawMessage, error) {
	file, err := os.Open(b.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("failed to open storage file: %w", err)
	}
	defer file.Close()

	records := make(map[string]json.RawMessage)
	if err := json.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode storage file: %w", err)
	}
	return records, nil
}

// write replaces the namespace file atomically.
func (b *FileBackend) write(namespace string, records map[string]json.RawMessage) error {
	target := b.path(namespace)
	if len(records) == 0 {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove storage file: %w", err)
		}
		return nil
	}

	tempPath := target + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp storage file: %w", err)
	}
	if err := json.NewEncoder(file).Encode(records); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode storage: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (b *FileBackend) Put(_ context.Context, namespace, key string, value json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.read(namespace)
	if err != nil {
		return err
	}
	records[key] = value
	return b.write(namespace, records)
}

func (b *FileBackend) Delete(_ context.Context, namespace, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	records, err := b.read(namespace)
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return b.write(namespace, records)
}

func (b *FileBackend) Clear(_ context.Context, namespace string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(namespace, nil)
}

func (b *FileBackend) Close() error {
	return nil
}

// Dir returns the directory holding namespace files.
func (b *FileBackend) Dir() string {
	return b.dir
}
