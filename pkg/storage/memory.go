package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	data map[string]map[string]json.RawMessage
	mu   sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]json.RawMessage)}
}

func (b *MemoryBackend) Load(_ context.Context, namespace string) (map[string]json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(b.data[namespace]))
	for k, v := range b.data[namespace] {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBackend) Put(_ context.Context, namespace, key string, value json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns, ok := b.data[namespace]
	if !ok {
		ns = make(map[string]json.RawMessage)
		b.data[namespace] = ns
	}
	ns[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, namespace, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data[namespace], key)
	return nil
}

func (b *MemoryBackend) Clear(_ context.Context, namespace string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, namespace)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
