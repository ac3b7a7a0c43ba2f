// Package storage provides namespaced, quota-limited key/value storage for adapters.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/entrhq/sitebridge/pkg/types"
)

// DefaultQuota is the maximum serialized size of one namespace in bytes.
const DefaultQuota = 100 * 1024

// Backend persists raw JSON values grouped by namespace.
type Backend interface {
	// Load returns every record in the namespace.
	Load(ctx context.Context, namespace string) (map[string]json.RawMessage, error)

	// Put inserts or replaces one record.
	Put(ctx context.Context, namespace, key string, value json.RawMessage) error

	// Delete removes one record. Missing keys are not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Clear removes every record in the namespace.
	Clear(ctx context.Context, namespace string) error

	// Close releases backend resources.
	Close() error
}

// Store hands out quota-enforcing namespaces over one backend. Writes to a
// namespace are serialized so the quota check and the write are atomic.
type Store struct {
	backend Backend
	locks   map[string]*sync.Mutex
	quota   int
	mu      sync.Mutex
}

// NewStore wraps backend. A non-positive quota means DefaultQuota.
func NewStore(backend Backend, quota int) *Store {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Store{
		backend: backend,
		quota:   quota,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Namespace returns the scoped view for one adapter.
func (s *Store) Namespace(namespace string) *Namespace {
	s.mu.Lock()
	lock, ok := s.locks[namespace]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[namespace] = lock
	}
	s.mu.Unlock()
	return &Namespace{store: s, name: namespace, lock: lock}
}

// Quota returns the per-namespace byte limit.
func (s *Store) Quota() int {
	return s.quota
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Namespace is one adapter's key/value space.
type Namespace struct {
	store *Store
	lock  *sync.Mutex
	name  string
}

// Name returns the namespace identifier.
func (n *Namespace) Name() string {
	return n.name
}

// Get returns the decoded value for key, or nil when it is absent.
func (n *Namespace) Get(ctx context.Context, key string) (any, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	records, err := n.store.backend.Load(ctx, n.name)
	if err != nil {
		return nil, fmt.Errorf("storage get %q: %w", key, err)
	}
	raw, ok := records[key]
	if !ok {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("storage get %q: corrupt record: %w", key, err)
	}
	return v, nil
}

// Set stores value under key. A write that would push the namespace over
// its quota is rejected and leaves storage unchanged.
func (n *Namespace) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return types.Wrap(types.CodeValidation, types.ErrValidation, "storage set %q: value is not serializable", key)
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	records, err := n.store.backend.Load(ctx, n.name)
	if err != nil {
		return fmt.Errorf("storage set %q: %w", key, err)
	}
	next := make(map[string]json.RawMessage, len(records)+1)
	for k, v := range records {
		next[k] = v
	}
	next[key] = raw

	size, err := serializedSize(next)
	if err != nil {
		return fmt.Errorf("storage set %q: %w", key, err)
	}
	if size > n.store.quota {
		return types.Wrap(types.CodeValidation, types.ErrQuotaExceeded,
			"storage set %q: namespace would use %d of %d bytes", key, size, n.store.quota)
	}
	if err := n.store.backend.Put(ctx, n.name, key, raw); err != nil {
		return fmt.Errorf("storage set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if err := n.store.backend.Delete(ctx, n.name, key); err != nil {
		return fmt.Errorf("storage delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every key in the namespace.
func (n *Namespace) Clear(ctx context.Context) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if err := n.store.backend.Clear(ctx, n.name); err != nil {
		return fmt.Errorf("storage clear: %w", err)
	}
	return nil
}

// Size returns the current serialized size of the namespace.
func (n *Namespace) Size(ctx context.Context) (int, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	records, err := n.store.backend.Load(ctx, n.name)
	if err != nil {
		return 0, err
	}
	return serializedSize(records)
}

func serializedSize(records map[string]json.RawMessage) (int, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Backend kinds accepted by OpenBackend.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// OpenBackend creates a backend by kind. path is the directory for file
// backends and the DSN for sqlite; empty paths use the defaults.
func OpenBackend(kind, path string) (Backend, error) {
	switch kind {
	case KindMemory, "":
		return NewMemoryBackend(), nil
	case KindFile:
		return NewFileBackend(path)
	case KindSQLite:
		if path == "" {
			p, err := DefaultSQLitePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
