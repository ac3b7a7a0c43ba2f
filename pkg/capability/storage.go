package capability

import (
	"context"

	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/storage"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Storage is the adapter's key-value surface. The namespace is fixed by the
// host; adapters only ever see bare keys.
type Storage struct {
	ns      *storage.Namespace
	allowed bool
}

// NewStorage scopes store to the adapter id.
func NewStorage(store *storage.Store, adapterID string, perms manifest.PermissionSet) *Storage {
	return &Storage{
		ns:      store.Namespace(adapterID),
		allowed: perms.Has(manifest.PermStorageLocal),
	}
}

func (s *Storage) check(op string) error {
	if s.allowed {
		return nil
	}
	return types.Wrap(types.CodeUnknown, types.ErrPermissionDenied, "storage.%s requires the %s permission", op, manifest.PermStorageLocal)
}

// Get returns the decoded value, or nil when key is absent.
func (s *Storage) Get(ctx context.Context, key string) (any, error) {
	if err := s.check("get"); err != nil {
		return nil, err
	}
	return s.ns.Get(ctx, key)
}

// Set stores value. Writes that would push the namespace over its quota are
// rejected and leave storage unchanged.
func (s *Storage) Set(ctx context.Context, key string, value any) error {
	if err := s.check("set"); err != nil {
		return err
	}
	return s.ns.Set(ctx, key, value)
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.check("delete"); err != nil {
		return err
	}
	return s.ns.Delete(ctx, key)
}

// Clear removes every key in the namespace.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.check("clear"); err != nil {
		return err
	}
	return s.ns.Clear(ctx)
}
