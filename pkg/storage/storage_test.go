package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/types"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	file, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "storage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   file,
		"sqlite": sqlite,
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(backend, 0)
			ns := store.Namespace("gov.benefits")

			v, err := ns.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, ns.Set(ctx, "profile", map[string]any{"zip": "94110", "size": 3}))
			v, err = ns.Get(ctx, "profile")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"zip": "94110", "size": float64(3)}, v)

			require.NoError(t, ns.Set(ctx, "profile", "replaced"))
			v, err = ns.Get(ctx, "profile")
			require.NoError(t, err)
			assert.Equal(t, "replaced", v)

			require.NoError(t, ns.Delete(ctx, "profile"))
			v, err = ns.Get(ctx, "profile")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, ns.Delete(ctx, "never-set"))
		})
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(backend, 0)
			a := store.Namespace("bank")
			b := store.Namespace("gov.benefits")

			require.NoError(t, a.Set(ctx, "token", "secret"))
			v, err := b.Get(ctx, "token")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, b.Set(ctx, "x", 1))
			require.NoError(t, a.Clear(ctx))
			v, err = a.Get(ctx, "token")
			require.NoError(t, err)
			assert.Nil(t, v)
			v, err = b.Get(ctx, "x")
			require.NoError(t, err)
			assert.Equal(t, float64(1), v)
		})
	}
}

func TestQuotaRejectionLeavesStorageUnchanged(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewStore(backend, 0)
			ns := store.Namespace("gov.benefits")

			require.NoError(t, ns.Set(ctx, "keep", "small value"))
			before, err := ns.Size(ctx)
			require.NoError(t, err)

			huge := strings.Repeat("x", DefaultQuota)
			err = ns.Set(ctx, "huge", huge)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrQuotaExceeded)
			assert.Equal(t, types.CodeValidation, types.CodeOf(err))

			v, err := ns.Get(ctx, "huge")
			require.NoError(t, err)
			assert.Nil(t, v, "rejected write must not be stored, even truncated")

			v, err = ns.Get(ctx, "keep")
			require.NoError(t, err)
			assert.Equal(t, "small value", v)

			after, err := ns.Size(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestQuotaCountsReplacedValueOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), 200)
	ns := store.Namespace("a")

	value := strings.Repeat("y", 150)
	require.NoError(t, ns.Set(ctx, "k", value))
	require.NoError(t, ns.Set(ctx, "k", value), "overwriting the same key does not double count")
	assert.Error(t, ns.Set(ctx, "k2", value))
}

func TestConcurrentWritesRespectQuota(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ns := store.Namespace("shared")
			_ = ns.Set(ctx, strings.Repeat("k", i+1), strings.Repeat("v", 40))
		}(i)
	}
	wg.Wait()

	size, err := store.Namespace("shared").Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 1000)
}

func TestUnserializableValue(t *testing.T) {
	ns := NewStore(NewMemoryBackend(), 0).Namespace("a")
	err := ns.Set(context.Background(), "fn", func() {})
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestOpenBackend(t *testing.T) {
	b, err := OpenBackend("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = OpenBackend("file", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	_, err = OpenBackend("redis", "")
	assert.Error(t, err)
}

func TestFileBackendPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, NewStore(first, 0).Namespace("a.b").Set(ctx, "k", true))

	second, err := NewFileBackend(dir)
	require.NoError(t, err)
	v, err := NewStore(second, 0).Namespace("a.b").Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
