package sandbox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/driver/harness"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/storage"
	"github.com/entrhq/sitebridge/pkg/types"
)

const bankSite = `
pages:
  - url: https://bank.test/account
    elements:
      - selector: "#balance"
        text: " $1,234.50 "
      - selector: "#user"
        tag: input
`

type fixture struct {
	cc     *capability.Context
	store  *storage.Store
	driver *harness.Driver
	mu     sync.Mutex
	events []*types.Event
}

func (f *fixture) sink(e *types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func newFixture(t *testing.T, id string) *fixture {
	t.Helper()
	site, err := harness.ParseFixture([]byte(bankSite))
	require.NoError(t, err)
	m := &manifest.Manifest{
		ID:          id,
		Domains:     []string{"bank.test"},
		Permissions: manifest.KnownPermissions,
		Runtime:     manifest.RuntimeScript,
		Entrypoint:  "adapter.vibe",
	}
	require.NoError(t, m.Validate())

	f := &fixture{store: storage.NewStore(storage.NewMemoryBackend(), 0), driver: harness.New(site)}
	perms := m.Grant(nil)
	f.cc = &capability.Context{
		AdapterID: id,
		Page:      capability.NewPage(f.driver, m, perms, nil, nil),
		Storage:   capability.NewStorage(f.store, id, perms),
		Notify:    capability.NewNotifier(id, perms, f.sink, nil),
	}
	return f
}
