// Package host turns adapter bundles on disk into callable tools. It owns
// the page backend, the storage scope and the human coordinator, and
// builds a fresh capability context for every call.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/declarative"
	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/registry"
	"github.com/entrhq/sitebridge/pkg/sandbox"
	"github.com/entrhq/sitebridge/pkg/storage"
	"github.com/entrhq/sitebridge/pkg/types"
)

// GrantFunc returns the optional permissions the operator granted to an
// adapter.
type GrantFunc func(adapterID string) []manifest.Permission

// Options wires a Host.
type Options struct {
	Backend capability.Backend
	Store   *storage.Store
	Human   human.Waiter
	Events  types.EventSink
	Log     *logging.Logger
	Grants  GrantFunc
	Sandbox sandbox.Config
}

// Host holds the loaded bundles and runs their tools.
type Host struct {
	opts     Options
	log      *logging.Logger
	registry *registry.Registry
	interp   *declarative.Interpreter

	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// New creates a host. regOpts configure the registry it dispatches through.
func New(opts Options, regOpts ...registry.Option) (*Host, error) {
	if opts.Backend == nil {
		return nil, errors.New("host: a page backend is required")
	}
	if opts.Store == nil {
		opts.Store = storage.NewStore(storage.NewMemoryBackend(), 0)
	}
	if opts.Human == nil {
		opts.Human = human.Unattended{}
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Sandbox == (sandbox.Config{}) {
		opts.Sandbox = sandbox.DefaultConfig()
	}
	h := &Host{
		opts:    opts,
		log:     opts.Log,
		interp:  declarative.New(opts.Log.With("declarative")),
		bundles: make(map[string]*Bundle),
	}
	regOpts = append([]registry.Option{registry.WithLogger(opts.Log.With("registry")), registry.WithEventSink(opts.Events)}, regOpts...)
	h.registry = registry.New(registry.RunnerFunc(h.run), regOpts...)
	return h, nil
}

// Registry returns the tool table.
func (h *Host) Registry() *registry.Registry {
	return h.registry
}

// Dispatch runs a namespaced tool.
func (h *Host) Dispatch(ctx context.Context, name string, args map[string]any) *types.Result {
	return h.registry.Dispatch(ctx, name, args)
}

// LoadDirs loads every bundle under each root. A bundle that fails to load
// is reported and skipped; the returned error joins all such failures.
func (h *Host) LoadDirs(ctx context.Context, roots ...string) ([]*Bundle, error) {
	var (
		loaded []*Bundle
		errs   []error
	)
	for _, root := range roots {
		dirs, err := FindBundles(root)
		if err != nil {
			h.emit(types.NewAdapterLoadErrorEvent(root, err))
			errs = append(errs, err)
			continue
		}
		for _, dir := range dirs {
			b, err := h.Load(ctx, dir)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			loaded = append(loaded, b)
		}
	}
	return loaded, errors.Join(errs...)
}

// Load reads one bundle, starts its adapter code if it has any, runs the
// adapter's init and registers its tools.
func (h *Host) Load(ctx context.Context, dir string) (b *Bundle, err error) {
	defer func() {
		if err != nil {
			h.log.Warnf("skipping adapter at %s: %v", dir, err)
			h.emit(types.NewAdapterLoadErrorEvent(dir, err))
		}
	}()

	b, err = ReadBundle(dir)
	if err != nil {
		return nil, err
	}
	id := b.Manifest.ID

	h.mu.RLock()
	_, exists := h.bundles[id]
	h.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("adapter %s is already loaded", id)
	}

	if b.Scripted() {
		a, err := sandbox.Load(ctx, b.Manifest, dir, h.opts.Sandbox, h.log.With("sandbox"))
		if err != nil {
			return nil, err
		}
		b.adapter = a
		if err := b.checkImplemented(); err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := h.initAdapter(ctx, b); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	tools, err := h.registry.Register(b.Manifest, b.Tools)
	if err != nil {
		if b.adapter != nil {
			_ = b.adapter.Close()
		}
		return nil, err
	}

	h.mu.Lock()
	h.bundles[id] = b
	h.mu.Unlock()

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	h.log.Infof("loaded adapter %s %s (%d tools, %s runtime)", id, b.Manifest.Version, len(names), b.Manifest.Runtime)
	h.emit(types.NewAdapterLoadedEvent(id, names))
	return b, nil
}

func (h *Host) initAdapter(ctx context.Context, b *Bundle) error {
	cc, done, err := h.session(ctx, b.Manifest)
	if err != nil {
		return err
	}
	defer done()
	if err := b.adapter.Init(ctx, cc); err != nil {
		return fmt.Errorf("adapter %s: init failed: %w", b.Manifest.ID, err)
	}
	return nil
}

// Unload removes an adapter's tools and stops its code.
func (h *Host) Unload(adapterID string) error {
	h.mu.Lock()
	b, ok := h.bundles[adapterID]
	delete(h.bundles, adapterID)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter %s is not loaded", adapterID)
	}
	h.registry.Unregister(adapterID)
	if b.adapter != nil {
		return b.adapter.Close()
	}
	return nil
}

// Bundles returns the loaded bundles sorted by adapter id.
func (h *Host) Bundles() []*Bundle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Bundle, 0, len(h.bundles))
	for _, b := range h.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Close stops every adapter and releases the backend and the store.
func (h *Host) Close() error {
	h.mu.Lock()
	bundles := h.bundles
	h.bundles = make(map[string]*Bundle)
	h.mu.Unlock()

	var errs []error
	for id, b := range bundles {
		h.registry.Unregister(id)
		if b.adapter != nil {
			errs = append(errs, b.adapter.Close())
		}
	}
	errs = append(errs, h.opts.Backend.Close(), h.opts.Store.Close())
	return errors.Join(errs...)
}

// run is the registry's Runner.
func (h *Host) run(ctx context.Context, tool *registry.Tool, args map[string]any) (map[string]any, error) {
	h.mu.RLock()
	b, ok := h.bundles[tool.AdapterID]
	h.mu.RUnlock()
	if !ok {
		return nil, types.Wrap(types.CodeValidation, types.ErrToolNotFound, "adapter %s is not loaded", tool.AdapterID)
	}

	cc, done, err := h.session(ctx, b.Manifest)
	if err != nil {
		return nil, err
	}
	defer done()

	if tool.Definition.IsDeclarative() {
		return h.interp.Run(ctx, cc.Page, tool.Definition.Declarative, args)
	}
	return b.adapter.Execute(ctx, tool.Definition.Name, args, cc)
}

// session builds the capability context for one call. done releases the
// page.
func (h *Host) session(ctx context.Context, m *manifest.Manifest) (*capability.Context, func(), error) {
	driver, err := h.opts.Backend.Open(ctx)
	if err != nil {
		return nil, nil, types.Wrap(types.CodeUnknown, err, "failed to open a page for %s", m.ID)
	}
	var optional []manifest.Permission
	if h.opts.Grants != nil {
		optional = h.opts.Grants(m.ID)
	}
	perms := m.Grant(optional)
	log := h.log.With(m.ID)

	cc := &capability.Context{
		AdapterID: m.ID,
		Page:      capability.NewPage(driver, m, perms, h.opts.Human, log),
		Storage:   capability.NewStorage(h.opts.Store, m.ID, perms),
		Notify:    capability.NewNotifier(m.ID, perms, h.opts.Events, log),
	}
	done := func() {
		if err := driver.Close(); err != nil {
			h.log.Warnf("failed to close page for %s: %v", m.ID, err)
		}
	}
	return cc, done, nil
}

func (h *Host) emit(e *types.Event) {
	if h.opts.Events != nil {
		h.opts.Events(e)
	}
}
