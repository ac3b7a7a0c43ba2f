package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/sandbox"
)

// Bundle file names.
const (
	ManifestFile = "adapter.yaml"
	CatalogFile  = "tools.yaml"
)

// Bundle is an adapter loaded from disk.
type Bundle struct {
	Manifest *manifest.Manifest
	Tools    []*manifest.ToolDefinition
	// Dir is the bundle directory entrypoints are resolved against.
	Dir string

	adapter sandbox.Adapter
}

// Scripted reports whether any tool needs adapter code.
func (b *Bundle) Scripted() bool {
	for _, t := range b.Tools {
		if !t.IsDeclarative() {
			return true
		}
	}
	return false
}

// ReadBundle reads and cross-checks a bundle's manifest and catalog
// without starting any adapter code.
func ReadBundle(dir string) (*Bundle, error) {
	m, err := manifest.LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	tools, err := manifest.LoadCatalog(filepath.Join(dir, CatalogFile))
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", m.ID, err)
	}
	b := &Bundle{Manifest: m, Tools: tools, Dir: dir}
	if err := b.check(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bundle) check() error {
	m := b.Manifest
	if len(b.Tools) == 0 {
		return fmt.Errorf("adapter %s: catalog declares no tools", m.ID)
	}
	for _, t := range b.Tools {
		if len(m.Tools) > 0 {
			if _, ok := m.ToolSummary(t.Name); !ok {
				return fmt.Errorf("adapter %s: tool %q is not listed in the manifest", m.ID, t.Name)
			}
		}
		if !t.IsDeclarative() && m.Runtime == manifest.RuntimeDeclarative {
			return fmt.Errorf("adapter %s: tool %q has no declarative recipe and the adapter has no code", m.ID, t.Name)
		}
		if t.IsDeclarative() && !m.AllowsURL(t.Declarative.URL) {
			return fmt.Errorf("adapter %s: tool %q starts at %s, outside the adapter's domains", m.ID, t.Name, t.Declarative.URL)
		}
	}
	return nil
}

// CheckBundle reads a bundle and, when it has adapter code, compiles or
// starts it to confirm it implements every scripted tool. Nothing is
// registered and the adapter's init does not run.
func CheckBundle(ctx context.Context, dir string, cfg sandbox.Config, log *logging.Logger) (*Bundle, error) {
	b, err := ReadBundle(dir)
	if err != nil {
		return nil, err
	}
	if !b.Scripted() {
		return b, nil
	}
	a, err := sandbox.Load(ctx, b.Manifest, dir, cfg, log)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	b.adapter = a
	err = b.checkImplemented()
	b.adapter = nil
	return b, err
}

// checkImplemented verifies the loaded adapter code covers every scripted
// tool in the catalog.
func (b *Bundle) checkImplemented() error {
	have := make(map[string]bool)
	for _, name := range b.adapter.Tools() {
		have[name] = true
	}
	var missing []string
	for _, t := range b.Tools {
		if !t.IsDeclarative() && !have[t.Name] {
			missing = append(missing, t.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("adapter %s: code does not implement %v", b.Manifest.ID, missing)
	}
	return nil
}

// FindBundles returns root itself when it holds a manifest, otherwise every
// direct subdirectory that does.
func FindBundles(root string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(root, ManifestFile)); err == nil {
		return []string{root}, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read adapters directory: %w", err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}
