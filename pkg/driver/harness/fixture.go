package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixture describes a small simulated site.
type Fixture struct {
	Pages []PageFixture `yaml:"pages"`
}

// PageFixture is one page, keyed by URL.
type PageFixture struct {
	URL string `yaml:"url"`
	// Redirect makes navigation land on another URL instead.
	Redirect  string           `yaml:"redirect,omitempty"`
	Elements  []ElementFixture `yaml:"elements"`
	Reactions []Reaction       `yaml:"reactions,omitempty"`
}

// ElementFixture is one element. Several elements may share a selector.
type ElementFixture struct {
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Selector   string            `yaml:"selector"`
	Tag        string            `yaml:"tag,omitempty"`
	Text       string            `yaml:"text,omitempty"`
	Value      string            `yaml:"value,omitempty"`
	Options    []Option          `yaml:"options,omitempty"`
	Hidden     bool              `yaml:"hidden,omitempty"`
	Checked    bool              `yaml:"checked,omitempty"`
}

// Option is a select option.
type Option struct {
	Value string `yaml:"value"`
	Text  string `yaml:"text"`
}

// Reaction changes the page when an element is clicked. When lists element
// values that must all hold for the reaction to fire.
type Reaction struct {
	When     map[string]string `yaml:"when,omitempty"`
	SetText  map[string]string `yaml:"set_text,omitempty"`
	Click    string            `yaml:"click"`
	Navigate string            `yaml:"navigate,omitempty"`
	Show     []string          `yaml:"show,omitempty"`
	Hide     []string          `yaml:"hide,omitempty"`
	Remove   []string          `yaml:"remove,omitempty"`
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFixture reads a fixture file, or every *.yaml file in a directory.
func LoadFixture(path string) (*Fixture, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat fixture path: %w", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
		return ParseFixture(data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && (strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	merged := &Fixture{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture %s: %w", name, err)
		}
		f, err := ParseFixture(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		merged.Pages = append(merged.Pages, f.Pages...)
	}
	if err := merged.validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (f *Fixture) validate() error {
	seen := make(map[string]bool, len(f.Pages))
	for i, p := range f.Pages {
		if p.URL == "" {
			return fmt.Errorf("page %d: url is required", i)
		}
		key := normalizeURL(p.URL)
		if seen[key] {
			return fmt.Errorf("duplicate page %s", p.URL)
		}
		seen[key] = true
		for j, r := range p.Reactions {
			if r.Click == "" {
				return fmt.Errorf("page %s: reaction %d has no click selector", p.URL, j)
			}
		}
	}
	return nil
}

func (f *Fixture) page(url string) (PageFixture, bool) {
	key := normalizeURL(url)
	for _, p := range f.Pages {
		if normalizeURL(p.URL) == key {
			return p, true
		}
	}
	return PageFixture{}, false
}

func normalizeURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(u)), "/")
}
