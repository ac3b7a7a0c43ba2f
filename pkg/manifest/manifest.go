package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Permission identifies a capability surface an adapter may use.
type Permission string

const (
	PermReadForms     Permission = "read:forms"
	PermWriteForms    Permission = "write:forms"
	PermStorageLocal  Permission = "storage:local"
	PermNotifications Permission = "notifications"
	PermNavigate      Permission = "navigate"
	PermHumanWait     Permission = "human:wait"
)

// KnownPermissions lists every permission the runtime understands.
var KnownPermissions = []Permission{
	PermReadForms, PermWriteForms, PermStorageLocal, PermNotifications, PermNavigate, PermHumanWait,
}

// TrustTier records who vouches for an adapter.
type TrustTier string

const (
	TrustOfficial  TrustTier = "official"
	TrustVerified  TrustTier = "verified"
	TrustCommunity TrustTier = "community"
)

// Runtime selects how an adapter's tools execute.
type Runtime string

const (
	RuntimeDeclarative Runtime = "declarative" // recipes only, no adapter code
	RuntimeScript      Runtime = "script"      // VibeScript source run in the VM sandbox
	RuntimeProcess     Runtime = "process"     // executable speaking the capability protocol on stdio
)

var (
	idPattern   = regexp.MustCompile(`^[a-z0-9]+([.-][a-z0-9]+)*$`)
	toolPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ToolSummary is the manifest's short description of one tool.
type ToolSummary struct {
	Name     string `yaml:"name" json:"name"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	ReadOnly bool   `yaml:"read_only" json:"read_only"`
}

// Manifest describes an adapter's identity, reach, and tool catalog.
// It is immutable once loaded.
type Manifest struct {
	ID                  string        `yaml:"id" json:"id"`
	Name                string        `yaml:"name" json:"name"`
	Version             string        `yaml:"version" json:"version"`
	Description         string        `yaml:"description,omitempty" json:"description,omitempty"`
	Domains             []string      `yaml:"domains" json:"domains"`
	Permissions         []Permission  `yaml:"permissions" json:"permissions"`
	OptionalPermissions []Permission  `yaml:"optional_permissions,omitempty" json:"optional_permissions,omitempty"`
	Tools               []ToolSummary `yaml:"tools" json:"tools"`
	Trust               TrustTier     `yaml:"trust" json:"trust"`
	Runtime             Runtime       `yaml:"runtime,omitempty" json:"runtime,omitempty"`
	Entrypoint          string        `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	DeclarativeOnly     bool          `yaml:"declarative_only" json:"declarative_only"`

	rules []DomainRule
}

// ValidateAdapterID checks the hierarchical id format. Ids never contain
// underscores so they can be joined with tool names unambiguously.
func ValidateAdapterID(id string) error {
	if id == "" {
		return fmt.Errorf("adapter id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("adapter id %q must be lowercase letters and digits separated by '.' or '-'", id)
	}
	return nil
}

// ValidateToolName checks a bare tool name.
func ValidateToolName(name string) error {
	if !toolPattern.MatchString(name) {
		return fmt.Errorf("tool name %q must match %s", name, toolPattern)
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("tool name %q cannot contain \"__\"", name)
	}
	return nil
}

// Validate checks the manifest and compiles its domain rules.
func (m *Manifest) Validate() error {
	if err := ValidateAdapterID(m.ID); err != nil {
		return err
	}
	if len(m.Domains) == 0 {
		return fmt.Errorf("adapter %s: at least one domain is required", m.ID)
	}
	rules := make([]DomainRule, 0, len(m.Domains))
	for _, d := range m.Domains {
		rule, err := ParseDomainRule(d)
		if err != nil {
			return fmt.Errorf("adapter %s: %w", m.ID, err)
		}
		rules = append(rules, rule)
	}
	for _, p := range append(append([]Permission{}, m.Permissions...), m.OptionalPermissions...) {
		if !isKnownPermission(p) {
			return fmt.Errorf("adapter %s: unknown permission %q", m.ID, p)
		}
	}
	switch m.Trust {
	case TrustOfficial, TrustVerified, TrustCommunity:
	case "":
		m.Trust = TrustCommunity
	default:
		return fmt.Errorf("adapter %s: trust must be official, verified, or community", m.ID)
	}
	if m.Runtime == "" {
		if m.DeclarativeOnly {
			m.Runtime = RuntimeDeclarative
		} else {
			m.Runtime = RuntimeScript
		}
	}
	switch m.Runtime {
	case RuntimeDeclarative:
	case RuntimeScript, RuntimeProcess:
		if m.DeclarativeOnly {
			return fmt.Errorf("adapter %s: declarative_only adapters cannot use the %s runtime", m.ID, m.Runtime)
		}
		if m.Entrypoint == "" {
			return fmt.Errorf("adapter %s: entrypoint is required for the %s runtime", m.ID, m.Runtime)
		}
	default:
		return fmt.Errorf("adapter %s: unknown runtime %q", m.ID, m.Runtime)
	}
	seen := make(map[string]bool, len(m.Tools))
	for _, t := range m.Tools {
		if err := ValidateToolName(t.Name); err != nil {
			return fmt.Errorf("adapter %s: %w", m.ID, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("adapter %s: duplicate tool %q", m.ID, t.Name)
		}
		seen[t.Name] = true
	}
	m.rules = rules
	return nil
}

// DomainRules returns the compiled allow-list.
func (m *Manifest) DomainRules() []DomainRule {
	if m.rules != nil {
		return m.rules
	}
	var rules []DomainRule
	for _, d := range m.Domains {
		if rule, err := ParseDomainRule(d); err == nil {
			rules = append(rules, rule)
		}
	}
	return rules
}

// AllowsURL reports whether rawURL falls inside the adapter's domains.
func (m *Manifest) AllowsURL(rawURL string) bool {
	return CheckURL(m.DomainRules(), rawURL) == nil
}

// ToolSummary finds a declared tool by bare name.
func (m *Manifest) ToolSummary(name string) (ToolSummary, bool) {
	for _, t := range m.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSummary{}, false
}

// Grant computes the effective permission set: every required permission
// plus the optional ones the operator granted.
func (m *Manifest) Grant(optional []Permission) PermissionSet {
	set := make(PermissionSet, len(m.Permissions)+len(optional))
	for _, p := range m.Permissions {
		set[p] = true
	}
	for _, p := range optional {
		for _, o := range m.OptionalPermissions {
			if o == p {
				set[p] = true
			}
		}
	}
	return set
}

// PermissionSet is a granted permission lookup.
type PermissionSet map[Permission]bool

// Has reports whether p was granted.
func (s PermissionSet) Has(p Permission) bool {
	return s[p]
}

func isKnownPermission(p Permission) bool {
	for _, k := range KnownPermissions {
		if k == p {
			return true
		}
	}
	return false
}

// LoadManifest reads and validates an adapter.yaml (or JSON) file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest bytes. JSON input works since
// it is a subset of YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}
