package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/entrhq/sitebridge/pkg/manifest"
)

// GrantStore persists the optional permissions an operator granted to each
// adapter as a JSON file.
type GrantStore struct {
	path     string
	grants   map[string][]manifest.Permission
	mu       sync.RWMutex
	version  string
	modified bool
}

type grantsFile struct {
	Version string                           `json:"version"`
	Grants  map[string][]manifest.Permission `json:"grants"`
}

// NewGrantStore opens the grant file at path.
// If path is empty, defaults to ~/.sitebridge/grants.json
func NewGrantStore(path string) (*GrantStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".sitebridge", "grants.json")
	}

	store := &GrantStore{
		path:    path,
		grants:  make(map[string][]manifest.Permission),
		version: "1.0",
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load grants from %s: %w", path, err)
	}
	return store, nil
}

// Load reads the grant file. A missing file means no grants.
func (s *GrantStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.grants = make(map[string][]manifest.Permission)
			return nil
		}
		return fmt.Errorf("failed to open grants file: %w", err)
	}

	var file grantsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to decode grants file: %w", err)
	}
	if file.Version != "" {
		s.version = file.Version
	}
	s.grants = file.Grants
	if s.grants == nil {
		s.grants = make(map[string][]manifest.Permission)
	}
	s.modified = false
	return nil
}

// Save writes the grant file atomically.
func (s *GrantStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create grants directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp grants file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(grantsFile{Version: s.version, Grants: s.grants}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode grants: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.modified = false
	return nil
}

// Get returns a copy of the permissions granted to adapterID. Its
// signature matches host.GrantFunc.
func (s *GrantStore) Get(adapterID string) []manifest.Permission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]manifest.Permission(nil), s.grants[adapterID]...)
}

// Grant adds permissions for adapterID.
func (s *GrantStore) Grant(adapterID string, perms ...manifest.Permission) error {
	if err := manifest.ValidateAdapterID(adapterID); err != nil {
		return err
	}
	for _, p := range perms {
		if !known(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[manifest.Permission]bool)
	for _, p := range s.grants[adapterID] {
		set[p] = true
	}
	for _, p := range perms {
		set[p] = true
	}
	s.grants[adapterID] = sorted(set)
	s.modified = true
	return nil
}

// Revoke removes permissions from adapterID, or all of them when perms is
// empty.
func (s *GrantStore) Revoke(adapterID string, perms ...manifest.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(perms) == 0 {
		delete(s.grants, adapterID)
		s.modified = true
		return
	}
	set := make(map[manifest.Permission]bool)
	for _, p := range s.grants[adapterID] {
		set[p] = true
	}
	for _, p := range perms {
		delete(set, p)
	}
	if len(set) == 0 {
		delete(s.grants, adapterID)
	} else {
		s.grants[adapterID] = sorted(set)
	}
	s.modified = true
}

// Adapters returns the adapter ids with at least one grant, sorted.
func (s *GrantStore) Adapters() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.grants))
	for id := range s.grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsModified returns true if the store has unsaved changes.
func (s *GrantStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Path returns the file path of the store.
func (s *GrantStore) Path() string {
	return s.path
}

func known(p manifest.Permission) bool {
	for _, k := range manifest.KnownPermissions {
		if k == p {
			return true
		}
	}
	return false
}

func sorted(set map[manifest.Permission]bool) []manifest.Permission {
	out := make([]manifest.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
