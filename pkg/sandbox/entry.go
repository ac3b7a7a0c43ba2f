package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveEntrypoint returns the absolute path of entry inside the bundle
// directory dir. Relative components are clamped to the bundle root, and a
// symlink that leads outside the bundle is rejected.
func resolveEntrypoint(dir, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("entrypoint cannot be empty")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve bundle directory: %w", err)
	}
	// Evaluate symlinks in the bundle path itself so /var -> /private/var
	// style aliases compare equal.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate bundle directory: %w", err)
	}

	path := filepath.Join(root, filepath.Clean(string(filepath.Separator) + entry))
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("entrypoint %s: %w", entry, err)
	}
	if !within(root, resolved) {
		return "", fmt.Errorf("entrypoint %s resolves outside the bundle", entry)
	}
	return resolved, nil
}

// within reports whether path is root or one of its descendants.
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path+string(filepath.Separator), root+string(filepath.Separator))
}
