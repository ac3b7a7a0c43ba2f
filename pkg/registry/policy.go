package registry

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Policy decides which namespaced tools may be listed and called.
type Policy struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPolicy compiles allow and deny patterns over namespaced tool names,
// e.g. "gov.*__*" or "*__delete_*".
func NewPolicy(allowed, denied []string) (*Policy, error) {
	p := &Policy{}
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		p.allowedPatterns = append(p.allowedPatterns, g)
	}
	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		p.deniedPatterns = append(p.deniedPatterns, g)
	}
	return p, nil
}

// Allows reports whether name may be used. Deny patterns win; with no
// allow patterns everything not denied is allowed. A nil policy allows all.
func (p *Policy) Allows(name string) bool {
	if p == nil {
		return true
	}
	for _, pattern := range p.deniedPatterns {
		if pattern.Match(name) {
			return false
		}
	}
	if len(p.allowedPatterns) == 0 {
		return true
	}
	for _, pattern := range p.allowedPatterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}
