package manifest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/entrhq/sitebridge/pkg/types"
)

// DomainRule is one entry of an adapter's allow-list: a host, optionally
// restricted to a path prefix. A host starting with "*." matches strict
// subdomains only.
type DomainRule struct {
	Host       string
	PathPrefix string
}

// ParseDomainRule parses "host" or "host/path/prefix". A scheme, if given,
// is ignored.
func ParseDomainRule(s string) (DomainRule, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if s == "" {
		return DomainRule{}, fmt.Errorf("empty domain")
	}
	host, path, _ := strings.Cut(s, "/")
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	host = strings.ToLower(host)
	if host == "" || host == "*." || strings.ContainsAny(host, " ?#") {
		return DomainRule{}, fmt.Errorf("invalid domain %q", s)
	}
	rule := DomainRule{Host: host}
	if path = strings.Trim(path, "/"); path != "" {
		rule.PathPrefix = "/" + path
	}
	return rule, nil
}

// String renders the rule the way it is written in a manifest.
func (r DomainRule) String() string {
	return r.Host + r.PathPrefix
}

// Matches reports whether u is covered by the rule. Ports are ignored and
// the path prefix only matches whole segments.
func (r DomainRule) Matches(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if suffix, ok := strings.CutPrefix(r.Host, "*."); ok {
		if !strings.HasSuffix(host, "."+suffix) {
			return false
		}
	} else if host != r.Host {
		return false
	}
	if r.PathPrefix == "" {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path == r.PathPrefix {
		return true
	}
	return strings.HasPrefix(path, r.PathPrefix+"/")
}

// CheckURL returns nil when rawURL is an http(s) URL matched by one of the
// rules, and a NAVIGATION_FAILED error otherwise.
func CheckURL(rules []DomainRule, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "invalid url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "scheme %q not allowed for %q", u.Scheme, rawURL)
	}
	if hasDotSegment(u) {
		return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "navigation to %q blocked: path has dot segments", rawURL)
	}
	for _, r := range rules {
		if r.Matches(u) {
			return nil
		}
	}
	return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "navigation to %q blocked", rawURL)
}

// hasDotSegment reports whether a browser would rewrite the path of u while
// resolving "." or "..", which could move it outside a path prefix. The
// decoded path is checked so "%2e%2e" counts, and a backslash is treated as a
// separator the way browsers treat it for http(s).
func hasDotSegment(u *url.URL) bool {
	p := strings.ReplaceAll(u.Path, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
