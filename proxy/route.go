package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyPrefix     = errors.New("route path prefix is empty")
	ErrInvalidUpstream = errors.New("route upstream must be an absolute http(s) URL")
)

// Route maps requests whose path starts with PathPrefix onto Upstream.
// The matched prefix is replaced by UpstreamPathPrefix.
type Route struct {
	Name               string `yaml:"name" json:"name"`
	PathPrefix         string `yaml:"prefix" json:"prefix"`
	Upstream           string `yaml:"target" json:"target"`
	UpstreamPathPrefix string `yaml:"target_path" json:"target_path"`
}

func (r Route) Validate() error {
	if r.PathPrefix == "" {
		return fmt.Errorf("route %q: %w", r.Name, ErrEmptyPrefix)
	}
	if _, err := r.UpstreamURL(); err != nil {
		return fmt.Errorf("route %q: %w", r.Name, err)
	}
	return nil
}

// UpstreamURL parses Upstream, which carries scheme, host and port only.
func (r Route) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpstream, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUpstream, r.Upstream)
	}
	return u, nil
}

// Matches reports whether requestPath falls under the route's literal prefix.
func (r Route) Matches(requestPath string) bool {
	return strings.HasPrefix(requestPath, r.PathPrefix)
}

// RewritePath replaces route.PathPrefix at the start of requestPath with
// route.UpstreamPathPrefix. The result always starts with "/".
func RewritePath(requestPath string, route Route) string {
	rest := strings.TrimPrefix(requestPath, route.PathPrefix)
	out := route.UpstreamPathPrefix + rest
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// Table is the ordered routing table. Earlier entries win.
type Table []Route

// Match returns the first route whose prefix matches requestPath.
func (t Table) Match(requestPath string) (Route, bool) {
	for _, r := range t {
		if r.Matches(requestPath) {
			return r, true
		}
	}
	return Route{}, false
}

// Overlaps lists pairs of routes where one prefix shadows another, in
// "earlier -> later" form.
func (t Table) Overlaps() []string {
	var out []string
	for i := range t {
		for j := i + 1; j < len(t); j++ {
			a, b := t[i].PathPrefix, t[j].PathPrefix
			if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
				out = append(out, fmt.Sprintf("%s (%s) -> %s (%s)", t[i].Name, a, t[j].Name, b))
			}
		}
	}
	return out
}
