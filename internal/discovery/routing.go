package discovery

import (
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/gobwas/glob"
)

// router implements the routing decision table from spec §4.3.
type router struct {
	rootURL *url.URL
	allow   []glob.Glob
	deny    []glob.Glob
}

func newRouter(rootURL *url.URL, allowPatterns, denyPatterns []string) (*router, error) {
	allow, err := compileGlobs(allowPatterns)
	if err != nil {
		return nil, err
	}
	deny, err := compileGlobs(denyPatterns)
	if err != nil {
		return nil, err
	}
	return &router{rootURL: rootURL, allow: allow, deny: deny}, nil
}

// compileGlobs compiles hostname patterns per spec §4.3: "*" matches one
// label, a leading "*." matches any subdomain, and a bare "*" matches every
// hostname. The separator rune '.' makes "*" match a single label; a leading
// "*." is rewritten to "**." so it spans any number of labels, and a bare "*"
// is compiled without a separator so it matches every hostname.
func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		var (
			g   glob.Glob
			err error
		)
		if strings.HasPrefix(p, "*.") {
			p = "*" + p
		}
		if p == "*" {
			g, err = glob.Compile(p)
		} else {
			g, err = glob.Compile(p, '.')
		}
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// decision is the outcome of routing a single intercepted request: whether
// the browser-level request should be aborted, and whether a successful
// response should be captured as a Resource.
type decision struct {
	abort      bool
	capture    bool
	isRoot     bool
	nonNetwork bool
}

// route applies the table from spec §4.3 to a single request.
func (r *router) route(rawURL string, resourceType network.ResourceType, isPrefetch bool) decision {
	u, err := url.Parse(rawURL)
	if err != nil {
		return decision{capture: false}
	}

	if isNonNetworkScheme(u.Scheme) {
		return decision{nonNetwork: true}
	}

	if matchesAny(u.Hostname(), r.deny) {
		return decision{abort: true}
	}

	if isPrefetch {
		return decision{capture: false}
	}

	if sameURL(u, r.rootURL) {
		return decision{capture: true, isRoot: true}
	}

	if r.rootURL != nil && u.Hostname() == r.rootURL.Hostname() {
		return decision{capture: true}
	}

	if matchesAny(u.Hostname(), r.allow) {
		return decision{capture: true}
	}

	return decision{capture: false}
}

func isNonNetworkScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "data", "blob", "file":
		return true
	default:
		return false
	}
}

func matchesAny(hostname string, globs []glob.Glob) bool {
	for _, g := range globs {
		if g.Match(hostname) {
			return true
		}
	}
	return false
}

func sameURL(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return a.String() == b.String()
}
