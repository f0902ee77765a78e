package cacheworker

import (
	"net/http"
	"path"
	"strings"

	"github.com/jrsteele09/smartstudy-sync/internal/config"
)

type Strategy string

const (
	// CacheFirst answers from the rule's cache and only asks the network on
	// a miss.
	CacheFirst Strategy = "cache-first"
	// NetworkOnly never touches a cache.
	NetworkOnly Strategy = "network-only"
	// NetworkFirst asks the network, stores successful GETs in the rule's
	// cache, and falls back to that cache (then a 503) when offline.
	NetworkFirst Strategy = "network-first"
)

// Rule selects requests and says how to answer them. A request matches when
// any of the non-empty matchers match. A rule with no matchers matches
// everything.
type Rule struct {
	Name     string
	Strategy Strategy
	Cache    string

	Paths        []string // exact URL path
	URLContains  []string // substring of the full request URL
	QueryParams  []string // query parameter present
	HostSuffixes []string // target host suffix, for proxied absolute URLs
	Destinations []string // Sec-Fetch-Dest value, e.g. "image"
	Extensions   []string // path extension including the dot
}

func (r Rule) catchAll() bool {
	return len(r.Paths) == 0 && len(r.URLContains) == 0 && len(r.QueryParams) == 0 &&
		len(r.HostSuffixes) == 0 && len(r.Destinations) == 0 && len(r.Extensions) == 0
}

// Matches reports whether req is selected by the rule.
func (r Rule) Matches(req *http.Request) bool {
	if r.catchAll() {
		return true
	}
	for _, p := range r.Paths {
		if req.URL.Path == p {
			return true
		}
	}
	full := req.URL.String()
	for _, marker := range r.URLContains {
		if strings.Contains(full, marker) {
			return true
		}
	}
	query := req.URL.Query()
	for _, param := range r.QueryParams {
		if query.Has(param) {
			return true
		}
	}
	host := req.URL.Hostname()
	for _, suffix := range r.HostSuffixes {
		if host != "" && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	dest := req.Header.Get("Sec-Fetch-Dest")
	for _, d := range r.Destinations {
		if dest == d {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(req.URL.Path))
	for _, e := range r.Extensions {
		if ext != "" && ext == e {
			return true
		}
	}
	return false
}

// Policy is an ordered list of rules. The first matching rule wins.
type Policy struct {
	Rules []Rule
}

var passThrough = Rule{Name: "pass-through", Strategy: NetworkOnly}

// Match returns the first rule matching req, or a network-only rule.
func (p Policy) Match(req *http.Request) Rule {
	for _, rule := range p.Rules {
		if rule.Matches(req) {
			return rule
		}
	}
	return passThrough
}

// CacheNames lists every cache the policy writes to.
func (p Policy) CacheNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, rule := range p.Rules {
		if rule.Cache != "" && !seen[rule.Cache] {
			seen[rule.Cache] = true
			names = append(names, rule.Cache)
		}
	}
	return names
}

// DefaultPolicy serves the app shell cache-first, keeps API traffic off the
// caches, and answers everything else network-first from the runtime cache.
func DefaultPolicy(cfg config.CacheConfig) Policy {
	return Policy{Rules: []Rule{
		{
			Name:     "shell",
			Strategy: CacheFirst,
			Cache:    cfg.GetShellCacheName(),
			Paths:    cfg.GetShellAssets(),
		},
		{
			Name:        "api",
			Strategy:    NetworkOnly,
			URLContains: []string{cfg.GetAPIMarker()},
			QueryParams: []string{cfg.GetAPIQueryParam()},
		},
		{
			Name:         "runtime",
			Strategy:     NetworkFirst,
			Cache:        cfg.GetRuntimeCacheName(),
			HostSuffixes: cfg.GetRuntimeHostSuffixes(),
			Destinations: []string{"image"},
			Extensions:   []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"},
		},
		{
			Name:     "static",
			Strategy: NetworkFirst,
			Cache:    cfg.GetRuntimeCacheName(),
		},
	}}
}
