// Package resolver maps a Hit's host to the analytics site id (and that
// site's main URL) it should be recorded against, either statically (one
// id for every hit) or dynamically (one HTTP lookup per distinct host,
// cached).
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// noHostnameSentinel stands in for an empty host field, matching the
// original importer's literal placeholder so dynamic lookups have a
// stable cache key instead of silently grouping every host-less hit
// under "" (spec.md §4.4).
const noHostnameSentinel = "no-hostname-found-in-log"

// unresolved is the empty site id a lookup returns for a host the API
// reports as unknown. Dynamic caches such a miss (with ok false) so a
// noisy log doesn't retry the same lookup for every hit.
const unresolved = ""

// Lookup resolves a hostname to a site id and that site's main URL via
// the remote API. Supplied by the caller (internal/trackhttp) so this
// package stays free of any transport concern.
type Lookup func(ctx context.Context, host string) (siteID, mainURL string, ok bool, err error)

// MainURLFetcher fetches a known site id's main URL via the remote API.
type MainURLFetcher func(ctx context.Context, siteID string) (string, error)

// Resolver assigns a site id and main URL to a Hit's host (spec.md §4.4
// "resolve(hit) -> (site_id | null, main_url | null)").
type Resolver interface {
	Resolve(ctx context.Context, host string) (siteID, mainURL string, ok bool, err error)
}

// Static always returns the same, pre-configured site id, used when
// trackconfig.Config.SiteID is set. Its main URL is fetched once, lazily,
// via fetch.
type Static struct {
	SiteID string
	fetch  MainURLFetcher

	mu      sync.Mutex
	mainURL string
	fetched bool
	fetchErr error
}

// NewStatic returns a Resolver that always resolves to siteID, fetching
// its main URL via fetch on first use (fetch may be nil, e.g. in tests,
// in which case main URL is always empty).
func NewStatic(siteID string, fetch MainURLFetcher) *Static {
	return &Static{SiteID: siteID, fetch: fetch}
}

// Resolve implements Resolver.
func (s *Static) Resolve(ctx context.Context, host string) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fetched {
		if s.fetch != nil {
			s.mainURL, s.fetchErr = s.fetch(ctx, s.SiteID)
		}
		s.fetched = true
	}
	if s.fetchErr != nil {
		return "", "", false, fmt.Errorf("resolver: fetch main url for site %q: %w", s.SiteID, s.fetchErr)
	}
	return s.SiteID, s.mainURL, true, nil
}

// Dynamic resolves a site id and main URL per hostname via an HTTP
// lookup, caching both hits and misses so repeated lookups for the same
// host (common across a large log) cost one round trip total.
type Dynamic struct {
	lookup Lookup

	mu    sync.Mutex
	cache map[string]dynamicEntry
}

type dynamicEntry struct {
	siteID  string
	mainURL string
	ok      bool
}

// NewDynamic returns a Resolver backed by lookup, with its own cache.
func NewDynamic(lookup Lookup) *Dynamic {
	return &Dynamic{lookup: lookup, cache: make(map[string]dynamicEntry)}
}

// Resolve implements Resolver. A host of "" is treated as the sentinel
// for "format produced no host field," matching the original importer's
// substitution of a literal placeholder rather than failing the hit.
func (d *Dynamic) Resolve(ctx context.Context, host string) (string, string, bool, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		host = noHostnameSentinel
	}

	d.mu.Lock()
	if cached, ok := d.cache[host]; ok {
		d.mu.Unlock()
		return cached.siteID, cached.mainURL, cached.ok, nil
	}
	d.mu.Unlock()

	siteID, mainURL, ok, err := d.lookup(ctx, host)
	if err != nil {
		return "", "", false, fmt.Errorf("resolver: lookup %q: %w", host, err)
	}

	d.mu.Lock()
	d.cache[host] = dynamicEntry{siteID: siteID, mainURL: mainURL, ok: ok}
	d.mu.Unlock()

	return siteID, mainURL, ok, nil
}

// Replay bypasses resolution entirely: in replay mode the hit's own
// idsite query argument is authoritative (spec.md §4.4).
type Replay struct{}

// NewReplay returns a Resolver that never performs a lookup; callers in
// replay mode should read the site id directly from the Hit's args
// instead of calling Resolve.
func NewReplay() *Replay { return &Replay{} }

// Resolve implements Resolver by always failing: replay mode must never
// reach the resolver, reaching here is a caller wiring bug.
func (r *Replay) Resolve(context.Context, string) (string, string, bool, error) {
	return "", "", false, fmt.Errorf("resolver: replay mode must read idsite from the hit, not call Resolve")
}
