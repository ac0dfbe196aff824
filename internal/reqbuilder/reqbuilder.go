// Package reqbuilder turns a filtered Hit into the flat argument map the
// tracker HTTP client sends, via an ordered chain of Rules plus a final
// PHP-style deep-array flattening pass.
package reqbuilder

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nekrassov01/hitreplay/internal/hit"
)

// trackingClientName and trackingClientVersion identify this importer to
// the tracker (ts_n/ts_v), mirroring the original's TRACKING_CLIENT_NAME
// and TRACKING_CLIENT_VERSION constants. Omitted entirely in replay mode,
// where the hit's own client identity (if any) must win.
const (
	trackingClientName    = "wla"
	trackingClientVersion = "4.1.0"
)

// maxURLLen bounds how much of a path/referrer is carried into the
// tracker's url/urlref parameters (spec.md §4.5).
const maxURLLen = 1024

// Rule mutates a tracker argument map in place given the Hit it was
// built from and the resolved main URL for its site. Outside replay mode
// the rules run in a fixed order (spec.md §4.5): URL synthesis, HitArgs,
// ErrorOrRedirect, Misc. In replay mode only the replay rule runs, so a
// replayed request gets no bots, download, action_name, debug or other
// Misc parameters from this builder.
type Rule func(h *hit.Hit, mainURL string, args map[string]any)

// Config carries the handful of knobs request-building needs from
// trackconfig.Config.
type Config struct {
	Replay            bool
	EnableBots        bool
	ReverseDNSEnabled bool
	DebugTracker      bool

	// TitleDelimiter separates the segments of a tracked error/redirect's
	// action_name (spec.md §4.5 rule 3). Defaults to "/" when empty.
	TitleDelimiter string
}

// Builder runs the ordered Rule chain and flattens the result.
type Builder struct {
	cfg   *Config
	rules []Rule
}

// New returns a Builder configured per cfg.
func New(cfg *Config) *Builder {
	b := &Builder{cfg: cfg}
	if cfg.Replay {
		b.rules = append(b.rules, replayRule)
	} else {
		b.rules = append(b.rules, urlSynthesisRule, hitArgsRule(cfg), errorOrRedirectRule(cfg), miscRule(cfg))
	}
	return b
}

// Build returns the final tracker argument map for h: a base map of
// fixed tracking parameters merged with a copy of h.Args, run through
// every configured Rule, then flattened from PHP deep-array syntax into
// nested Go values. mainURL is the site's main URL as resolved for h's
// host (empty in replay mode, where it is never consulted).
func (b *Builder) Build(h *hit.Hit, mainURL string) map[string]any {
	args := make(map[string]any, len(h.Args)+8)
	args["rec"] = "1"
	args["apiv"] = "1"
	args["cip"] = h.IP
	args["cdt"] = h.Date.Format("2006-01-02 15:04:05")
	args["queuedtracking"] = "0"
	if b.cfg.ReverseDNSEnabled {
		args["dp"] = "0"
	} else {
		args["dp"] = "1"
	}
	args["ua"] = h.UserAgent
	for k, v := range h.Args {
		args[k] = v
	}

	for _, r := range b.rules {
		r(h, mainURL, args)
	}
	return flatten(args)
}

// replayRule is the identity rule for replay mode: in replay mode
// h.Args already IS the tracker's own original query string, reparsed
// verbatim (spec.md §4.4); only rec must be forced back to "0" since
// the base map above otherwise defaults it to "1".
func replayRule(h *hit.Hit, mainURL string, args map[string]any) {
	args["rec"] = "0"
}

// urlSynthesisRule builds "url" by prefixing the main URL or a
// scheme-qualified host onto the hit's path (truncated to 1024 chars),
// and "urlref" from the referrer (also truncated), mirroring the
// original importer's ReplayTrackingRule non-replay branch.
func urlSynthesisRule(h *hit.Hit, mainURL string, args map[string]any) {
	prefix := mainURL
	if h.Host != "" {
		prefix = hostWithProtocol(h.Host, mainURL)
	}
	args["url"] = prefix + truncate(h.FullPath, maxURLLen)
	if h.Referrer != "" {
		args["urlref"] = truncate(h.Referrer, maxURLLen)
	}
}

// hostWithProtocol qualifies a bare host with the scheme parsed from
// mainURL, falling back to "http" when mainURL carries none or doesn't
// parse (the original importer's _get_host_with_protocol).
func hostWithProtocol(host, mainURL string) string {
	scheme := "http"
	if u, err := url.Parse(mainURL); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	}
	return scheme + "://" + host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// hitArgsRule fills in the remaining base tracking parameters derived
// from the Hit's normalized fields, mirroring the original importer's
// Recorder.get_hit_args. idsite is left untouched since Build's initial
// copy of h.Args already carries it.
func hitArgsRule(cfg *Config) Rule {
	return func(h *hit.Hit, mainURL string, args map[string]any) {
		if h.IsDownload {
			args["download"] = args["url"]
		}
		if cfg.EnableBots {
			args["bots"] = "1"
		}
	}
}

// errorOrRedirectRule sets the page title to mark a tracked error or
// redirect page. This is the corrected form of spec.md's Open Question
// #1: the original Python ORs is_error with itself (a typo); here the
// condition is the evidently intended is_error || is_redirect.
func errorOrRedirectRule(cfg *Config) Rule {
	delim := cfg.TitleDelimiter
	if delim == "" {
		delim = "/"
	}
	return func(h *hit.Hit, mainURL string, args map[string]any) {
		if !h.IsError && !h.IsRedirect {
			return
		}
		u, _ := args["url"].(string)
		var b strings.Builder
		b.WriteString(h.Status)
		b.WriteString(delim)
		b.WriteString("URL = ")
		b.WriteString(percentEncode(u))
		if urlref, ok := args["urlref"].(string); ok && urlref != "" {
			b.WriteString(delim)
			b.WriteString("From = ")
			b.WriteString(percentEncode(urlref))
		}
		args["action_name"] = b.String()
	}
}

// percentEncode matches Python's urllib.parse.quote(s, safe=""): every
// byte outside the unreserved set is percent-escaped, including space
// (as "%20", not "+").
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// miscRule fills the remaining scalar/derived parameters that depend on
// rules having already run (spec.md §4.5 rule 4).
func miscRule(cfg *Config) Rule {
	return func(h *hit.Hit, mainURL string, args map[string]any) {
		if h.UserID != "" {
			args["uid"] = h.UserID
		}
		if h.GenerationTimeMilli > 0 {
			args["gt_ms"] = strconv.FormatFloat(h.GenerationTimeMilli, 'f', -1, 64)
		}
		if h.EventCategory != "" {
			args["e_c"] = h.EventCategory
			args["e_a"] = h.EventAction
			if h.EventName != "" {
				args["e_n"] = h.EventName
			}
		}
		args["bw_bytes"] = strconv.Itoa(h.Length)
		serializeCustomVars(args, "cvar")
		serializeCustomVars(args, "_cvar")
		if !cfg.Replay {
			args["ts_n"] = trackingClientName
			args["ts_v"] = trackingClientVersion
		}
		if cfg.DebugTracker {
			args["debug"] = "1"
		}
	}
}

// serializeCustomVars JSON-encodes args[name] in place when it is still
// the nested map the parser built (spec.md §4.5 rule 4 "serialize cvar
// and _cvar as JSON if not already strings"); a value that is already a
// string is left untouched.
func serializeCustomVars(args map[string]any, name string) {
	v, ok := args[name]
	if !ok {
		return
	}
	if _, isString := v.(string); isString {
		return
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return
	}
	args[name] = string(encoded)
}

// flatten expands PHP deep-array argument names (a[b][c][] style keys,
// as produced by query-string re-parsing in replay mode) into nested
// map[string]any / []any structures, then converts any subtree whose
// keys are contiguous integers from "0" into a real list (spec.md §8
// invariant 5). Custom-variable maps are keyed from "1" (internal/hit)
// so they are never mistaken for a list by this pass.
func flatten(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		root, path, ok := splitDeepArrayKey(k)
		if !ok {
			out[k] = v
			continue
		}
		assignDeepArray(out, root, path, v)
	}
	for k, v := range out {
		out[k] = collapseLists(v)
	}
	return out
}

// collapseLists recursively converts any map[string]any whose keys form
// a contiguous integer sequence starting at 0 into an []any, in index
// order; every other value (including maps keyed from 1, like cvar) is
// returned unchanged except for its own children being collapsed.
func collapseLists(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = collapseLists(child)
	}
	if !isContiguousFromZero(m) {
		return m
	}
	list := make([]any, len(m))
	for k, child := range m {
		idx, _ := strconv.Atoi(k)
		list[idx] = child
	}
	return list
}

func isContiguousFromZero(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for i := 0; i < len(m); i++ {
		if _, ok := m[strconv.Itoa(i)]; !ok {
			return false
		}
	}
	return true
}

// splitDeepArrayKey splits "a[b][c][]" into root "a" and path
// ["b", "c", ""] (an empty path segment means "append").
func splitDeepArrayKey(key string) (root string, path []string, ok bool) {
	i := strings.IndexByte(key, '[')
	if i < 0 {
		return "", nil, false
	}
	root = key[:i]
	rest := key[i:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return root, path, true
}

func assignDeepArray(out map[string]any, root string, path []string, value any) {
	cur, ok := out[root].(map[string]any)
	if !ok {
		cur = make(map[string]any)
		out[root] = cur
	}
	assignPath(cur, path, value)
}

func assignPath(cur map[string]any, path []string, value any) {
	key := path[0]
	if len(path) == 1 {
		if key == "" {
			key = nextIndex(cur)
		}
		cur[key] = value
		return
	}
	if key == "" {
		key = nextIndex(cur)
	}
	next, ok := cur[key].(map[string]any)
	if !ok {
		next = make(map[string]any)
		cur[key] = next
	}
	assignPath(next, path[1:], value)
}

func nextIndex(m map[string]any) string {
	return strconv.Itoa(len(m))
}

// ParseQueryString re-parses a raw tracker query string (replay mode's
// source of h.Args) into the scalar/deep-array map Build's flatten step
// expects as input, decoding percent-escapes the way the original
// tracker encoded them.
func ParseQueryString(raw string) (map[string]any, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("reqbuilder: parse query string: %w", err)
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	return out, nil
}
