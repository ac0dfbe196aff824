// Package filter implements the ordered chain of predicates that decide
// whether a parsed Hit is recorded, and tags it (is_download, is_robot,
// is_error, is_redirect) along the way.
package filter

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/nekrassov01/hitreplay/internal/hit"
)

// Reason identifies why a Hit was rejected, used as a stats counter key.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonHostname       Reason = "excluded_hostname"
	ReasonStatic         Reason = "static_ignored"
	ReasonDownload       Reason = "download_ignored"
	ReasonBot            Reason = "bot_ignored"
	ReasonError          Reason = "http_error_ignored"
	ReasonRedirect       Reason = "http_redirect_ignored"
	ReasonPathExcluded   Reason = "path_excluded"
	ReasonDateOutOfRange Reason = "date_out_of_range"
	ReasonHostExcluded   Reason = "host_excluded"
)

// Filter inspects (and may mutate) a Hit, returning a rejection Reason
// or ReasonNone to let it continue down the chain.
type Filter func(h *hit.Hit) Reason

// Config carries every knob the 8 built-in filters read. Populated from
// trackconfig.Config by the caller that builds the chain.
type Config struct {
	Replay bool // replay mode: HTTP errors are never rejected (spec.md §4.3 filter 5)

	Hostnames     []string
	ExcludedPaths []*regexp.Regexp
	IncludedPaths []*regexp.Regexp

	EnableStatic bool

	DownloadExtensions      []string
	ExtraDownloadExtensions []string

	EnableBots         bool
	ExcludedUserAgents []string

	EnableHTTPErrors    bool
	EnableHTTPRedirects bool

	ExcludeOlderThan time.Time
	ExcludeNewerThan time.Time
	ExcludeHost      []string
	IncludeHost      []string
}

// defaultStaticExtensions is the fixed image/style/script extension set
// spec.md §4.3 filter 2 names; unlike the download set it is never
// configurable, mirroring the original importer's STATIC_EXTENSIONS.
var defaultStaticExtensions = map[string]bool{
	"gif": true, "jpg": true, "jpeg": true, "png": true, "bmp": true, "ico": true,
	"svg": true, "svgz": true, "ttf": true, "otf": true, "eot": true, "woff": true,
	"woff2": true, "class": true, "swf": true, "css": true, "js": true, "xml": true,
	"webp": true,
}

const staticFileRobotsTxt = "robots.txt"

// defaultDownloadExtensions mirrors the original importer's
// DOWNLOAD_EXTENSIONS constant: the closed set of "known download"
// extensions consulted when the configured download whitelist doesn't
// claim an extension.
var defaultDownloadExtensions = map[string]bool{
	"7z": true, "aac": true, "arc": true, "arj": true, "asf": true, "asx": true,
	"avi": true, "bin": true, "csv": true, "deb": true, "dmg": true, "doc": true,
	"docx": true, "exe": true, "flac": true, "flv": true, "gz": true, "gzip": true,
	"hqx": true, "ibooks": true, "jar": true, "json": true, "mpg": true, "mp2": true,
	"mp3": true, "mp4": true, "mpeg": true, "mov": true, "movie": true, "msi": true,
	"msp": true, "odb": true, "odf": true, "odg": true, "odp": true, "ods": true,
	"odt": true, "ogg": true, "ogv": true, "pdf": true, "phps": true, "ppt": true,
	"pptx": true, "qt": true, "qtm": true, "ra": true, "ram": true, "rar": true,
	"rpm": true, "rtf": true, "sea": true, "sit": true, "tar": true, "tbz": true,
	"bz2": true, "tgz": true, "torrent": true, "txt": true, "wav": true, "webm": true,
	"wma": true, "wmv": true, "wpd": true, "xls": true, "xlsx": true, "xml": true,
	"xsd": true, "z": true, "zip": true, "azw3": true, "epub": true, "mobi": true,
	"apk": true,
}

// defaultBotSubstrings mirrors the original importer's bot-useragent
// substring list; UserAgentFilter consults it to tag Hit.IsRobot
// whether or not bot tracking is enabled.
var defaultBotSubstrings = []string{
	"bot", "crawl", "spider", "slurp", "facebookexternalhit", "feedburner",
	"feedfetcher", "pingdom", "monitor", "curl", "wget", "python-requests",
	"java/", "libwww", "http client",
}

func extensionOf(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// HostnameFilter rejects hits whose Host is not one of cfg.Hostnames,
// when that list is non-empty.
func HostnameFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		if len(cfg.Hostnames) == 0 {
			return ReasonNone
		}
		host := strings.ToLower(h.Host)
		for _, allowed := range cfg.Hostnames {
			if strings.EqualFold(allowed, host) {
				return ReasonNone
			}
		}
		return ReasonHostname
	}
}

// StaticFilter matches the fixed image/style/script extension set plus
// the literal filename "robots.txt". When matched, enabling static
// tracking tags the hit as a download (the original importer's own
// naming: a tracked static asset is recorded the same way a download
// is) and keeps it; otherwise the hit is dropped.
func StaticFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		filename := path.Base(h.Path)
		ext := extensionOf(h.Path)
		if !defaultStaticExtensions[ext] && filename != staticFileRobotsTxt {
			return ReasonNone
		}
		if !cfg.EnableStatic {
			return ReasonStatic
		}
		h.IsDownload = true
		return ReasonNone
	}
}

// DownloadFilter tags Hit.IsDownload for an extension in the configured
// download whitelist (defaulting to the full known-download set) and
// keeps it; an extension known to be a download but not whitelisted is
// dropped; anything else passes through untouched.
func DownloadFilter(cfg *Config) Filter {
	configured := make(map[string]bool, len(defaultDownloadExtensions))
	if len(cfg.DownloadExtensions) > 0 {
		for _, e := range cfg.DownloadExtensions {
			configured[strings.ToLower(e)] = true
		}
	} else {
		for ext := range defaultDownloadExtensions {
			configured[ext] = true
		}
	}
	for _, e := range cfg.ExtraDownloadExtensions {
		configured[strings.ToLower(e)] = true
	}

	return func(h *hit.Hit) Reason {
		ext := extensionOf(h.Path)
		if ext == "" {
			return ReasonNone
		}
		if configured[ext] {
			h.IsDownload = true
			return ReasonNone
		}
		if defaultDownloadExtensions[ext] {
			return ReasonDownload
		}
		return ReasonNone
	}
}

// UserAgentFilter tags Hit.IsRobot from substring matching against the
// user agent and rejects bot traffic unless cfg.EnableBots is set.
func UserAgentFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		ua := strings.ToLower(h.UserAgent)
		for _, excluded := range cfg.ExcludedUserAgents {
			if excluded != "" && strings.Contains(ua, strings.ToLower(excluded)) {
				h.IsRobot = true
				break
			}
		}
		if !h.IsRobot {
			for _, sub := range defaultBotSubstrings {
				if strings.Contains(ua, sub) {
					h.IsRobot = true
					break
				}
			}
		}
		if h.IsRobot && !cfg.EnableBots {
			return ReasonBot
		}
		return ReasonNone
	}
}

// HTTPErrorFilter tags Hit.IsError for 4xx/5xx statuses. In replay mode
// the hit is always kept regardless of cfg.EnableHTTPErrors, since a
// replayed request's original tracking outcome doesn't depend on
// whether the origin server errored the first time (spec.md §4.3
// filter 5).
func HTTPErrorFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		if !strings.HasPrefix(h.Status, "4") && !strings.HasPrefix(h.Status, "5") {
			return ReasonNone
		}
		h.IsError = true
		if cfg.Replay || cfg.EnableHTTPErrors {
			return ReasonNone
		}
		return ReasonError
	}
}

// HTTPRedirectFilter tags Hit.IsRedirect for 3xx statuses other than
// 304, which passes through untouched (spec.md §8 boundary scenario 6).
func HTTPRedirectFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		if !strings.HasPrefix(h.Status, "3") || h.Status == "304" {
			return ReasonNone
		}
		h.IsRedirect = true
		if cfg.EnableHTTPRedirects {
			return ReasonNone
		}
		return ReasonRedirect
	}
}

// PathFilter rejects hits whose path matches any of cfg.ExcludedPaths,
// or, when cfg.IncludedPaths is non-empty, that don't match any of them.
func PathFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		for _, re := range cfg.ExcludedPaths {
			if re.MatchString(h.Path) {
				return ReasonPathExcluded
			}
		}
		if len(cfg.IncludedPaths) == 0 {
			return ReasonNone
		}
		for _, re := range cfg.IncludedPaths {
			if re.MatchString(h.Path) {
				return ReasonNone
			}
		}
		return ReasonPathExcluded
	}
}

// DateAndHostFilter rejects hits outside [ExcludeOlderThan,
// ExcludeNewerThan] or whose Host fails the include/exclude host lists.
func DateAndHostFilter(cfg *Config) Filter {
	return func(h *hit.Hit) Reason {
		if !cfg.ExcludeOlderThan.IsZero() && h.Date.Before(cfg.ExcludeOlderThan) {
			return ReasonDateOutOfRange
		}
		if !cfg.ExcludeNewerThan.IsZero() && h.Date.After(cfg.ExcludeNewerThan) {
			return ReasonDateOutOfRange
		}
		host := strings.ToLower(h.Host)
		for _, excluded := range cfg.ExcludeHost {
			if strings.EqualFold(excluded, host) {
				return ReasonHostExcluded
			}
		}
		if len(cfg.IncludeHost) == 0 {
			return ReasonNone
		}
		for _, included := range cfg.IncludeHost {
			if strings.EqualFold(included, host) {
				return ReasonNone
			}
		}
		return ReasonHostExcluded
	}
}

// Chain runs every filter in order against h, stopping at the first
// rejection. It returns ReasonNone when h survives the whole chain.
type Chain struct {
	filters []Filter
}

// NewChain builds the 8-stage chain in spec.md §4.3's fixed order.
func NewChain(cfg *Config) *Chain {
	return &Chain{filters: []Filter{
		HostnameFilter(cfg),
		StaticFilter(cfg),
		DownloadFilter(cfg),
		UserAgentFilter(cfg),
		HTTPErrorFilter(cfg),
		HTTPRedirectFilter(cfg),
		PathFilter(cfg),
		DateAndHostFilter(cfg),
	}}
}

// Run applies every stage in order, returning the first rejection
// reason encountered, or ReasonNone if h survives.
func (c *Chain) Run(h *hit.Hit) Reason {
	for _, f := range c.filters {
		if r := f(h); r != ReasonNone {
			return r
		}
	}
	return ReasonNone
}
