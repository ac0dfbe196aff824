// Package trackconfig defines the plain configuration surface the core
// accepts. Populating it (flags, env, a config file) is the caller's
// job, per spec.md §1 — this package never parses os.Args or opens a
// file itself.
package trackconfig

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config mirrors spec.md §6's configuration-surface table field for
// field, transliterated from the original importer's argparse options.
type Config struct {
	// Destination
	PiwikURL           string
	PiwikAPIURL        string
	TrackerEndpointPath string
	ClientID           string
	ClientSecret       string
	AuthUser           string
	AuthPassword       string
	SiteID             string // non-empty selects the static resolver

	// Hostname / path gating
	Hostnames      []string
	ExcludedPaths  []string
	IncludedPaths  []string
	ExcludeHost    []string
	IncludeHost    []string

	// User agent / bot handling
	ExcludedUserAgents []string
	EnableBots         bool

	// ReverseDNS reports that the caller resolves client IPs to hostnames
	// before hits reach this package; it only affects the tracker's "dp"
	// parameter (spec.md §4.5).
	ReverseDNS bool

	// Status-code handling
	EnableStatic       bool
	EnableHTTPErrors   bool
	EnableHTTPRedirects bool

	// Download extensions
	DownloadExtensions      []string
	ExtraDownloadExtensions []string

	// Query string handling
	StripQueryString     bool
	QueryStringDelimiter string
	ForceLowercasePath   bool

	// Format selection
	LogFormatName   string
	LogFormatRegex  string
	LogDateFormat   string
	LogHostname     string

	// W3C-specific overrides
	W3CFields           []string
	CustomW3CFields      map[string]string
	W3CFieldRegexes      map[string]string
	W3CTimeTakenInMillis bool

	// Custom variable / ignored-group mapping
	RegexGroupToVisitCvarsMap map[string]string
	RegexGroupToPageCvarsMap  map[string]string
	RegexGroupsToIgnore       []string

	// Concurrency / transport tuning
	Recorders              int
	RecorderMaxPayloadSize int
	DisableBulkTracking    bool
	MaxAttempts            int
	DelayAfterFailure      time.Duration
	RequestTimeout         time.Duration
	SleepBetweenRequestsMs int

	// Replay mode
	ReplayTracking                    bool
	ReplayTrackingExpectedTrackerFile string

	// TitleCategoryDelimiter separates the status, "URL = ..." and
	// "From = ..." segments of the action name the request builder sets
	// for tracked errors and redirects (spec.md §4.5). Empty means "/",
	// the original importer's default.
	TitleCategoryDelimiter string

	// Date window
	ExcludeOlderThan    time.Time
	ExcludeNewerThan    time.Time
	SecondsToAddToDate  int

	// Operational
	Skip                int
	DryRun               bool
	DumpLogRegex         bool
	DebugRequestLimit    int
	DebugTracker         bool
	AcceptInvalidSSLCert bool
}

// Validate checks the configuration for internal consistency, collecting
// every problem found via go-multierror rather than stopping at the
// first one, per DESIGN.md's ambient-stack rationale.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.PiwikURL == "" && !c.DryRun {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: piwik_url is required unless dry_run is set"))
	}
	if c.SiteID == "" && !c.ReplayTracking && len(c.Hostnames) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: one of site_id, replay_tracking, or hostnames must be set to resolve a site id"))
	}
	if c.LogFormatName != "" && c.LogFormatRegex != "" {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: log_format_name and log_format_regex are mutually exclusive"))
	}
	for _, pattern := range append(append([]string{}, c.ExcludedPaths...), c.IncludedPaths...) {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("trackconfig: invalid path pattern %q: %w", pattern, err))
		}
	}
	if c.Recorders <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: recorders must be positive"))
	}
	if c.MaxAttempts <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: max_attempts must be positive"))
	}
	if !c.ExcludeOlderThan.IsZero() && !c.ExcludeNewerThan.IsZero() && c.ExcludeOlderThan.After(c.ExcludeNewerThan) {
		errs = multierror.Append(errs, fmt.Errorf("trackconfig: exclude_older_than must not be after exclude_newer_than"))
	}

	return errs.ErrorOrNil()
}
