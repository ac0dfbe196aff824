// Package trackctx wires the format registry/detector, hit parser,
// filter chain, resolver, request builder, recorder pool, HTTP client
// and stats together into one runnable pipeline, per spec.md §9 DESIGN
// NOTES' call to refactor global state into an explicit context.
package trackctx

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/nekrassov01/hitreplay/internal/filter"
	"github.com/nekrassov01/hitreplay/internal/format"
	"github.com/nekrassov01/hitreplay/internal/hit"
	"github.com/nekrassov01/hitreplay/internal/hitparser"
	"github.com/nekrassov01/hitreplay/internal/recorder"
	"github.com/nekrassov01/hitreplay/internal/reqbuilder"
	"github.com/nekrassov01/hitreplay/internal/resolver"
	"github.com/nekrassov01/hitreplay/internal/stats"
	"github.com/nekrassov01/hitreplay/internal/trackconfig"
	"github.com/nekrassov01/hitreplay/internal/trackerr"
	"github.com/nekrassov01/hitreplay/internal/trackhttp"
	"github.com/sirupsen/logrus"
)

// Context holds every collaborator for one run, stamped with a run id so
// concurrent recorder output can be correlated in aggregated logs.
type Context struct {
	RunID  string
	Config *trackconfig.Config
	Log    *logrus.Entry

	Registry *format.Registry
	Format   format.Format
	Parser   *hitparser.Parser
	Chain    *filter.Chain
	Resolver resolver.Resolver
	Builder  *reqbuilder.Builder
	HTTP     *trackhttp.Client
	Pool     *recorder.Pool
	Counters *stats.Counters

	started time.Time
}

// New builds a Context from cfg. detectLines and headerLines are the
// caller-supplied sample used for format auto-detection (spec.md §4.1);
// setting cfg.LogFormatName or cfg.LogFormatRegex skips sampling entirely.
func New(cfg *trackconfig.Config, detectLines, headerLines []string, logger *logrus.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, trackerr.NewFatal(fmt.Errorf("trackctx: invalid configuration: %w", err))
	}

	runID := uuid.NewString()
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("run_id", runID)

	reg := format.NewDefaultRegistry()
	opts := format.Options{
		Name:                 cfg.LogFormatName,
		Regex:                cfg.LogFormatRegex,
		DateFormat:           cfg.LogDateFormat,
		HeaderLines:          headerLines,
		CustomW3CFields:      cfg.CustomW3CFields,
		W3CFieldRegexes:      cfg.W3CFieldRegexes,
		W3CTimeTakenInMillis: cfg.W3CTimeTakenInMillis,
	}
	res, err := format.Detect(reg, detectLines, opts)
	if err != nil {
		return nil, trackerr.NewFatal(fmt.Errorf("trackctx: detect format: %w", err))
	}
	for _, w := range res.Warnings {
		log.Warn(w)
	}

	if !cfg.ReplayTracking && res.Format.Regex() != nil && !hasHostCapture(res.Format) && len(cfg.Hostnames) == 0 && cfg.SiteID == "" {
		log.Warn("selected format has no host field; dynamic site resolution will use a sentinel host")
	}

	// cfg.Validate has already checked that every path pattern compiles.
	var excludedPaths, includedPaths []*regexp.Regexp
	for _, p := range cfg.ExcludedPaths {
		excludedPaths = append(excludedPaths, regexp.MustCompile(p))
	}
	for _, p := range cfg.IncludedPaths {
		includedPaths = append(includedPaths, regexp.MustCompile(p))
	}

	chain := filter.NewChain(&filter.Config{
		Hostnames:               cfg.Hostnames,
		ExcludedPaths:           excludedPaths,
		IncludedPaths:           includedPaths,
		EnableStatic:            cfg.EnableStatic,
		EnableBots:              cfg.EnableBots,
		ExcludedUserAgents:      cfg.ExcludedUserAgents,
		EnableHTTPErrors:        cfg.EnableHTTPErrors,
		EnableHTTPRedirects:     cfg.EnableHTTPRedirects,
		ExcludeOlderThan:        cfg.ExcludeOlderThan,
		ExcludeNewerThan:        cfg.ExcludeNewerThan,
		ExcludeHost:             cfg.ExcludeHost,
		IncludeHost:             cfg.IncludeHost,
		Replay:                  cfg.ReplayTracking,
		DownloadExtensions:      cfg.DownloadExtensions,
		ExtraDownloadExtensions: cfg.ExtraDownloadExtensions,
	})

	parser := hitparser.New(res.Format, hitparser.Config{
		Replay:                    cfg.ReplayTracking,
		StripQueryString:          cfg.StripQueryString,
		QueryStringDelimiter:      cfg.QueryStringDelimiter,
		ForceLowercasePath:        cfg.ForceLowercasePath,
		RegexGroupToVisitCvarsMap: cfg.RegexGroupToVisitCvarsMap,
		RegexGroupToPageCvarsMap:  cfg.RegexGroupToPageCvarsMap,
		RegexGroupsToIgnore:       cfg.RegexGroupsToIgnore,
		DebugRequestLimit:         cfg.DebugRequestLimit,
		Skip:                      cfg.Skip,
		SecondsToAddToDate:        cfg.SecondsToAddToDate,
	}, chain, log)

	httpClient := trackhttp.New(trackhttp.Config{
		TrackerURL:     cfg.PiwikURL + cfg.TrackerEndpointPath,
		APIURL:         cfg.PiwikAPIURL,
		AuthUser:       cfg.AuthUser,
		AuthPassword:   cfg.AuthPassword,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		BulkTracking:   !cfg.DisableBulkTracking,
		RequestTimeout: cfg.RequestTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		DelayAfterFail: cfg.DelayAfterFailure,
		InsecureSkip:   cfg.AcceptInvalidSSLCert,
	}, nil, log)

	var rslv resolver.Resolver
	switch {
	case cfg.ReplayTracking:
		rslv = resolver.NewReplay()
	case cfg.SiteID != "":
		rslv = resolver.NewStatic(cfg.SiteID, httpClient.FetchMainURL)
	default:
		rslv = resolver.NewDynamic(httpClient.ResolveSiteID)
	}

	builder := reqbuilder.New(&reqbuilder.Config{
		Replay:            cfg.ReplayTracking,
		EnableBots:        cfg.EnableBots,
		ReverseDNSEnabled: cfg.ReverseDNS,
		DebugTracker:      cfg.DebugTracker,
		TitleDelimiter:    cfg.TitleCategoryDelimiter,
	})

	return &Context{
		RunID:    runID,
		Config:   cfg,
		Log:      log,
		Registry: reg,
		Format:   res.Format,
		Parser:   parser,
		Chain:    chain,
		Resolver: rslv,
		Builder:  builder,
		HTTP:     httpClient,
		Counters: stats.NewCounters(),
	}, nil
}

func hasHostCapture(f format.Format) bool {
	re := f.Regex()
	if re == nil {
		return true // header-driven formats validate their own fields at BuildFromHeader time
	}
	for _, name := range re.SubexpNames() {
		if name == "host" {
			return true
		}
	}
	return false
}

// Run scans r (already open, per spec.md §1) and replays every
// surviving hit against the tracker, returning the first fatal error
// encountered, if any.
func (c *Context) Run(ctx context.Context, filename string, r io.Reader) error {
	c.started = time.Now()

	if !c.Config.ReplayTracking {
		if err := c.HTTP.Authenticate(ctx); err != nil {
			return trackerr.NewFatal(fmt.Errorf("trackctx: authenticate: %w", err))
		}
	}

	c.Pool = recorder.New(ctx, recorder.Config{
		Workers:        c.Config.Recorders,
		MaxPayloadSize: c.Config.RecorderMaxPayloadSize,
		BulkTracking:   !c.Config.DisableBulkTracking,
	}, func(sendCtx context.Context, batch []map[string]any) error {
		c.Counters.IncRequestsSent()
		if c.Config.DryRun {
			return nil
		}
		return c.HTTP.SendBatch(sendCtx, batch)
	})

	err := c.Parser.ParseReader(ctx, filename, r, func(line hitparser.Line) bool {
		switch line.Outcome {
		case hitparser.OutcomeInvalid:
			c.Counters.IncLinesInvalid()
			c.Log.WithError(line.Err).Debug("invalid line")
		case hitparser.OutcomeFiltered:
			c.Counters.IncLinesFiltered()
		case hitparser.OutcomeRecorded:
			c.Counters.IncLinesParsed()
			if line.Hit.IsDownload {
				c.Counters.IncHitsDownload()
			}
			if line.Hit.IsRobot {
				c.Counters.IncHitsBot()
			}
			if line.Hit.IsError {
				c.Counters.IncHitsError()
			}
			if line.Hit.IsRedirect {
				c.Counters.IncHitsRedirect()
			}
			if err := c.recordHit(ctx, line.Hit); err != nil {
				c.Log.WithError(err).Warn("dropping hit: could not resolve site id")
				return true
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	return trackerr.NewFatal(c.Pool.Wait())
}

// recordHit resolves h's site id (skipped entirely in replay mode,
// where the hit's own idsite argument is authoritative), builds its
// tracker argument map, and enqueues it on the recorder pool shard for
// its visitor key.
func (c *Context) recordHit(ctx context.Context, h *hit.Hit) error {
	var mainURL string
	if !c.Config.ReplayTracking {
		siteID, resolvedMainURL, ok, err := c.Resolver.Resolve(ctx, h.Host)
		if err != nil {
			return err
		}
		if !ok {
			c.Counters.AddIgnoredHostname(h.Host)
			return fmt.Errorf("trackctx: no site registered for host %q", h.Host)
		}
		h.Args["idsite"] = siteID
		mainURL = resolvedMainURL
	}

	args := c.Builder.Build(h, mainURL)
	c.Pool.Enqueue(ctx, h.VisitorKey(c.Config.ReplayTracking), args)
	c.Counters.IncHitsRecorded()
	return nil
}
