// Package hitparser turns raw log lines into normalized Hits, driving a
// format.Format match, applying custom-variable enrichment, and handing
// each line through the filter chain before it reaches the recorder.
package hitparser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nekrassov01/hitreplay/internal/filter"
	"github.com/nekrassov01/hitreplay/internal/format"
	"github.com/nekrassov01/hitreplay/internal/hit"
	"github.com/sirupsen/logrus"
)

// Config configures the parser beyond format selection, mirroring the
// relevant slice of trackconfig.Config.
type Config struct {
	Replay                    bool
	StripQueryString          bool
	QueryStringDelimiter      string
	ForceLowercasePath        bool
	RegexGroupToVisitCvarsMap map[string]string
	RegexGroupToPageCvarsMap  map[string]string
	RegexGroupsToIgnore       []string
	DebugRequestLimit         int
	Skip                      int

	// SecondsToAddToDate shifts every parsed instant (and, in replay
	// mode, the _idts/_viewts/_ects/_refts query timestamps) by this
	// many seconds, per spec.md §4.2 step 6 / §6 seconds_to_add_to_date.
	SecondsToAddToDate int
}

// replayTimestampParams are the query parameters seconds_to_add_to_date
// also shifts in replay mode (spec.md §4.2 replay mode paragraph).
var replayTimestampParams = [...]string{"_idts", "_viewts", "_ects", "_refts"}

// Parser drives one format.Format instance over a stream of lines. A
// Parser is not safe for concurrent use — the format it wraps holds the
// state of the most recent match (see format.Format's doc comment).
type Parser struct {
	f      format.Format
	cfg    Config
	chain  *filter.Chain
	log    *logrus.Entry
}

// New returns a Parser driving f, filtering every surviving Hit through
// chain.
func New(f format.Format, cfg Config, chain *filter.Chain, log *logrus.Entry) *Parser {
	return &Parser{f: f, cfg: cfg, chain: chain, log: log}
}

// Outcome classifies what happened to one line.
type Outcome int

const (
	OutcomeRecorded Outcome = iota
	OutcomeInvalid
	OutcomeFiltered
)

// Line is one parsed result, handed to the caller's sink.
type Line struct {
	Outcome Outcome
	Hit     *hit.Hit
	Reason  filter.Reason // set when Outcome == OutcomeFiltered
	Err     error         // set when Outcome == OutcomeInvalid
}

// Sink receives each Line as it's produced; returning false stops the
// scan early (used to implement DebugRequestLimit).
type Sink func(Line) (more bool)

// ParseReader scans r line by line, applying the configured format,
// enrichment, and filter chain, and calling sink for each result. r is
// assumed already open and decompressed — opening files/streams is
// explicitly out of scope for this package (spec.md §1).
func (p *Parser) ParseReader(ctx context.Context, filename string, r io.Reader, sink Sink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineno := 0
	recorded := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lineno++
		if lineno <= p.cfg.Skip {
			continue
		}
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		result := p.parseLine(filename, lineno, line)
		if result.Outcome == OutcomeRecorded {
			recorded++
		}
		if !sink(result) {
			break
		}
		if p.cfg.DebugRequestLimit > 0 && recorded >= p.cfg.DebugRequestLimit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hitparser: scan %s: %w", filename, err)
	}
	return nil
}

func (p *Parser) parseLine(filename string, lineno int, line string) Line {
	ok, _ := p.f.Match(line)
	if !ok {
		return Line{Outcome: OutcomeInvalid, Err: fmt.Errorf("hitparser: %s:%d: no match for format %q", filename, lineno, p.f.Name())}
	}

	if len(p.cfg.RegexGroupsToIgnore) > 0 {
		p.f.Remove(p.cfg.RegexGroupsToIgnore)
	}

	h := hit.New(filename, lineno)
	if err := p.fillHit(h); err != nil {
		return Line{Outcome: OutcomeInvalid, Err: err}
	}

	if p.cfg.Replay {
		if err := p.fillReplayArgs(h); err != nil {
			return Line{Outcome: OutcomeInvalid, Err: err}
		}
	}

	if p.chain != nil {
		if reason := p.chain.Run(h); reason != filter.ReasonNone {
			return Line{Outcome: OutcomeFiltered, Hit: h, Reason: reason}
		}
	}

	return Line{Outcome: OutcomeRecorded, Hit: h}
}

// fillHit copies the matched format fields onto h and applies custom
// variable enrichment, mirroring the original importer's Hit.__init__.
func (p *Parser) fillHit(h *hit.Hit) error {
	get := func(field string) string {
		v, err := p.f.Get(field)
		if err != nil {
			return ""
		}
		return v
	}

	h.IP = get("ip")
	h.Host = strings.ToLower(strings.TrimSuffix(get("host"), "."))
	h.UserID = get("userid")
	h.Method = strings.ToUpper(get("method"))
	h.Status = get("status")
	h.Referrer = get("referrer")
	h.UserAgent = get("user_agent")

	path := get("path")
	if p.cfg.ForceLowercasePath {
		path = strings.ToLower(path)
	}
	if qs := get("query_string"); qs != "" && qs != "-" {
		h.QueryString = qs
	}
	if full := get("path_query"); full != "" {
		h.Path, h.QueryString = splitPathQuery(full)
	} else {
		h.Path = path
	}
	h.Extension = extOf(h.Path)
	h.FullPath = h.Path
	if h.QueryString != "" && !p.cfg.StripQueryString {
		delim := p.cfg.QueryStringDelimiter
		if delim == "" {
			delim = "?"
		}
		h.FullPath = h.Path + delim + h.QueryString
	}

	if l := get("length"); l != "" && l != "-" {
		if n, err := strconv.Atoi(l); err == nil {
			h.Length = n
		}
	}
	if gt := get("generation_time_secs"); gt != "" {
		if f, err := strconv.ParseFloat(gt, 64); err == nil {
			h.GenerationTimeMilli = f * 1000
		}
	}
	if gtm := get("generation_time_milli"); gtm != "" {
		if f, err := strconv.ParseFloat(gtm, 64); err == nil {
			h.GenerationTimeMilli = f
		}
	}

	if dateStr := get("date"); dateStr != "" {
		t, err := parseDate(dateStr, p.f.DateFormat())
		if err != nil {
			return fmt.Errorf("hitparser: %s:%d: parse date %q: %w", h.Filename, h.Lineno, dateStr, err)
		}
		if tzStr := get("timezone"); tzStr != "" {
			offset, err := parseTimezoneOffset(tzStr)
			if err != nil {
				return fmt.Errorf("hitparser: %s:%d: parse timezone %q: %w", h.Filename, h.Lineno, tzStr, err)
			}
			// spec.md §8 invariant 7: stored instant = strptime(date) - offset(tz).
			t = t.Add(-offset)
		}
		if p.cfg.SecondsToAddToDate != 0 {
			t = t.Add(time.Duration(p.cfg.SecondsToAddToDate) * time.Second)
		}
		h.Date = t.UTC()
	}

	for group, key := range p.cfg.RegexGroupToVisitCvarsMap {
		if v := get(group); v != "" {
			h.AddVisitCustomVar(key, v)
		}
	}
	for group, key := range p.cfg.RegexGroupToPageCvarsMap {
		if v := get(group); v != "" {
			h.AddPageCustomVar(key, v)
		}
	}

	return nil
}

// fillReplayArgs replaces the synthesized args with the tracker's own
// original query string (spec.md §4.4 replay mode): the idsite argument
// is mandatory, and the first value of every argument is carried through
// as-is, except that the timestamp arguments are shifted by
// SecondsToAddToDate when it is set.
func (p *Parser) fillReplayArgs(h *hit.Hit) error {
	raw := h.QueryString
	values, err := url.ParseQuery(raw)
	if err != nil {
		return fmt.Errorf("hitparser: %s:%d: replay query string: %w", h.Filename, h.Lineno, err)
	}
	if _, ok := values["idsite"]; !ok {
		return fmt.Errorf("hitparser: %s:%d: replay_tracking requires an idsite argument", h.Filename, h.Lineno)
	}
	args := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	if p.cfg.SecondsToAddToDate != 0 {
		shiftReplayTimestamps(args, p.cfg.SecondsToAddToDate)
	}
	h.Args = args
	return nil
}

// shiftReplayTimestamps applies seconds_to_add_to_date to the replayed
// tracker's own epoch-second timestamp arguments, so a shifted log still
// produces a consistently shifted visit/event timeline on replay.
func shiftReplayTimestamps(args map[string]any, seconds int) {
	for _, key := range replayTimestampParams {
		v, ok := args[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		args[key] = strconv.FormatInt(n+int64(seconds), 10)
	}
}

func splitPathQuery(full string) (path, query string) {
	if i := strings.IndexByte(full, '?'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || strings.ContainsAny(path[i:], "/?") {
		return ""
	}
	return strings.ToLower(path[i+1:])
}

// dateLayoutFromStrptime translates a small subset of strptime-style
// directives into Go's reference-time layout; the bundled formats
// register an already-Go layout (see format package),
// so this is a narrow compatibility shim for any custom
// --log-date-format a caller supplies in strptime syntax.
func dateLayoutFromStrptime(layout string) string {
	r := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
		"%z", "-0700", "%f", "000000",
	)
	return r.Replace(layout)
}

func parseDate(value, layout string) (time.Time, error) {
	if strings.Contains(layout, "%") {
		layout = dateLayoutFromStrptime(layout)
	}
	return time.Parse(layout, value)
}

// parseTimezoneOffset parses a "+HHMM"/"-HHMM" offset (the "timezone"
// capture group the common/s3/ovh/gandi formats split out of their
// bracketed date field) into a signed duration east of UTC.
func parseTimezoneOffset(tz string) (time.Duration, error) {
	tz = strings.TrimSpace(tz)
	if len(tz) != 5 || (tz[0] != '+' && tz[0] != '-') {
		return 0, fmt.Errorf("hitparser: malformed timezone offset %q", tz)
	}
	hh, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return 0, fmt.Errorf("hitparser: malformed timezone offset %q: %w", tz, err)
	}
	mm, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return 0, fmt.Errorf("hitparser: malformed timezone offset %q: %w", tz, err)
	}
	offset := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if tz[0] == '-' {
		offset = -offset
	}
	return offset, nil
}
