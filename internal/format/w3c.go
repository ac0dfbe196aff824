package format

import (
	"fmt"
	"regexp"
	"strings"
)

// w3cFieldPattern maps a W3C field name (as it appears after "#Fields:")
// to the named capture group it feeds and the regex fragment used to
// consume it. Grounded in the original W3cExtendedFormat.fields table.
type w3cFieldPattern struct {
	group   string
	pattern string
	// raw marks a pattern sourced from --w3c-field-regex: it already
	// contains its own named capture group(s) and must be spliced into
	// the line regex verbatim rather than wrapped in (?P<group>...).
	raw bool
}

// w3cKnownField is one entry of the built-in field table: the named
// capture group a field feeds and the regex fragment that consumes it.
type w3cKnownField struct{ group, pattern string }

var w3cKnownFields = map[string]w3cKnownField{
	"date":                 {"date", `[0-9-]+`},
	"time":                 {"time", `[0-9:]+`},
	"c-ip":                 {"ip", `[\w*.:-]+`},
	"cs-username":          {"userid", `\S+`},
	"cs-host":              {"host", `[\w\-.]*`},
	"s-sitename":           {"host", `[\w\-.]*`},
	"cs-method":            {"method", `\S+`},
	"cs-uri-stem":          {"path", `\S+`},
	"cs-uri-query":         {"query_string", `\S+`},
	"sc-status":            {"status", `\d+`},
	"sc-bytes":             {"length", `\S+`},
	"cs(Referer)":          {"referrer", `\S+`},
	"cs(User-Agent)":       {"user_agent", `.*?`},
	"time-taken":           {"generation_time_secs", `[.\d]+`},
	"time-taken-msec":      {"generation_time_milli", `[.\d]+`},
	"sc-win32-status":      {"__win32_status", `\S+`},
	"x-event":              {"event_action", `\S+`},
	"cs-uri":               {"path", `\S+`},
}

// w3cFormat implements Format for the header-driven W3C-extended family
// (plain "w3c_extended" plus IIS/Incapsula/Shoutcast/CloudFront variants,
// each of which tweaks field aliases or post-match quirks). The regex is
// built lazily from a log file's "#Fields:" comment line.
type w3cFormat struct {
	name       string
	dateFormat string
	timeMillis bool // time-taken-msec present: generation time is already milliseconds
	timeTaken  bool // bare time-taken (seconds) field present on the header
	quirk      w3cQuirk

	// overrides holds per-run customizations applied by Configure:
	// --w3c-map-field renames (raw -> known target, wrap behavior kept)
	// and --w3c-field-regex replacements/additions (raw -> raw pattern).
	overrides map[string]w3cFieldPattern

	regex   *regexp.Regexp
	matched map[string]string
}

// w3cQuirk distinguishes the small per-variant behaviors the original
// Python expresses as W3cExtendedFormat subclasses.
type w3cQuirk int

const (
	quirkNone w3cQuirk = iota
	quirkIIS           // __win32_status group must be consumed and discarded
	quirkIncapsula
	quirkShoutcast
	quirkCloudFront
)

// NewW3CExtended returns the generic header-driven W3C extended format.
func NewW3CExtended() Format {
	return &w3cFormat{name: "w3c_extended", dateFormat: "2006-01-02 15:04:05", quirk: quirkNone}
}

// NewIIS returns the IIS variant, which additionally tolerates a
// "sc-win32-status" field that carries no analytics meaning.
func NewIIS() Format {
	return &w3cFormat{name: "iis", dateFormat: "2006-01-02 15:04:05", quirk: quirkIIS}
}

// NewIncapsulaW3C returns the Incapsula CDN's W3C-style variant.
func NewIncapsulaW3C() Format {
	return &w3cFormat{name: "incapsula_w3c", dateFormat: "2006-01-02 15:04:05", quirk: quirkIncapsula}
}

// NewShoutcast returns the Shoutcast streaming-server variant.
func NewShoutcast() Format {
	return &w3cFormat{name: "shoutcast", dateFormat: "2006-01-02 15:04:05", quirk: quirkShoutcast}
}

// NewAmazonCloudFront returns the CloudFront W3C-style variant, whose
// time field is tab-separated rather than space-separated in the raw
// log but arrives pre-split here like every other field.
func NewAmazonCloudFront() Format {
	return &w3cFormat{name: "amazon_cloudfront", dateFormat: "2006-01-02 15:04:05", quirk: quirkCloudFront}
}

func (f *w3cFormat) Name() string          { return f.name }
func (f *w3cFormat) AutoDetectable() bool  { return false } // selected via header, never by scoring a line
func (f *w3cFormat) DateFormat() string    { return f.dateFormat }
func (f *w3cFormat) Regex() *regexp.Regexp { return f.regex }
func (f *w3cFormat) HeaderDriven() bool    { return true }

// Configure applies custom W3C field mappings (spec.md §4.1 "Custom
// mappings"/"custom regexes"): customFields renames a raw header field
// name onto one of the known canonical targets (keeping the known
// pattern), fieldRegexes replaces or adds a raw field's pattern
// outright. Every fieldRegexes entry must contain at least one named
// capture group; violating that aborts the run (spec.md §7
// "Configuration errors").
func (f *w3cFormat) Configure(customFields, fieldRegexes map[string]string) error {
	if len(customFields) == 0 && len(fieldRegexes) == 0 {
		return nil
	}
	if f.overrides == nil {
		f.overrides = make(map[string]w3cFieldPattern, len(customFields)+len(fieldRegexes))
	}
	for raw, target := range customFields {
		base := w3cFieldPattern{group: target, pattern: `\S+`}
		if known, ok := w3cKnownFields[target]; ok {
			base = w3cFieldPattern{group: known.group, pattern: known.pattern}
		}
		f.overrides[raw] = base
	}
	for raw, pattern := range fieldRegexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("format: invalid w3c field regex for %q: %w", raw, err)
		}
		named := false
		for _, n := range re.SubexpNames() {
			if n != "" {
				named = true
				break
			}
		}
		if !named {
			return fmt.Errorf("format: w3c field regex for %q must contain at least one named capture group", raw)
		}
		f.overrides[raw] = w3cFieldPattern{pattern: pattern, raw: true}
	}
	return nil
}

// BuildFromHeader parses a "#Fields: ..." comment line into a compiled
// regex. headerLines is accepted for symmetry with formats that need
// more than one comment line (none currently do) and to leave room for
// future "#Software:"-driven variant disambiguation.
func (f *w3cFormat) BuildFromHeader(headerLines []string, fieldsLine string) bool {
	fieldsLine = strings.TrimPrefix(fieldsLine, "#Fields:")
	fieldsLine = strings.TrimSpace(fieldsLine)
	if fieldsLine == "" {
		return false
	}
	names := strings.Fields(fieldsLine)
	if len(names) == 0 {
		return false
	}

	var b strings.Builder
	b.WriteString(`^`)
	seen := make(map[string]bool)
	for i, raw := range names {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		fp, ok := f.overrides[raw]
		if !ok {
			var known w3cKnownField
			if known, ok = w3cKnownFields[raw]; ok {
				fp = w3cFieldPattern{group: known.group, pattern: known.pattern}
			}
		}
		if !ok {
			// unknown field: consume and discard, keyed uniquely so the
			// regex still compiles with distinct group names.
			group := "unknown" + itoaSmall(i)
			b.WriteString(`(?P<` + group + `>\S+)`)
			continue
		}
		if fp.raw {
			// already has its own named capture group(s); splice verbatim.
			b.WriteString(fp.pattern)
			continue
		}
		group := fp.group
		if seen[group] {
			// duplicate target group (e.g. two date-ish fields): make unique,
			// Match folds date+time below regardless of suffix.
			group = group + itoaSmall(i)
		}
		seen[group] = true
		b.WriteString(`(?P<` + group + `>` + fp.pattern + `)`)
		if fp.group == "generation_time_milli" {
			f.timeMillis = true
		}
		if raw == "time-taken" {
			f.timeTaken = true
		}
	}
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	f.regex = re
	return true
}

func itoaSmall(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

func (f *w3cFormat) Match(line string) (bool, int) {
	if f.regex == nil {
		return false, 0
	}
	names := f.regex.SubexpNames()
	m := f.regex.FindStringSubmatch(line)
	if m == nil {
		f.matched = nil
		return false, 0
	}
	groups := make(map[string]string, len(names))
	count := 0
	for i, name := range names {
		if i == 0 || name == "" || strings.HasPrefix(name, "unknown") {
			continue
		}
		groups[name] = m[i]
		count++
	}
	if t, ok := groups["time"]; ok {
		if d, ok := groups["date"]; ok {
			groups["date"] = d + " " + t
			delete(groups, "time")
		}
	}
	if f.quirk == quirkIIS {
		// the win32 status group carries no analytics meaning; original
		// importer drops it unconditionally after a successful match.
		delete(groups, "__win32_status")
	}
	f.matched = groups
	return true, count
}

func (f *w3cFormat) Get(field string) (string, error) {
	v, ok := f.matched[field]
	if !ok {
		return "", &MissingFieldError{Field: field}
	}
	return v, nil
}

func (f *w3cFormat) GetAll() map[string]string { return f.matched }

func (f *w3cFormat) Remove(fields []string) {
	for _, field := range fields {
		delete(f.matched, field)
	}
}

// TimeTakenIsMillis reports whether the header declared "time-taken-msec"
// rather than "time-taken", so the hit parser can skip the
// seconds-to-milliseconds multiplication spec.md §4.2 otherwise applies.
func (f *w3cFormat) TimeTakenIsMillis() bool { return f.timeMillis }

// TimeTakenSecsPresent reports whether the header declared the bare
// "time-taken" field (seconds), the condition the detector's IIS
// warning checks (spec.md §4.1).
func (f *w3cFormat) TimeTakenSecsPresent() bool { return f.timeTaken }
