package format

import (
	"fmt"
	"strings"
)

// maxDetectionLines bounds how many lines Detect will try against the
// registry before giving up, matching the original importer's refusal to
// scan an entire file just to guess its format.
const maxDetectionLines = 100000

// Options configures format selection. Exactly one of Name or Regex may
// be set to force a specific format instead of auto-detecting one.
type Options struct {
	// Name, if non-empty, selects a registered format by name and skips
	// scoring entirely.
	Name string

	// Regex, if non-empty, builds an ad hoc format from a user-supplied
	// pattern instead of selecting a built-in.
	Regex string

	// DateFormat overrides the date layout for a Regex-based format.
	DateFormat string

	// HeaderLines are a log file's leading comment lines (e.g. IIS/W3C
	// "#Fields: ..." and "#Software: ..." lines), supplied by the caller
	// since reading them is a file-opening concern out of scope for this
	// package. May be nil for formats that never use a header.
	HeaderLines []string

	// CustomW3CFields and W3CFieldRegexes configure the W3C-extended
	// family's header parsing (spec.md §4.1, §6 custom_w3c_fields /
	// w3c_field_regexes).
	CustomW3CFields map[string]string
	W3CFieldRegexes map[string]string

	// W3CTimeTakenInMillis suppresses the IIS time-taken warning when
	// the caller has told us to treat the field as already milliseconds
	// (spec.md §6 w3c_time_taken_in_millisecs).
	W3CTimeTakenInMillis bool
}

// Result is the outcome of detection: the selected format plus any
// non-fatal diagnostics the caller should log (spec.md §7 "diagnostic").
type Result struct {
	Format   Format
	Warnings []string
}

// fieldsLine returns the "#Fields:" header line, if present.
func fieldsLine(headerLines []string) (string, bool) {
	for _, l := range headerLines {
		if strings.HasPrefix(strings.TrimSpace(l), "#Fields:") {
			return l, true
		}
	}
	return "", false
}

// Detect selects a Format for the given registry, either by following
// Options.Name/Regex or by scoring candidate formats against up to
// maxDetectionLines sample lines. Ties are broken by registration order:
// the first-registered format with the maximum named-group count wins.
func Detect(reg *Registry, lines []string, opts Options) (*Result, error) {
	if opts.Regex != "" {
		f := newRegexFormat("custom", opts.Regex, opts.DateFormat)
		return &Result{Format: f}, nil
	}

	if opts.Name != "" {
		f, ok := reg.Get(opts.Name)
		if !ok {
			return nil, fmt.Errorf("format: unknown format %q", opts.Name)
		}
		if f.HeaderDriven() {
			return buildHeaderFormat(f, opts)
		}
		return &Result{Format: f}, nil
	}

	// Header-driven formats only ever apply when the input actually
	// carries a "#Fields:" line; try them first since a match there is
	// unambiguous (the header names the exact fields present). When the
	// file's "#Software:" comment names IIS, try the "iis" variant
	// first so it wins over the generic w3c_extended format, which
	// would otherwise always build successfully and shadow it (spec.md
	// §4.1's "IIS defines an otherwise unused __win32_status group to
	// win against the generic W3C format" only helps once iis is
	// actually attempted).
	if _, ok := fieldsLine(opts.HeaderLines); ok {
		candidates := headerDrivenCandidates(reg, opts.HeaderLines)
		for _, f := range candidates {
			if res, err := buildHeaderFormat(f, opts); err == nil {
				return res, nil
			}
		}
	}

	if len(lines) > maxDetectionLines {
		lines = lines[:maxDetectionLines]
	}

	var best Format
	bestGroups := -1
	for _, f := range reg.All() {
		if !f.AutoDetectable() || f.HeaderDriven() {
			continue
		}
		for _, line := range lines {
			if line == "" {
				continue
			}
			ok, groups := f.Match(line)
			if !ok {
				continue
			}
			if groups > bestGroups {
				best = f
				bestGroups = groups
			}
			break // one sample line is enough to qualify this format as a candidate
		}
	}

	if best == nil {
		return nil, fmt.Errorf("format: could not detect a log format from the given sample")
	}
	return &Result{Format: best}, nil
}

// softwareLine returns the file's "#Software:" comment line, if present.
func softwareLine(headerLines []string) (string, bool) {
	for _, l := range headerLines {
		if strings.HasPrefix(strings.TrimSpace(l), "#Software:") {
			return l, true
		}
	}
	return "", false
}

// softwareIndicatesIIS reports whether the file's "#Software:" comment
// names a Microsoft IIS server (spec.md §4.1 "collect non-#Fields
// comment lines for IIS detection").
func softwareIndicatesIIS(headerLines []string) bool {
	line, ok := softwareLine(headerLines)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(line), "iis")
}

// headerDrivenCandidates returns every header-driven format in
// registration order, moving "iis" to the front when the header
// declares an IIS server so it's tried, and selected when it builds,
// ahead of the generic w3c_extended format.
func headerDrivenCandidates(reg *Registry, headerLines []string) []Format {
	all := reg.All()
	candidates := make([]Format, 0, len(all))
	for _, f := range all {
		if f.HeaderDriven() {
			candidates = append(candidates, f)
		}
	}
	if !softwareIndicatesIIS(headerLines) {
		return candidates
	}
	reordered := make([]Format, 0, len(candidates))
	for _, f := range candidates {
		if f.Name() == "iis" {
			reordered = append([]Format{f}, reordered...)
		}
	}
	for _, f := range candidates {
		if f.Name() != "iis" {
			reordered = append(reordered, f)
		}
	}
	return reordered
}

func buildHeaderFormat(f Format, opts Options) (*Result, error) {
	line, ok := fieldsLine(opts.HeaderLines)
	if !ok {
		return nil, fmt.Errorf("format: %q requires a \"#Fields:\" header line", f.Name())
	}
	if err := f.Configure(opts.CustomW3CFields, opts.W3CFieldRegexes); err != nil {
		return nil, err
	}
	if !f.BuildFromHeader(opts.HeaderLines, line) {
		return nil, fmt.Errorf("format: could not build %q from header", f.Name())
	}
	var warnings []string
	if w3c, ok := f.(*w3cFormat); ok && f.Name() == "iis" {
		if w3c.TimeTakenSecsPresent() && !w3c.TimeTakenIsMillis() && !opts.W3CTimeTakenInMillis {
			warnings = append(warnings, "iis log declares time-taken without milliseconds: generation time parsed as whole seconds")
		}
	}
	return &Result{Format: f, Warnings: warnings}, nil
}
