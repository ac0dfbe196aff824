// Package format implements the log Format Registry and Detector: a
// closed set of named parsers over a single line, each producing a
// field-to-value mapping, and the scoring logic that auto-selects one per
// input source.
package format

import (
	"fmt"
	"regexp"
)

// MissingFieldError is returned by Get when the requested field was not
// captured by the current match.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("format: cannot find field %q", e.Field)
}

// Format is a named parser over one log line. Implementations hold the
// state of the most recent Match call; this is safe because exactly one
// goroutine (the hit parser) drives a given Format instance.
type Format interface {
	// Name is the format's registry key, e.g. "common", "w3c_extended".
	Name() string

	// AutoDetectable reports whether the detector may select this format
	// automatically. The "ovh" format returns false: its pattern is broad
	// enough to produce false positives during detection.
	AutoDetectable() bool

	// DateFormat is the layout used to parse the "date" field once
	// matched. Built-in formats return a Go reference-time layout; a
	// custom layout written in strptime syntax (containing "%") is
	// translated by the caller (internal/hitparser).
	DateFormat() string

	// Regex exposes the compiled pattern for formats that use one (nil
	// for formats, such as a JSON-per-line format, that don't).
	// internal/trackctx uses it to check whether the format captures a
	// "host" group.
	Regex() *regexp.Regexp

	// HeaderDriven reports whether this format is constructed from a file
	// header (the W3C-extended family) rather than matched line by line
	// during detection.
	HeaderDriven() bool

	// BuildFromHeader attempts to construct this format's matcher from a
	// log file's leading comment lines. Only meaningful when
	// HeaderDriven is true; other formats return false unconditionally.
	BuildFromHeader(headerLines []string, fieldsLine string) bool

	// Configure applies custom field mappings/regexes ahead of
	// BuildFromHeader (spec.md §4.1 "Custom mappings"/"custom
	// regexes"). A no-op returning nil for formats that don't support
	// it (every non-W3C format).
	Configure(customFields, fieldRegexes map[string]string) error

	// Match attempts to parse line, returning whether it matched and how
	// many named groups were captured (used by the detector's tie-break
	// rule). On success, subsequent Get/GetAll/Remove calls operate on
	// the newly matched fields.
	Match(line string) (ok bool, groups int)

	// Get returns the value captured for field, or MissingFieldError.
	Get(field string) (string, error)

	// GetAll returns every field captured by the last successful Match.
	GetAll() map[string]string

	// Remove deletes the named fields from the current match (used to
	// implement --ignore-groups style configuration).
	Remove(fields []string)
}
