// Package trackerr defines the pipeline's fatal-error sentinel, the Go
// equivalent of the original importer's fatal_error()-then-exit pattern.
package trackerr

import (
	"errors"
	"fmt"
)

// Fatal wraps an error that should unwind the whole run instead of being
// treated as a per-line or per-batch diagnostic: bad configuration,
// detector failure, a tracker 400, or retry exhaustion.
type Fatal struct {
	Err error
}

// NewFatal wraps err as a Fatal, or returns nil if err is nil.
func NewFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Err: err}
}

// Fatalf builds a Fatal from a format string, the fmt.Errorf equivalent.
func Fatalf(format string, args ...any) error {
	return &Fatal{Err: fmt.Errorf(format, args...)}
}

func (f *Fatal) Error() string { return f.Err.Error() }
func (f *Fatal) Unwrap() error { return f.Err }

// IsFatal reports whether err is, or wraps, a Fatal.
func IsFatal(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
