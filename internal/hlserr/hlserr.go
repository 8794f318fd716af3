// Package hlserr defines the error kinds shared by the download pipeline.
//
// Every package wraps its failures with one of the sentinels below so callers
// can classify an error with errors.Is regardless of where it originated.
package hlserr

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch reports a failed network request for a manifest or segment.
	ErrFetch = errors.New("fetch failed")

	// ErrEmptyVariantSet reports a top-level manifest without a usable variant.
	ErrEmptyVariantSet = errors.New("no usable variants")

	// ErrParse reports a manifest rejected by strict validation.
	ErrParse = errors.New("manifest parse failed")

	// ErrIO reports a local filesystem failure.
	ErrIO = errors.New("io failed")

	// ErrMux reports a failed or unspawnable mux process.
	ErrMux = errors.New("mux failed")
)

// Wrap attaches kind to err with a short operation description.
// A nil err yields a bare kind error.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", kind, op)
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

// Kind returns a short user-facing name for the kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetch):
		return "fetch error"
	case errors.Is(err, ErrEmptyVariantSet):
		return "empty variant set"
	case errors.Is(err, ErrParse):
		return "parse error"
	case errors.Is(err, ErrIO):
		return "io error"
	case errors.Is(err, ErrMux):
		return "mux error"
	default:
		return "error"
	}
}
