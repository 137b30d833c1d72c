package manifest

import (
	"errors"
	"fmt"
)

// ErrManifestParse tags malformed manifest sources. Parse failures are
// recovered locally: the component proceeds with code defaults and the
// failure is logged as a warning. Manifest absence is the lowest tier of the
// graceful-degradation hierarchy, not an error.
var ErrManifestParse = errors.New("manifest parse error")

// ErrConversion tags parameter values that cannot be coerced to the
// requested type. Recovered locally: the next tier's value is used.
var ErrConversion = errors.New("config conversion error")

// ParseError describes one malformed manifest file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return ErrManifestParse }

// ConversionError describes one failed typed conversion during parameter
// resolution.
type ConversionError struct {
	Component string
	Parameter string
	Want      string
	Got       any
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("component %q parameter %q: cannot convert %v (%T) to %s",
		e.Component, e.Parameter, e.Got, e.Got, e.Want)
}

func (e *ConversionError) Unwrap() error { return ErrConversion }
