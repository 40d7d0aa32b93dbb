package render

import (
	"errors"
	"fmt"
)

// ErrNoValidSources is returned when every listed source is missing. No
// output is produced.
var ErrNoValidSources = errors.New("render: no valid sources")

// MissingSourceFileError marks one skipped source. It is reported in
// Result.Skipped; the render continues without it.
type MissingSourceFileError struct {
	Index int
	Path  string
	Err   error
}

func (e *MissingSourceFileError) Error() string {
	return fmt.Sprintf("render: source %d (%s) missing: %v", e.Index, e.Path, e.Err)
}

func (e *MissingSourceFileError) Unwrap() error {
	return e.Err
}

// EncodeError is an encoder failure. Any partial output has been removed.
type EncodeError struct {
	Err    error
	Stderr string
}

func (e *EncodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("render: encode failed: %v", e.Err)
	}
	return fmt.Sprintf("render: encode failed: %v\nFFmpeg Error: %s", e.Err, e.Stderr)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
