package cgi

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHeaders indicates the script closed its output before the end
	// of the header block.
	ErrNoHeaders = errors.New("cgi: output ended before headers")

	// ErrMalformedHeaders indicates an unparsable header block or Status line.
	ErrMalformedHeaders = errors.New("cgi: malformed response headers")

	// ErrHeadersTooLarge indicates a header block beyond MaxHeaderBytes.
	ErrHeadersTooLarge = errors.New("cgi: response headers too large")
)

// SpawnError reports a failure to start a script. Op names the step that
// failed ("pipe", "fork/exec", "register"). No descriptor or process is
// left behind when a SpawnError is returned.
type SpawnError struct {
	Op  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cgi: %s: %v", e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
