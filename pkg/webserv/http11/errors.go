package http11

import (
	"errors"
	"fmt"
)

// Parser errors
var (
	// ErrInvalidRequestLine indicates the request line is malformed
	// Request line format: METHOD SP TARGET SP PROTOCOL CRLF
	ErrInvalidRequestLine = errors.New("http11: invalid request line")

	// ErrInvalidMethod indicates a method token with illegal characters
	ErrInvalidMethod = errors.New("http11: invalid HTTP method")

	// ErrInvalidPath indicates the request target is malformed or cannot be decoded
	ErrInvalidPath = errors.New("http11: invalid request path")

	// ErrUnsupportedVersion indicates a well-formed but unsupported protocol version
	ErrUnsupportedVersion = errors.New("http11: unsupported protocol version")

	// ErrInvalidHeader indicates a header line without a colon, with an
	// illegal field name, or with control characters in the value
	ErrInvalidHeader = errors.New("http11: invalid HTTP header")

	// ErrRequestLineTooLarge indicates the request line exceeds MaxRequestLineSize
	ErrRequestLineTooLarge = errors.New("http11: request line too large")

	// ErrHeadersTooLarge indicates the header section exceeds the configured limit
	ErrHeadersTooLarge = errors.New("http11: headers too large")

	// ErrInvalidContentLength indicates Content-Length is not a non-negative integer
	ErrInvalidContentLength = errors.New("http11: invalid Content-Length")

	// ErrBodyTooLarge indicates the declared body exceeds the configured maximum
	ErrBodyTooLarge = errors.New("http11: request body too large")

	// ErrTransferEncoding indicates a Transfer-Encoding other than identity.
	// Chunked bodies are rejected, never parsed.
	ErrTransferEncoding = errors.New("http11: transfer encoding not implemented")
)

// ParseError is the terminal error of a Parser. Status is the HTTP status
// code the connection answers with before closing.
type ParseError struct {
	Status int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (%d %s)", e.Err, e.Status, StatusText(e.Status))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
