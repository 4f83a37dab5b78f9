package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// MaxHeaderBytes bounds the header block of a script response.
const MaxHeaderBytes = 64 << 10

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// findSeparator locates the first blank line in b, starting the search at
// from. It returns the end of the header block and the start of the body,
// or -1, -1 when no separator is present.
func findSeparator(b []byte, from int) (headerEnd, bodyStart int) {
	if from < 0 {
		from = 0
	}
	crlf := bytes.Index(b[from:], crlfcrlf)
	lf := bytes.Index(b[from:], lflf)
	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return from + crlf, from + crlf + len(crlfcrlf)
	case lf >= 0:
		return from + lf, from + lf + len(lflf)
	default:
		return -1, -1
	}
}

// responseHead is the parsed header block of a script response.
type responseHead struct {
	status int
	reason string
	header http11.Header
}

// parseHead parses a CGI response header block (RFC 3875 section 6.3).
// Status sets the status code; Location without Status means 302.
// Status and the hop-by-hop framing fields are not forwarded.
func parseHead(block []byte) (responseHead, error) {
	var head responseHead
	fields := 0
	hasStatus := false

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return head, ErrMalformedHeaders
		}
		value = strings.TrimSpace(value)
		fields++

		switch {
		case strings.EqualFold(name, "Status"):
			code, reason, err := parseStatus(value)
			if err != nil {
				return head, err
			}
			head.status, head.reason, hasStatus = code, reason, true
		case strings.EqualFold(name, http11.HeaderConnection),
			strings.EqualFold(name, http11.HeaderTransferEncoding),
			strings.EqualFold(name, http11.HeaderContentLength):
			// Framing is decided by the server.
		default:
			head.header.Add(name, value)
		}
	}

	if fields == 0 {
		return head, ErrMalformedHeaders
	}
	if !hasStatus {
		head.status = 200
		if head.header.Has(http11.HeaderLocation) {
			head.status = 302
		}
	}
	return head, nil
}

// parseStatus parses "201 Created" or "201".
func parseStatus(v string) (int, string, error) {
	codeStr, reason, _ := strings.Cut(v, " ")
	if len(codeStr) != 3 {
		return 0, "", ErrMalformedHeaders
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return 0, "", ErrMalformedHeaders
	}
	return code, strings.TrimSpace(reason), nil
}
