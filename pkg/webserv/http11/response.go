package http11

import (
	"bytes"
	"strconv"
	"strings"
)

// Response is an HTTP response ready to be serialized into the
// connection's output queue.
type Response struct {
	// Proto is the status-line version. Empty means HTTP/1.1.
	Proto string

	Status int

	// Reason overrides StatusText(Status) when set.
	Reason string

	Header Header
	Body   []byte

	// Close adds Connection: close and makes the connection close once
	// the response has been written.
	Close bool

	// OmitBody suppresses the body (HEAD) while keeping Content-Length.
	OmitBody bool
}

// NewResponse returns a response with the given status and no body.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// ForRequest sets the fields that mirror the request: protocol version,
// HEAD body suppression and the connection close decision.
func (r *Response) ForRequest(req *Request) {
	if req == nil {
		return
	}
	if req.Proto == Proto10 {
		r.Proto = Proto10
	}
	if req.IsHEAD() {
		r.OmitBody = true
	}
	if !req.KeepAlive() {
		r.Close = true
	}
}

// Serialize renders the status line, headers in insertion order,
// Content-Length, the Connection header, a blank line and the body.
//
// Content-Length and Connection fields already present in Header are
// replaced by the computed ones. Fields whose values would break framing
// (CR, LF, NUL) are dropped.
func (r *Response) Serialize() []byte {
	proto := r.Proto
	if proto == "" {
		proto = Proto11
	}
	reason := r.Reason
	if reason == "" || !validFieldValue(reason) {
		reason = StatusText(r.Status)
	}

	var b bytes.Buffer
	b.Grow(128 + 32*r.Header.Len() + len(r.Body))

	b.WriteString(proto)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.Status))
	b.WriteByte(' ')
	b.WriteString(reason)
	b.WriteString("\r\n")

	r.Header.VisitAll(func(name, value string) bool {
		if strings.EqualFold(name, HeaderContentLength) || strings.EqualFold(name, HeaderConnection) {
			return true
		}
		if !isToken([]byte(name)) || !validFieldValue(value) {
			return true
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
		return true
	})

	if bodyAllowed(r.Status) {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(r.Body)))
		b.WriteString("\r\n")
	}
	switch {
	case r.Close:
		b.WriteString("Connection: close\r\n")
	case proto == Proto10:
		b.WriteString("Connection: keep-alive\r\n")
	}
	b.WriteString("\r\n")

	if !r.OmitBody && bodyAllowed(r.Status) {
		b.Write(r.Body)
	}
	return b.Bytes()
}
