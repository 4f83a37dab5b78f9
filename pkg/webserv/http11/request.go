package http11

import "strings"

// Request is a fully parsed HTTP/1.x request.
//
// All fields are owned by the Request; nothing aliases the parser buffer,
// so a Request stays valid after the parser is Reset for the next
// pipelined message.
type Request struct {
	// Method is the request method token, e.g. "GET".
	Method string

	// MethodID is the numeric method ID (MethodGET, ...), MethodUnknown for
	// extension methods.
	MethodID uint8

	// Target is the request-target exactly as received.
	Target string

	// Path is the percent-decoded path component of Target.
	Path string

	// RawPath is the path component of Target before decoding.
	RawPath string

	// Query is the raw query string without the leading '?'.
	Query string

	// Proto is "HTTP/1.0" or "HTTP/1.1".
	Proto string

	Header Header

	Body []byte

	// ContentLength is the declared body length, -1 when absent.
	ContentLength int64

	// ExpectContinue is set when the client sent Expect: 100-continue.
	ExpectContinue bool

	// Close is set when the connection must close after the response:
	// HTTP/1.1 with Connection: close, or HTTP/1.0 without keep-alive.
	Close bool
}

// KeepAlive reports whether the connection may be reused after this request.
func (r *Request) KeepAlive() bool {
	return !r.Close
}

// IsHEAD reports whether the response must omit its body.
func (r *Request) IsHEAD() bool {
	return r.MethodID == MethodHEAD
}

// Host returns the Host header without a port.
func (r *Request) Host() string {
	host := r.Header.Get(HeaderHost)
	if strings.HasPrefix(host, "[") {
		if i := strings.IndexByte(host, ']'); i > 0 {
			return host[:i+1]
		}
		return host
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

// Cookie returns the value of the named cookie from the Cookie headers.
func (r *Request) Cookie(name string) (string, bool) {
	for _, line := range r.Header.Values(HeaderCookie) {
		for _, pair := range strings.Split(line, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && k == name {
				return strings.Trim(v, `"`), true
			}
		}
	}
	return "", false
}
