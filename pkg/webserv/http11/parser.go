package http11

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
)

// State is the position of a Parser within the current message.
type State int

const (
	// StateRequestLine waits for the request line.
	StateRequestLine State = iota

	// StateHeaders consumes header lines until the empty line.
	StateHeaders

	// StateBody accumulates Content-Length bytes.
	StateBody

	// StateComplete holds a full request; Reset moves on to the next one.
	StateComplete

	// StateError is terminal for the connection; see Parser.Err.
	StateError
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateRequestLine:
		return "request-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Limits bounds what the parser accepts.
type Limits struct {
	// MaxHeaderBytes bounds the header section. Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// MaxBodySize is the body limit when BodyLimit is nil or returns a
	// negative value. Zero means DefaultMaxBodySize.
	MaxBodySize int64

	// BodyLimit resolves the body limit once the headers are known, so the
	// limit can depend on the route (virtual host and location) of the
	// request. Optional.
	BodyLimit func(req *Request) int64
}

// Parser is an incremental HTTP/1.x request parser.
//
// Parsing is strictly forward: RequestLine -> Headers -> Body -> Complete,
// with Error reachable from any non-terminal state. Reset returns to
// RequestLine and keeps bytes that belong to the next pipelined request.
//
// Parser never reads from a socket; the owner feeds it whatever a
// non-blocking read returned.
type Parser struct {
	limits Limits

	state State
	buf   []byte
	req   *Request
	err   *ParseError

	headerBytes int
	remaining   int64
}

// NewParser creates a parser with the given limits.
func NewParser(limits Limits) *Parser {
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if limits.MaxBodySize <= 0 {
		limits.MaxBodySize = DefaultMaxBodySize
	}
	return &Parser{limits: limits, req: newRequest()}
}

func newRequest() *Request {
	return &Request{ContentLength: -1}
}

// State returns the current state.
func (p *Parser) State() State {
	return p.state
}

// Request returns the request being parsed. It is complete only in
// StateComplete, but headers are already available in StateBody.
func (p *Parser) Request() *Request {
	return p.req
}

// Err returns the terminal error in StateError, nil otherwise.
func (p *Parser) Err() *ParseError {
	return p.err
}

// Buffered returns the number of received bytes not yet consumed.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Feed appends data to the input and advances the state machine as far as
// the buffered bytes allow. Feed(nil) re-examines buffered bytes, which is
// how pipelined requests are picked up after Reset.
//
// Input is discarded once the parser is in StateError.
func (p *Parser) Feed(data []byte) State {
	if p.state == StateError {
		return p.state
	}
	p.buf = append(p.buf, data...)
	p.advance()
	return p.state
}

// Reset prepares the parser for the next request on the same connection.
// Buffered bytes are kept; call Feed(nil) to parse them. A new Request is
// allocated so the previous one may still be used by its consumer.
func (p *Parser) Reset() {
	p.state = StateRequestLine
	p.req = newRequest()
	p.err = nil
	p.headerBytes = 0
	p.remaining = 0
	if len(p.buf) == 0 {
		p.buf = nil
	}
}

func (p *Parser) fail(status int, err error) {
	p.state = StateError
	p.err = &ParseError{Status: status, Err: err}
	p.buf = nil
}

func (p *Parser) consume(n int) {
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
}

// nextLine returns the next line without its terminator and the number of
// bytes it occupies, or ok=false when no complete line is buffered.
// Both CRLF and bare LF terminate a line.
func (p *Parser) nextLine() (line []byte, n int, ok bool) {
	i := bytes.IndexByte(p.buf, '\n')
	if i < 0 {
		return nil, 0, false
	}
	line = p.buf[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, i + 1, true
}

func (p *Parser) advance() {
	for {
		switch p.state {
		case StateRequestLine:
			line, n, ok := p.nextLine()
			if !ok {
				if len(p.buf) > MaxRequestLineSize {
					p.fail(414, ErrRequestLineTooLarge)
				}
				return
			}
			if len(line) == 0 {
				// Empty lines before a request line are ignored (RFC 7230 3.5).
				p.consume(n)
				continue
			}
			if len(line) > MaxRequestLineSize {
				p.fail(414, ErrRequestLineTooLarge)
				return
			}
			if status, err := p.parseRequestLine(line); err != nil {
				p.fail(status, err)
				return
			}
			p.consume(n)
			p.state = StateHeaders

		case StateHeaders:
			line, n, ok := p.nextLine()
			if !ok {
				if p.headerBytes+len(p.buf) > p.limits.MaxHeaderBytes {
					p.fail(431, ErrHeadersTooLarge)
				}
				return
			}
			p.headerBytes += n
			if p.headerBytes > p.limits.MaxHeaderBytes {
				p.fail(431, ErrHeadersTooLarge)
				return
			}
			if len(line) == 0 {
				p.consume(n)
				if status, err := p.headersDone(); err != nil {
					p.fail(status, err)
					return
				}
				continue
			}
			if err := p.parseHeaderLine(line); err != nil {
				p.fail(400, err)
				return
			}
			p.consume(n)

		case StateBody:
			if len(p.buf) == 0 {
				return
			}
			take := int64(len(p.buf))
			if take > p.remaining {
				take = p.remaining
			}
			p.req.Body = append(p.req.Body, p.buf[:take]...)
			p.consume(int(take))
			p.remaining -= take
			if p.remaining == 0 {
				p.state = StateComplete
			}

		default:
			return
		}
	}
}

func (p *Parser) parseRequestLine(line []byte) (int, error) {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return 400, ErrInvalidRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return 400, ErrInvalidRequestLine
	}
	method, target, proto := line[:sp1], rest[:sp2], rest[sp2+1:]
	if bytes.IndexByte(proto, ' ') >= 0 {
		return 400, ErrInvalidRequestLine
	}
	if !isToken(method) {
		return 400, ErrInvalidMethod
	}

	switch string(proto) {
	case Proto10, Proto11:
	default:
		if isHTTPVersion(proto) {
			return 505, ErrUnsupportedVersion
		}
		return 400, ErrInvalidRequestLine
	}

	req := p.req
	req.Method = string(method)
	req.MethodID = ParseMethodID(req.Method)
	req.Proto = string(proto)
	req.Target = string(target)

	rawPath, query, _ := strings.Cut(req.Target, "?")
	if strings.HasPrefix(rawPath, "http://") || strings.HasPrefix(rawPath, "https://") {
		// absolute-form: keep only the path
		_, after, _ := strings.Cut(rawPath, "//")
		if i := strings.IndexByte(after, '/'); i >= 0 {
			rawPath = after[i:]
		} else {
			rawPath = "/"
		}
	}
	if !strings.HasPrefix(rawPath, "/") {
		return 400, ErrInvalidPath
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil || strings.IndexByte(path, 0) >= 0 {
		return 400, ErrInvalidPath
	}
	req.RawPath = rawPath
	req.Path = path
	req.Query = query
	return 0, nil
}

// isHTTPVersion matches HTTP/<digit>.<digit>.
func isHTTPVersion(b []byte) bool {
	return len(b) == 8 && string(b[:5]) == "HTTP/" &&
		b[5] >= '0' && b[5] <= '9' && b[6] == '.' && b[7] >= '0' && b[7] <= '9'
}

func (p *Parser) parseHeaderLine(line []byte) error {
	if line[0] == ' ' || line[0] == '\t' {
		// obsolete line folding
		return ErrInvalidHeader
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrInvalidHeader
	}
	name := line[:colon]
	if !isToken(name) {
		return ErrInvalidHeader
	}
	value := string(bytes.Trim(line[colon+1:], " \t"))
	if !validFieldValue(value) {
		return ErrInvalidHeader
	}
	p.req.Header.Set(string(name), value)
	return nil
}

// headersDone applies the message-framing headers once the header section
// is complete.
func (p *Parser) headersDone() (int, error) {
	req := p.req
	h := &req.Header

	if req.Proto == Proto11 {
		req.Close = h.HasToken(HeaderConnection, "close")
	} else {
		req.Close = !h.HasToken(HeaderConnection, "keep-alive")
	}
	req.ExpectContinue = strings.EqualFold(h.Get(HeaderExpect), "100-continue")

	if h.Has(HeaderTransferEncoding) {
		if !strings.EqualFold(strings.TrimSpace(h.Get(HeaderTransferEncoding)), "identity") {
			return 501, ErrTransferEncoding
		}
	}

	if !h.Has(HeaderContentLength) {
		p.state = StateComplete
		return 0, nil
	}
	cl, err := parseContentLength(h.Get(HeaderContentLength))
	if err != nil {
		return 400, err
	}
	req.ContentLength = cl

	limit := int64(-1)
	if p.limits.BodyLimit != nil {
		limit = p.limits.BodyLimit(req)
	}
	if limit < 0 {
		limit = p.limits.MaxBodySize
	}
	if cl > limit {
		return 413, ErrBodyTooLarge
	}

	if cl == 0 {
		p.state = StateComplete
		return 0, nil
	}
	p.remaining = cl
	req.Body = make([]byte, 0, min(cl, 64<<10))
	p.state = StateBody
	return 0, nil
}

func parseContentLength(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidContentLength
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidContentLength
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidContentLength
	}
	return n, nil
}
