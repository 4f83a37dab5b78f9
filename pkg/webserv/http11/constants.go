// Package http11 implements the incremental HTTP/1.x request parser and the
// response serializer used by the webserv connection engine.
//
// The parser is fed raw bytes as they arrive from a non-blocking socket and
// never reads on its own. Bytes beyond the end of the current message are
// kept so pipelined requests can be parsed after Reset.
package http11

// HTTP Method IDs for O(1) switching
const (
	MethodUnknown uint8 = 0
	MethodGET     uint8 = 1
	MethodPOST    uint8 = 2
	MethodPUT     uint8 = 3
	MethodDELETE  uint8 = 4
	MethodPATCH   uint8 = 5
	MethodHEAD    uint8 = 6
	MethodOPTIONS uint8 = 7
	MethodCONNECT uint8 = 8
	MethodTRACE   uint8 = 9
)

const (
	methodGETString     = "GET"
	methodPOSTString    = "POST"
	methodPUTString     = "PUT"
	methodDELETEString  = "DELETE"
	methodPATCHString   = "PATCH"
	methodHEADString    = "HEAD"
	methodOPTIONSString = "OPTIONS"
	methodCONNECTString = "CONNECT"
	methodTRACEString   = "TRACE"
)

// Protocol versions accepted by the parser.
const (
	Proto10 = "HTTP/1.0"
	Proto11 = "HTTP/1.1"
)

// Size limits
const (
	// MaxRequestLineSize bounds the request line. Longer lines fail with 414.
	MaxRequestLineSize = 8192

	// DefaultMaxHeaderBytes bounds the header section (request line excluded)
	// when the parser is created without an explicit limit.
	DefaultMaxHeaderBytes = 16 << 10

	// DefaultMaxBodySize is the body limit used when no limit is configured.
	DefaultMaxBodySize int64 = 1 << 20
)

// ServerSoftware is the product token sent in the Server header and in the
// SERVER_SOFTWARE CGI variable.
const ServerSoftware = "webserv/1.0"

// Common header names
const (
	HeaderConnection       = "Connection"
	HeaderContentLength    = "Content-Length"
	HeaderContentType      = "Content-Type"
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderExpect           = "Expect"
	HeaderHost             = "Host"
	HeaderLocation         = "Location"
	HeaderServer           = "Server"
	HeaderAllow            = "Allow"
	HeaderCookie           = "Cookie"
	HeaderSetCookie        = "Set-Cookie"
)

// continueBytes is the interim response sent for Expect: 100-continue.
var continueBytes = []byte("HTTP/1.1 100 Continue\r\n\r\n")

// ContinueResponse returns a fresh copy of the literal 100 Continue
// interim response.
func ContinueResponse() []byte {
	out := make([]byte, len(continueBytes))
	copy(out, continueBytes)
	return out
}
