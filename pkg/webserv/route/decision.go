// Package route maps a parsed request to what the connection should do
// with it: send a ready response, redirect, answer with an error status or
// run a CGI script.
package route

import (
	"time"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// Kind is the kind of a routing Decision.
type Kind int

const (
	// Serve sends Decision.Response.
	Serve Kind = iota

	// Redirect answers Decision.Status with a Location header.
	Redirect

	// Error answers Decision.Status using the server's error pages.
	Error

	// ExecuteCGI runs Decision.CGI.
	ExecuteCGI
)

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case Serve:
		return "serve"
	case Redirect:
		return "redirect"
	case Error:
		return "error"
	case ExecuteCGI:
		return "cgi"
	default:
		return "unknown"
	}
}

// Decision is the result of Router.Resolve.
type Decision struct {
	Kind Kind

	// Response is set for Serve.
	Response *http11.Response

	// Status is the status code for Redirect and Error.
	Status int

	// Location is the redirect target for Redirect.
	Location string

	// Allow lists the allowed methods for a 405 Error.
	Allow []string

	// CGI is set for ExecuteCGI.
	CGI *CGITarget
}

// CGITarget is a resolved CGI script.
type CGITarget struct {
	// ScriptPath is the filesystem path of the script.
	ScriptPath string

	// Interpreter runs the script; empty executes ScriptPath directly.
	Interpreter string

	// ScriptName is the URL path of the script (SCRIPT_NAME).
	ScriptName string

	// PathInfo is the URL path after the script (PATH_INFO).
	PathInfo string

	// Dir is the working directory of the child.
	Dir string

	// ServerName is the name reported as SERVER_NAME.
	ServerName string

	// Timeout bounds the job from spawn to final response.
	Timeout time.Duration
}

// Router is what the connection layer needs from routing.
type Router interface {
	// Resolve decides how to answer req received on the listener
	// configured for port.
	Resolve(req *http11.Request, port int) Decision

	// ErrorResponse builds the response for an error status, using the
	// configured error page when there is one. req may be nil when the
	// request could not be parsed.
	ErrorResponse(req *http11.Request, code, port int) *http11.Response

	// BodyLimit returns the maximum body size for req.
	BodyLimit(req *http11.Request, port int) int64
}

func serve(resp *http11.Response) Decision {
	return Decision{Kind: Serve, Response: resp}
}

func errorDecision(code int) Decision {
	return Decision{Kind: Error, Status: code}
}

func redirect(code int, location string) Decision {
	return Decision{Kind: Redirect, Status: code, Location: location}
}
