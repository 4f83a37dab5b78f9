package cgi

import (
	"sort"
	"strconv"
	"strings"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// DefaultPath is the PATH given to scripts.
const DefaultPath = "/usr/local/bin:/usr/bin:/bin"

// Meta is the server-side information a script's environment is built
// from, in addition to the request itself.
type Meta struct {
	ServerName string
	ServerPort int

	RemoteAddr string
	RemotePort int

	// ScriptName is the URL path of the script, ScriptFilename its
	// filesystem path, PathInfo the URL path after it.
	ScriptName     string
	ScriptFilename string
	PathInfo       string
}

// Environ builds the CGI/1.1 meta-variables (RFC 3875 section 4.1) for req.
// The result is sorted.
func Environ(req *http11.Request, m Meta) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_SOFTWARE=" + http11.ServerSoftware,
		"SERVER_PROTOCOL=" + req.Proto,
		"SERVER_NAME=" + m.ServerName,
		"SERVER_PORT=" + strconv.Itoa(m.ServerPort),
		"REQUEST_METHOD=" + req.Method,
		"REQUEST_URI=" + req.Target,
		"QUERY_STRING=" + req.Query,
		"SCRIPT_NAME=" + m.ScriptName,
		"SCRIPT_FILENAME=" + m.ScriptFilename,
		"PATH_INFO=" + m.PathInfo,
		"REMOTE_ADDR=" + m.RemoteAddr,
		"REMOTE_PORT=" + strconv.Itoa(m.RemotePort),
		"REDIRECT_STATUS=200",
		"PATH=" + DefaultPath,
	}

	if len(req.Body) > 0 || req.ContentLength >= 0 {
		env = append(env, "CONTENT_LENGTH="+strconv.Itoa(len(req.Body)))
	}
	if ct := req.Header.Get(http11.HeaderContentType); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
	}

	req.Header.VisitAll(func(name, value string) bool {
		key := envKey(name)
		switch key {
		case "CONTENT_TYPE", "CONTENT_LENGTH":
			// Already passed without the HTTP_ prefix.
		case "PROXY":
			// HTTP_PROXY would be picked up by HTTP clients in the script.
		default:
			env = append(env, "HTTP_"+key+"="+value)
		}
		return true
	})

	sort.Strings(env)
	return env
}

func envKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-':
			return '_'
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
