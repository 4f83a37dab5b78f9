package route

import (
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// ErrorResponse implements Router.
func (t *Table) ErrorResponse(req *http11.Request, code, port int) *http11.Response {
	resp := http11.NewResponse(code)

	if vs := t.server(port, requestHost(req)); vs != nil {
		if page, ok := vs.cfg.ErrorPages[code]; ok {
			name := filepath.Join(vs.cfg.Root, filepath.FromSlash(path.Clean("/"+page)))
			data, err := os.ReadFile(name)
			if err == nil {
				resp.Header.Set(http11.HeaderContentType, contentType(name, data))
				resp.Body = data
				return resp
			}
			log.Debugf("Error page %s for %d: %v", name, code, err)
		}
	}

	resp.Header.Set(http11.HeaderContentType, "text/html; charset=utf-8")
	resp.Body = DefaultErrorPage(code)
	return resp
}

// DefaultErrorPage renders the built-in error page for code.
func DefaultErrorPage(code int) []byte {
	title := strconv.Itoa(code) + " " + http11.StatusText(code)
	return []byte("<html>\n<head><title>" + title + "</title></head>\n<body>\n<h1>" + title +
		"</h1>\n<hr><center>" + http11.ServerSoftware + "</center>\n</body>\n</html>\n")
}

// RedirectResponse builds a redirect to location.
func RedirectResponse(code int, location string) *http11.Response {
	resp := http11.NewResponse(code)
	resp.Header.Set(http11.HeaderLocation, location)
	resp.Header.Set(http11.HeaderContentType, "text/html; charset=utf-8")
	resp.Body = DefaultErrorPage(code)
	return resp
}
