package route

import (
	"sort"
	"strings"

	"github.com/dapr/kit/logger"

	"github.com/yourusername/webserv/pkg/webserv/config"
	"github.com/yourusername/webserv/pkg/webserv/http11"
)

var log = logger.NewLogger("webserv.route")

// Table is the Router built from the configuration.
// It is read-only after NewTable and safe for concurrent use.
type Table struct {
	byPort map[int][]*virtualServer
	first  *virtualServer
}

type virtualServer struct {
	cfg *config.Server

	// locations sorted by descending path length, so the first prefix
	// match is the longest.
	locations []*config.Location
}

// NewTable builds a routing table. cfg must have defaults applied.
func NewTable(cfg *config.Config) *Table {
	t := &Table{byPort: make(map[int][]*virtualServer)}
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		vs := &virtualServer{cfg: s}
		for j := range s.Locations {
			vs.locations = append(vs.locations, &s.Locations[j])
		}
		sort.SliceStable(vs.locations, func(a, b int) bool {
			return len(vs.locations[a].Path) > len(vs.locations[b].Path)
		})
		t.byPort[s.Port] = append(t.byPort[s.Port], vs)
		if t.first == nil {
			t.first = vs
		}
	}
	return t
}

// server selects the virtual server for a listener port and Host header.
// The first server declared on the port is the default.
func (t *Table) server(port int, host string) *virtualServer {
	list := t.byPort[port]
	if len(list) == 0 {
		return t.first
	}
	if host != "" {
		for _, vs := range list {
			for _, name := range vs.cfg.ServerNames {
				if strings.EqualFold(name, host) {
					return vs
				}
			}
		}
	}
	return list[0]
}

// location returns the longest location whose path is a prefix of p on a
// segment boundary. A request for "/dir" also matches location "/dir/".
func (vs *virtualServer) location(p string) *config.Location {
	for _, l := range vs.locations {
		if prefixMatch(l.Path, p) {
			return l
		}
	}
	return nil
}

func prefixMatch(prefix, p string) bool {
	if prefix == "/" {
		return true
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	if p == trimmed {
		return true
	}
	return strings.HasPrefix(p, trimmed+"/")
}

func (vs *virtualServer) serverName() string {
	if len(vs.cfg.ServerNames) > 0 {
		return vs.cfg.ServerNames[0]
	}
	return vs.cfg.Host
}

func requestHost(req *http11.Request) string {
	if req == nil {
		return ""
	}
	return req.Host()
}

// BodyLimit implements Router.
func (t *Table) BodyLimit(req *http11.Request, port int) int64 {
	vs := t.server(port, requestHost(req))
	if vs == nil {
		return -1
	}
	if l := vs.location(req.Path); l != nil && l.MaxBodySize > 0 {
		return int64(l.MaxBodySize)
	}
	return int64(vs.cfg.MaxBodySize)
}

// hasDotDot reports whether any segment of p is "..".
func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Resolve implements Router.
func (t *Table) Resolve(req *http11.Request, port int) Decision {
	vs := t.server(port, req.Host())
	if vs == nil {
		return errorDecision(500)
	}

	if req.MethodID == http11.MethodUnknown {
		return errorDecision(501)
	}
	if hasDotDot(req.Path) {
		return errorDecision(403)
	}
	if r := vs.cfg.Return; r != nil {
		return redirect(r.Code, r.URL)
	}

	loc := vs.location(req.Path)
	if loc == nil {
		return errorDecision(404)
	}
	if r := loc.Return; r != nil {
		return redirect(r.Code, r.URL)
	}
	if !loc.AllowsMethod(req.Method) {
		return Decision{Kind: Error, Status: 405, Allow: loc.Methods}
	}

	if len(loc.CGI) > 0 {
		if d, ok := t.resolveCGI(vs, loc, req); ok {
			return d
		}
	}

	switch req.MethodID {
	case http11.MethodGET, http11.MethodHEAD:
		return t.serveStatic(vs, loc, req)
	case http11.MethodPOST:
		if loc.UploadStore == "" {
			return Decision{Kind: Error, Status: 405, Allow: staticMethods(loc)}
		}
		return t.upload(loc, req)
	case http11.MethodDELETE:
		return t.remove(vs, loc, req)
	default:
		return Decision{Kind: Error, Status: 405, Allow: staticMethods(loc)}
	}
}

// staticMethods lists the methods of loc that static handling implements.
func staticMethods(loc *config.Location) []string {
	var out []string
	for _, m := range loc.Methods {
		switch m {
		case "GET", "HEAD", "DELETE":
			out = append(out, m)
		case "POST":
			if loc.UploadStore != "" {
				out = append(out, m)
			}
		}
	}
	return out
}
