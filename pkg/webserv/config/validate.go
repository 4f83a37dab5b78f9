package config

import (
	"fmt"
	"strings"
)

var knownMethods = map[string]bool{
	"GET":    true,
	"HEAD":   true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
}

// Validate checks the configuration for consistency. It expects defaults
// to be applied and returns the first problem found as *Error.
func (c *Config) Validate() error {
	g := &c.Global
	for _, d := range []struct {
		field string
		ok    bool
	}{
		{"global.idle_timeout", g.IdleTimeout > 0},
		{"global.sweep_interval", g.SweepInterval > 0},
		{"global.cgi_timeout", g.CGITimeout > 0},
		{"global.read_chunk", g.ReadChunk > 0},
		{"global.write_chunk", g.WriteChunk > 0},
		{"global.max_header_bytes", g.MaxHeaderBytes > 0},
		{"global.client_max_body_size", g.MaxBodySize > 0},
		{"global.max_pending_output", g.MaxPendingOutput > 0},
		{"global.session_ttl", g.SessionTTL > 0},
		{"global.session_capacity", g.SessionCapacity > 0},
	} {
		if !d.ok {
			return fieldErr(d.field, "must be positive")
		}
	}

	if len(c.Servers) == 0 {
		return &Error{Field: "servers", Msg: "at least one server is required", Err: ErrNoServers}
	}

	names := make(map[string]string)
	for i := range c.Servers {
		s := &c.Servers[i]
		field := fmt.Sprintf("servers[%d]", i)

		if s.Port < 0 || s.Port > 65535 {
			return fieldErr(field+".listen", "port %d out of range", s.Port)
		}
		if s.Root == "" {
			return fieldErr(field+".root", "must not be empty")
		}
		if s.Return != nil {
			if err := validateRedirect(field+".return", s.Return); err != nil {
				return err
			}
		}
		for code := range s.ErrorPages {
			if code < 300 || code > 599 {
				return fieldErr(field+".error_pages", "status %d out of range", code)
			}
		}
		if s.Port != 0 {
			for _, n := range s.ServerNames {
				key := fmt.Sprintf("%s:%d/%s", s.Host, s.Port, strings.ToLower(n))
				if prev, dup := names[key]; dup {
					return fieldErr(field+".server_names", "%q on port %d already used by %s", n, s.Port, prev)
				}
				names[key] = field
			}
		}

		seen := make(map[string]bool)
		for j := range s.Locations {
			if err := validateLocation(fmt.Sprintf("%s.locations[%d]", field, j), &s.Locations[j], seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateLocation(field string, l *Location, seen map[string]bool) error {
	if !strings.HasPrefix(l.Path, "/") {
		return fieldErr(field+".path", "must start with '/'")
	}
	if seen[l.Path] {
		return fieldErr(field+".path", "duplicate location %q", l.Path)
	}
	seen[l.Path] = true

	for _, m := range l.Methods {
		if !knownMethods[m] {
			return fieldErr(field+".methods", "unsupported method %q", m)
		}
	}
	if l.MaxBodySize < 0 {
		return fieldErr(field+".client_max_body_size", "must not be negative")
	}
	if l.Return != nil {
		if err := validateRedirect(field+".return", l.Return); err != nil {
			return err
		}
	}
	for ext := range l.CGI {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsRune(ext, '/') {
			return fieldErr(field+".cgi", "invalid extension %q", ext)
		}
	}
	return nil
}

func validateRedirect(field string, r *Redirect) error {
	if r.Code < 300 || r.Code > 399 {
		return fieldErr(field+".code", "redirect status %d out of range", r.Code)
	}
	if r.URL == "" {
		return fieldErr(field+".url", "must not be empty")
	}
	return nil
}
