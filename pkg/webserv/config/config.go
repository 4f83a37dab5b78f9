// Package config loads the server configuration: a YAML file describing
// global settings and virtual servers, with environment overrides for the
// global settings.
package config

import (
	"time"
)

// Defaults
const (
	DefaultIdleTimeout      = 60 * time.Second
	DefaultSweepInterval    = time.Second
	DefaultCGITimeout       = 30 * time.Second
	DefaultReadChunk        = 8 << 10
	DefaultWriteChunk       = 64 << 10
	DefaultMaxHeaderBytes   = 16 << 10
	DefaultMaxBodySize      = Size(1 << 20)
	DefaultMaxPendingOutput = 1 << 20
	DefaultSessionTTL       = 30 * time.Minute
	DefaultSessionCapacity  = 4096
	DefaultBacklog          = 128

	DefaultHost = "0.0.0.0"
	DefaultPort = 8080
	DefaultRoot = "./www"
)

// DefaultIndex is the index list used when a server declares none.
var DefaultIndex = []string{"index.html"}

// DefaultMethods are the methods allowed by a location that lists none.
var DefaultMethods = []string{"GET", "HEAD"}

// Config is the whole configuration.
type Config struct {
	Global  Global   `yaml:"global"`
	Servers []Server `yaml:"servers"`
}

// Global holds process-wide settings. Every field can be overridden from
// the environment with the WEBSERV_ prefix, e.g. WEBSERV_IDLE_TIMEOUT=30s.
type Global struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	SweepInterval    time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	CGITimeout       time.Duration `yaml:"cgi_timeout" envconfig:"CGI_TIMEOUT"`
	ReadChunk        int           `yaml:"read_chunk" envconfig:"READ_CHUNK"`
	WriteChunk       int           `yaml:"write_chunk" envconfig:"WRITE_CHUNK"`
	MaxHeaderBytes   int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	MaxBodySize      Size          `yaml:"client_max_body_size" envconfig:"CLIENT_MAX_BODY_SIZE"`
	MaxPendingOutput int           `yaml:"max_pending_output" envconfig:"MAX_PENDING_OUTPUT"`
	SessionTTL       time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL"`
	SessionCapacity  int           `yaml:"session_capacity" envconfig:"SESSION_CAPACITY"`
	Backlog          int           `yaml:"backlog" envconfig:"BACKLOG"`
	MetricsAddr      string        `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// Server is one virtual server (a "server" block).
type Server struct {
	Host string `yaml:"host"`

	// Port 0 binds an ephemeral port.
	Port int `yaml:"listen"`

	ServerNames []string       `yaml:"server_names"`
	Root        string         `yaml:"root"`
	Index       []string       `yaml:"index"`
	Autoindex   bool           `yaml:"autoindex"`
	MaxBodySize Size           `yaml:"client_max_body_size"`
	CGITimeout  time.Duration  `yaml:"cgi_timeout"`
	ErrorPages  map[int]string `yaml:"error_pages"`
	Return      *Redirect      `yaml:"return"`
	Locations   []Location     `yaml:"locations"`
}

// Location is a path-prefix rule inside a server.
type Location struct {
	Path string `yaml:"path"`

	// Root replaces the location prefix when mapping a request path to the
	// filesystem (alias semantics). Empty inherits the server root.
	Root string `yaml:"root"`

	Index   []string `yaml:"index"`
	Methods []string `yaml:"methods"`

	// Autoindex nil inherits the server setting.
	Autoindex *bool `yaml:"autoindex"`

	// UploadStore is the directory POST bodies are written to.
	UploadStore string `yaml:"upload_store"`

	Return *Redirect `yaml:"return"`

	// MaxBodySize zero inherits the server limit.
	MaxBodySize Size `yaml:"client_max_body_size"`

	// CGI maps a file extension (".py") to an interpreter path. An empty
	// interpreter executes the script directly.
	CGI map[string]string `yaml:"cgi"`
}

// Redirect is a "return" directive.
type Redirect struct {
	Code int    `yaml:"code"`
	URL  string `yaml:"url"`
}

// AllowsMethod reports whether method is allowed in this location.
func (l *Location) AllowsMethod(method string) bool {
	for _, m := range l.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Default returns a configuration with one server on DefaultPort serving
// DefaultRoot.
func Default() *Config {
	c := &Config{Servers: []Server{{Port: DefaultPort}}}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields with their defaults. Servers inherit
// global limits and locations inherit server settings.
func (c *Config) ApplyDefaults() {
	g := &c.Global
	if g.IdleTimeout == 0 {
		g.IdleTimeout = DefaultIdleTimeout
	}
	if g.SweepInterval == 0 {
		g.SweepInterval = DefaultSweepInterval
	}
	if g.CGITimeout == 0 {
		g.CGITimeout = DefaultCGITimeout
	}
	if g.ReadChunk == 0 {
		g.ReadChunk = DefaultReadChunk
	}
	if g.WriteChunk == 0 {
		g.WriteChunk = DefaultWriteChunk
	}
	if g.MaxHeaderBytes == 0 {
		g.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if g.MaxBodySize == 0 {
		g.MaxBodySize = DefaultMaxBodySize
	}
	if g.MaxPendingOutput == 0 {
		g.MaxPendingOutput = DefaultMaxPendingOutput
	}
	if g.SessionTTL == 0 {
		g.SessionTTL = DefaultSessionTTL
	}
	if g.SessionCapacity == 0 {
		g.SessionCapacity = DefaultSessionCapacity
	}
	if g.Backlog == 0 {
		g.Backlog = DefaultBacklog
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Host == "" {
			s.Host = DefaultHost
		}
		if s.Root == "" {
			s.Root = DefaultRoot
		}
		if len(s.Index) == 0 {
			s.Index = DefaultIndex
		}
		if s.MaxBodySize == 0 {
			s.MaxBodySize = g.MaxBodySize
		}
		if s.CGITimeout == 0 {
			s.CGITimeout = g.CGITimeout
		}
		if len(s.Locations) == 0 {
			s.Locations = []Location{{Path: "/"}}
		}
		for j := range s.Locations {
			l := &s.Locations[j]
			if len(l.Methods) == 0 {
				l.Methods = DefaultMethods
			}
			if l.MaxBodySize == 0 {
				l.MaxBodySize = s.MaxBodySize
			}
			if l.Autoindex == nil {
				v := s.Autoindex
				l.Autoindex = &v
			}
		}
	}
}
