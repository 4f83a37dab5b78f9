package route

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/webserv/pkg/webserv/config"
	"github.com/yourusername/webserv/pkg/webserv/http11"
)

type fixture struct {
	root   string
	table  *Table
	config *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"www/index.html":           "<h1>home</h1>",
		"www/style.css":            "body{}",
		"www/blob":                 "\x89PNG\r\n\x1a\n0000",
		"www/docs/readme.txt":      "read me",
		"www/docs/guide/page.html": "guide",
		"www/errors/404.html":      "custom not found",
		"www/cgi-bin/hello.sh":     "#!/bin/sh\necho\n",
		"www/cgi-bin/noexec.cgi":   "#!/bin/sh\n",
		"www/cgi-bin/run.cgi":      "#!/bin/sh\n",
		"www/alias/inside.txt":     "aliased",
		"www/private/secret.txt":   "nope",
		"other/index.html":         "other vhost",
		"www/delete/victim.txt":    "bye",
		"www/delete/dir/keep.txt":  "keep",
	}
	for name, content := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.Chmod(filepath.Join(root, "www/cgi-bin/run.cgi"), 0o755))

	on := true
	cfg := &config.Config{Servers: []config.Server{
		{
			Port:        8080,
			ServerNames: []string{"main.test"},
			Root:        filepath.Join(root, "www"),
			ErrorPages:  map[int]string{404: "/errors/404.html"},
			CGITimeout:  7 * time.Second,
			Locations: []config.Location{
				{Path: "/", Methods: []string{"GET", "HEAD"}},
				{Path: "/docs/", Methods: []string{"GET"}, Autoindex: &on},
				{Path: "/upload", Methods: []string{"GET", "POST"}, UploadStore: filepath.Join(root, "uploads"), MaxBodySize: 16},
				{Path: "/delete", Methods: []string{"GET", "DELETE"}},
				{Path: "/cgi-bin", Methods: []string{"GET", "POST"}, CGI: map[string]string{".sh": "/bin/sh", ".cgi": ""}},
				{Path: "/files", Root: filepath.Join(root, "www/alias")},
				{Path: "/old", Return: &config.Redirect{Code: 301, URL: "/new"}},
			},
		},
		{
			Port:        8080,
			ServerNames: []string{"other.test"},
			Root:        filepath.Join(root, "other"),
		},
	}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	return &fixture{root: root, table: NewTable(cfg), config: cfg}
}

func newRequest(method, target string, headers ...string) *http11.Request {
	p := http11.NewParser(http11.Limits{})
	raw := method + " " + target + " HTTP/1.1\r\n"
	for i := 0; i+1 < len(headers); i += 2 {
		raw += headers[i] + ": " + headers[i+1] + "\r\n"
	}
	raw += "\r\n"
	if p.Feed([]byte(raw)) != http11.StateComplete {
		panic("bad test request: " + raw)
	}
	return p.Request()
}

func TestResolveStatic(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		method     string
		target     string
		headers    []string
		wantKind   Kind
		wantStatus int
		wantBody   string
		wantType   string
		wantLoc    string
	}{
		{name: "index", method: "GET", target: "/", wantKind: Serve, wantStatus: 200, wantBody: "<h1>home</h1>", wantType: "text/html; charset=utf-8"},
		{name: "css", method: "GET", target: "/style.css", wantKind: Serve, wantStatus: 200, wantType: "text/css; charset=utf-8"},
		{name: "sniffed", method: "GET", target: "/blob", wantKind: Serve, wantStatus: 200, wantType: "image/png"},
		{name: "head", method: "HEAD", target: "/style.css", wantKind: Serve, wantStatus: 200},
		{name: "missing", method: "GET", target: "/nope.html", wantKind: Error, wantStatus: 404},
		{name: "traversal", method: "GET", target: "/../etc/passwd", wantKind: Error, wantStatus: 403},
		{name: "encoded traversal", method: "GET", target: "/%2e%2e/etc/passwd", wantKind: Error, wantStatus: 403},
		{name: "unknown method", method: "BREW", target: "/", wantKind: Error, wantStatus: 501},
		{name: "not allowed", method: "POST", target: "/", wantKind: Error, wantStatus: 405},
		{name: "dir redirect", method: "GET", target: "/docs?x=1", wantKind: Redirect, wantStatus: 301, wantLoc: "/docs/?x=1"},
		{name: "location return", method: "GET", target: "/old/page", wantKind: Redirect, wantStatus: 301, wantLoc: "/new"},
		{name: "dir without index", method: "GET", target: "/private/", wantKind: Error, wantStatus: 403},
		{name: "alias", method: "GET", target: "/files/inside.txt", wantKind: Serve, wantStatus: 200, wantBody: "aliased"},
		{name: "vhost", method: "GET", target: "/", headers: []string{"Host", "other.test:8080"}, wantKind: Serve, wantStatus: 200, wantBody: "other vhost"},
		{name: "unknown vhost uses default", method: "GET", target: "/", headers: []string{"Host", "unknown.test"}, wantKind: Serve, wantStatus: 200, wantBody: "<h1>home</h1>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.table.Resolve(newRequest(tt.method, tt.target, tt.headers...), 8080)
			require.Equal(t, tt.wantKind, d.Kind, "kind")

			switch d.Kind {
			case Serve:
				require.NotNil(t, d.Response)
				assert.Equal(t, tt.wantStatus, d.Response.Status)
				if tt.wantBody != "" {
					assert.Equal(t, tt.wantBody, string(d.Response.Body))
				}
				if tt.wantType != "" {
					assert.Equal(t, tt.wantType, d.Response.Header.Get("Content-Type"))
				}
			default:
				assert.Equal(t, tt.wantStatus, d.Status)
				assert.Equal(t, tt.wantLoc, d.Location)
			}
		})
	}
}

func TestResolveMethodNotAllowedListsAllow(t *testing.T) {
	f := newFixture(t)
	d := f.table.Resolve(newRequest("DELETE", "/style.css"), 8080)
	require.Equal(t, Error, d.Kind)
	assert.Equal(t, 405, d.Status)
	assert.Equal(t, []string{"GET", "HEAD"}, d.Allow)
}

func TestResolveAutoindex(t *testing.T) {
	f := newFixture(t)
	d := f.table.Resolve(newRequest("GET", "/docs/"), 8080)
	require.Equal(t, Serve, d.Kind)

	body := string(d.Response.Body)
	assert.Contains(t, body, "Index of /docs/")
	assert.Contains(t, body, `<a href="readme.txt">readme.txt</a>`)
	assert.Contains(t, body, `<a href="guide/">guide/</a>`)
	assert.Contains(t, body, `<a href="../">../</a>`)
}

func TestResolveUpload(t *testing.T) {
	f := newFixture(t)

	req := newRequest("POST", "/upload/note.txt", "Content-Length", "0")
	req.Body = []byte("hello")
	d := f.table.Resolve(req, 8080)
	require.Equal(t, Serve, d.Kind)
	assert.Equal(t, 201, d.Response.Status)
	assert.Equal(t, "/upload/note.txt", d.Response.Header.Get("Location"))

	data, err := os.ReadFile(filepath.Join(f.root, "uploads", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Same name again: stored under a new name, original untouched.
	req.Body = []byte("second")
	d = f.table.Resolve(req, 8080)
	require.Equal(t, Serve, d.Kind)
	loc := d.Response.Header.Get("Location")
	assert.NotEqual(t, "/upload/note.txt", loc)
	assert.True(t, strings.HasSuffix(loc, "-note.txt"), loc)

	data, err = os.ReadFile(filepath.Join(f.root, "uploads", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// No file name: generated.
	d = f.table.Resolve(newRequest("POST", "/upload"), 8080)
	require.Equal(t, Serve, d.Kind)
	assert.True(t, strings.HasPrefix(d.Response.Header.Get("Location"), "/upload/upload-"))
}

func TestResolveDelete(t *testing.T) {
	f := newFixture(t)

	d := f.table.Resolve(newRequest("DELETE", "/delete/victim.txt"), 8080)
	require.Equal(t, Serve, d.Kind)
	assert.Equal(t, 204, d.Response.Status)
	_, err := os.Stat(filepath.Join(f.root, "www/delete/victim.txt"))
	assert.True(t, os.IsNotExist(err))

	d = f.table.Resolve(newRequest("DELETE", "/delete/victim.txt"), 8080)
	assert.Equal(t, 404, d.Status)

	d = f.table.Resolve(newRequest("DELETE", "/delete/dir"), 8080)
	assert.Equal(t, 409, d.Status)
}

func TestResolveCGI(t *testing.T) {
	f := newFixture(t)

	d := f.table.Resolve(newRequest("GET", "/cgi-bin/hello.sh/extra/path?q=1"), 8080)
	require.Equal(t, ExecuteCGI, d.Kind)
	require.NotNil(t, d.CGI)
	assert.Equal(t, filepath.Join(f.root, "www/cgi-bin/hello.sh"), d.CGI.ScriptPath)
	assert.Equal(t, "/bin/sh", d.CGI.Interpreter)
	assert.Equal(t, "/cgi-bin/hello.sh", d.CGI.ScriptName)
	assert.Equal(t, "/extra/path", d.CGI.PathInfo)
	assert.Equal(t, filepath.Join(f.root, "www/cgi-bin"), d.CGI.Dir)
	assert.Equal(t, "main.test", d.CGI.ServerName)
	assert.Equal(t, 7*time.Second, d.CGI.Timeout)

	d = f.table.Resolve(newRequest("GET", "/cgi-bin/run.cgi"), 8080)
	require.Equal(t, ExecuteCGI, d.Kind)
	assert.Empty(t, d.CGI.Interpreter)

	d = f.table.Resolve(newRequest("GET", "/cgi-bin/noexec.cgi"), 8080)
	assert.Equal(t, Error, d.Kind)
	assert.Equal(t, 403, d.Status)

	d = f.table.Resolve(newRequest("GET", "/cgi-bin/missing.sh"), 8080)
	assert.Equal(t, Error, d.Kind)
	assert.Equal(t, 404, d.Status)
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(16), f.table.BodyLimit(newRequest("POST", "/upload/x"), 8080))
	assert.Equal(t, int64(config.DefaultMaxBodySize), f.table.BodyLimit(newRequest("POST", "/"), 8080))
}

func TestErrorResponse(t *testing.T) {
	f := newFixture(t)

	resp := f.table.ErrorResponse(newRequest("GET", "/x"), 404, 8080)
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "custom not found", string(resp.Body))

	resp = f.table.ErrorResponse(nil, 500, 8080)
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, string(resp.Body), "500 Internal Server Error")
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestRedirectResponse(t *testing.T) {
	resp := RedirectResponse(302, "/there")
	assert.Equal(t, 302, resp.Status)
	assert.Equal(t, "/there", resp.Header.Get("Location"))
}

func TestPrefixMatch(t *testing.T) {
	tests := []struct {
		prefix, path string
		want         bool
	}{
		{"/", "/anything", true},
		{"/docs", "/docs", true},
		{"/docs", "/docs/a", true},
		{"/docs", "/docsx", false},
		{"/docs/", "/docs", true},
		{"/docs/", "/docs/a", true},
		{"/docs/", "/doc", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prefixMatch(tt.prefix, tt.path), "%s ~ %s", tt.prefix, tt.path)
	}
}
