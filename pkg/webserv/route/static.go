package route

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/yourusername/webserv/pkg/webserv/config"
	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// fsPath maps a URL path to the filesystem. A location root replaces the
// location prefix (alias semantics); the server root is prepended to the
// whole path.
func (vs *virtualServer) fsPath(loc *config.Location, p string) string {
	if loc != nil && loc.Root != "" {
		rel := strings.TrimPrefix(p, strings.TrimSuffix(loc.Path, "/"))
		return filepath.Join(loc.Root, filepath.FromSlash(rel))
	}
	return filepath.Join(vs.cfg.Root, filepath.FromSlash(p))
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return 404
	case errors.Is(err, fs.ErrPermission):
		return 403
	default:
		return 500
	}
}

// contentType picks the media type from the extension, falling back to
// content sniffing.
func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

func (t *Table) serveStatic(vs *virtualServer, loc *config.Location, req *http11.Request) Decision {
	target := vs.fsPath(loc, req.Path)
	fi, err := os.Stat(target)
	if err != nil {
		return errorDecision(statusForErr(err))
	}

	if fi.IsDir() {
		if !strings.HasSuffix(req.Path, "/") {
			to := req.RawPath + "/"
			if req.Query != "" {
				to += "?" + req.Query
			}
			return redirect(301, to)
		}
		index := loc.Index
		if len(index) == 0 {
			index = vs.cfg.Index
		}
		for _, name := range index {
			candidate := filepath.Join(target, name)
			if st, err := os.Stat(candidate); err == nil && st.Mode().IsRegular() {
				return fileResponse(candidate)
			}
		}
		if loc.Autoindex != nil && *loc.Autoindex {
			body, err := autoindex(target, req.Path)
			if err != nil {
				return errorDecision(statusForErr(err))
			}
			resp := http11.NewResponse(200)
			resp.Header.Set(http11.HeaderContentType, "text/html; charset=utf-8")
			resp.Body = body
			return serve(resp)
		}
		return errorDecision(403)
	}

	if !fi.Mode().IsRegular() {
		return errorDecision(403)
	}
	return fileResponse(target)
}

func fileResponse(name string) Decision {
	data, err := os.ReadFile(name)
	if err != nil {
		return errorDecision(statusForErr(err))
	}
	resp := http11.NewResponse(200)
	resp.Header.Set(http11.HeaderContentType, contentType(name, data))
	resp.Body = data
	return serve(resp)
}

func autoindex(dir, urlPath string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	title := html.EscapeString("Index of " + urlPath)
	var b bytes.Buffer
	fmt.Fprintf(&b, "<html>\n<head><title>%s</title></head>\n<body>\n<h1>%s</h1>\n<hr>\n<ul>\n", title, title)
	if urlPath != "/" {
		b.WriteString("<li><a href=\"../\">../</a></li>\n")
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		href := (&url.URL{Path: name}).EscapedPath()
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(href), html.EscapeString(name))
	}
	b.WriteString("</ul>\n<hr>\n</body>\n</html>\n")
	return b.Bytes(), nil
}

// upload stores the request body in the location's upload store. The file
// is named after the last path segment below the location, or gets a
// generated name; existing files are never overwritten.
func (t *Table) upload(loc *config.Location, req *http11.Request) Decision {
	name := strings.Trim(strings.TrimPrefix(req.Path, strings.TrimSuffix(loc.Path, "/")), "/")
	if name == "" || strings.Contains(name, "/") || name == "." {
		name = "upload-" + uuid.NewString()
	}

	if err := os.MkdirAll(loc.UploadStore, 0o755); err != nil {
		log.Warnf("Upload store %s: %v", loc.UploadStore, err)
		return errorDecision(500)
	}

	f, err := os.OpenFile(filepath.Join(loc.UploadStore, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		name = uuid.NewString() + "-" + name
		f, err = os.OpenFile(filepath.Join(loc.UploadStore, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		log.Warnf("Upload %s: %v", name, err)
		return errorDecision(statusForErr(err))
	}
	dst := f.Name()
	if _, err := f.Write(req.Body); err != nil {
		f.Close()
		os.Remove(dst)
		log.Warnf("Upload %s: %v", dst, err)
		return errorDecision(500)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return errorDecision(500)
	}

	location := path.Join(loc.Path, name)
	resp := http11.NewResponse(201)
	resp.Header.Set(http11.HeaderLocation, location)
	resp.Header.Set(http11.HeaderContentType, "text/html; charset=utf-8")
	resp.Body = []byte("<html><body><h1>201 Created</h1><p>" + html.EscapeString(location) + "</p></body></html>\n")
	log.Debugf("Stored %d bytes at %s", len(req.Body), dst)
	return serve(resp)
}

func (t *Table) remove(vs *virtualServer, loc *config.Location, req *http11.Request) Decision {
	target := vs.fsPath(loc, req.Path)
	fi, err := os.Lstat(target)
	if err != nil {
		return errorDecision(statusForErr(err))
	}
	if fi.IsDir() {
		return errorDecision(409)
	}
	if err := os.Remove(target); err != nil {
		return errorDecision(statusForErr(err))
	}
	return serve(http11.NewResponse(204))
}

// resolveCGI finds the first path segment whose extension has a handler.
// ok is false when the path names no script, so static handling applies.
func (t *Table) resolveCGI(vs *virtualServer, loc *config.Location, req *http11.Request) (d Decision, ok bool) {
	p := req.Path
	var scriptName, pathInfo, interp string
	found := false
	for i := 1; i <= len(p) && !found; i++ {
		if i < len(p) && p[i] != '/' {
			continue
		}
		ext := path.Ext(p[:i])
		if ext == "" {
			continue
		}
		if h, ok := loc.CGI[ext]; ok {
			scriptName, pathInfo, interp = p[:i], p[i:], h
			found = true
		}
	}
	if !found {
		return Decision{}, false
	}

	script := vs.fsPath(loc, scriptName)
	fi, err := os.Stat(script)
	if err != nil {
		return errorDecision(statusForErr(err)), true
	}
	if !fi.Mode().IsRegular() {
		return errorDecision(403), true
	}
	if interp == "" && fi.Mode().Perm()&0o111 == 0 {
		return errorDecision(403), true
	}
	abs, err := filepath.Abs(script)
	if err != nil {
		return errorDecision(500), true
	}

	return Decision{
		Kind: ExecuteCGI,
		CGI: &CGITarget{
			ScriptPath:  abs,
			Interpreter: interp,
			ScriptName:  scriptName,
			PathInfo:    pathInfo,
			Dir:         filepath.Dir(abs),
			ServerName:  vs.serverName(),
			Timeout:     vs.cfg.CGITimeout,
		},
	}, true
}
