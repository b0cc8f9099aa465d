// pattern: Functional Core

package host

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// URL is the parsed location of a Request relative to the base URL it arrived on.
type URL struct {
	Scheme   string
	HostName string
	Port     int    // 0 when the request used the scheme's default port
	BasePath string // base URL path without trailing slash
	Path     string // decoded path relative to BasePath, always starting with "/"
	Query    string // raw query, without '?'
}

func (u URL) String() string {
	host := u.HostName
	if u.Port != 0 {
		host = net.JoinHostPort(u.HostName, strconv.Itoa(u.Port))
	}
	s := u.Scheme + "://" + host + u.BasePath + u.Path
	if u.Query != "" {
		s += "?" + u.Query
	}
	return s
}

// Request is the transport-independent view of an HTTP request handed to an Engine.
type Request struct {
	Method     string
	URL        URL
	Headers    map[string][]string // canonical header names
	Body       io.Reader           // bounded by Content-Length
	RemoteAddr string
	ConnID     string            // identity of the accepted connection
	Params     map[string]string // route parameters, filled in by the engine

	ctx context.Context
}

// NewRequest builds a Request for path with no headers. It is intended for
// engines and tests that dispatch without a listener.
func NewRequest(ctx context.Context, method, path string, body io.Reader) *Request {
	if body == nil {
		body = strings.NewReader("")
	}
	return &Request{
		Method:  method,
		URL:     URL{Scheme: "http", HostName: "localhost", Path: path},
		Headers: make(map[string][]string),
		Body:    body,
		ctx:     ctx,
	}
}

// Context returns the request's context, cancelled when the client goes away.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Header returns the first value of the named header.
func (r *Request) Header(name string) string {
	if vs := r.Headers[textproto.CanonicalMIMEHeaderKey(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Param returns the named route parameter.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// TranslationError is returned when an incoming request cannot be mapped
// onto a Request.
type TranslationError struct {
	Status int
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate request: %s", e.Reason)
}

// translateRequest maps r, received on the listener for base, to a Request.
func translateRequest(base *url.URL, r *http.Request, connID string) (*Request, error) {
	basePath := strings.TrimSuffix(base.Path, "/")
	rel, ok := relativePath(basePath, r.URL.Path)
	if !ok {
		return nil, &TranslationError{
			Status: http.StatusNotFound,
			Reason: fmt.Sprintf("path %q is outside base path %q", r.URL.Path, basePath),
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	hostName, port := splitHostPort(r.Host, scheme)

	headers := map[string][]string(r.Header.Clone())
	if headers == nil {
		headers = make(map[string][]string)
	}

	body := io.Reader(strings.NewReader(""))
	if n := expectedLength(headers); n > 0 && r.Body != nil {
		body = io.LimitReader(r.Body, n)
	}

	return &Request{
		Method: r.Method,
		URL: URL{
			Scheme:   scheme,
			HostName: hostName,
			Port:     port,
			BasePath: basePath,
			Path:     rel,
			Query:    r.URL.RawQuery,
		},
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		ConnID:     connID,
		ctx:        r.Context(),
	}, nil
}

// relativePath strips basePath from p, comparing case-insensitively.
func relativePath(basePath, p string) (string, bool) {
	if basePath == "" {
		if p == "" {
			return "/", true
		}
		return p, true
	}
	if len(p) < len(basePath) || !strings.EqualFold(p[:len(basePath)], basePath) {
		return "", false
	}
	rest := p[len(basePath):]
	switch {
	case rest == "":
		return "/", true
	case rest[0] == '/':
		return rest, true
	default:
		return "", false
	}
}

func splitHostPort(hostport, scheme string) (string, int) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	port, err := strconv.Atoi(p)
	if err != nil || port == defaultPort(scheme) {
		return h, 0
	}
	return h, port
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// expectedLength reads Content-Length, treating a missing, repeated-but-different,
// or unparsable value as zero.
func expectedLength(headers map[string][]string) int64 {
	vs := headers["Content-Length"]
	if len(vs) == 0 {
		return 0
	}
	for _, v := range vs[1:] {
		if v != vs[0] {
			return 0
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(vs[0]), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
