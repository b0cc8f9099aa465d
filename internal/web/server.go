// pattern: Imperative Shell

// Package web is the dashboard application behind the host. It routes
// translated requests with chi and turns them into bus operations.
package web

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"dashing/internal/bus"
	"dashing/internal/host"
	"dashing/internal/logging"
)

// DefaultMaxBodyBytes caps a publish request body.
const DefaultMaxBodyBytes = 1 << 20

// Config holds web application configuration.
type Config struct {
	DefaultDashboard string // target of the GET / redirect
	ReplayHistory    bool   // send every history entry to a new subscriber
	MaxBodyBytes     int64  // 0 means DefaultMaxBodyBytes
}

// Server is the host.Engine serving subscribe, publish and query routes.
type Server struct {
	cfg    Config
	bus    *bus.Bus
	router chi.Router
	logger *logging.ScopedLogger
	now    func() time.Time
}

// New creates the application engine.
// logProvider must implement logging.LoggerProvider (both *logging.Manager and
// *logging.TestLogManager satisfy this interface).
func New(cfg Config, b *bus.Bus, logProvider logging.LoggerProvider) *Server {
	if cfg.DefaultDashboard == "" {
		cfg.DefaultDashboard = "sample"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		cfg:    cfg,
		bus:    b,
		logger: logProvider.For("web"),
		now:    time.Now,
	}

	r := chi.NewRouter()
	r.Get("/", s.route(s.handleIndex))
	r.Get("/events", s.route(s.handleEvents))
	r.Post("/widgets/{id}", s.route(s.handlePublish))
	r.Get("/history", s.route(s.handleHistory))
	r.Get("/api/health", s.route(s.handleHealth))
	r.Get("/api/stats", s.route(s.handleStats))
	r.NotFound(s.route(func(*host.Request) *host.Response {
		return errorResponse(http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowed(s.route(func(*host.Request) *host.Response {
		return errorResponse(http.StatusMethodNotAllowed, "method not allowed")
	}))
	s.router = r

	return s
}

// SetClockForTest replaces the clock used to stamp published events.
func (s *Server) SetClockForTest(now func() time.Time) {
	s.now = now
}

type dispatchKey struct{}

// dispatch carries one Request through the router and collects its Response.
type dispatch struct {
	req  *host.Request
	resp *host.Response
}

// Handle implements host.Engine.
func (s *Server) Handle(req *host.Request) *host.Response {
	d := &dispatch{req: req}
	u := &url.URL{Path: req.URL.Path, RawQuery: req.URL.Query}
	r := &http.Request{
		Method:     req.Method,
		URL:        u,
		RequestURI: u.RequestURI(),
		Header:     http.Header(req.Headers),
		RemoteAddr: req.RemoteAddr,
	}
	r = r.WithContext(context.WithValue(req.Context(), dispatchKey{}, d))

	s.router.ServeHTTP(discardWriter{}, r)
	return d.resp
}

// route adapts an application handler to chi, copying URL parameters onto
// the Request.
func (s *Server) route(fn func(req *host.Request) *host.Response) http.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) {
		d, ok := r.Context().Value(dispatchKey{}).(*dispatch)
		if !ok {
			return
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.URLParams.Keys) > 0 {
			d.req.Params = make(map[string]string, len(rctx.URLParams.Keys))
			for i, k := range rctx.URLParams.Keys {
				d.req.Params[k] = rctx.URLParams.Values[i]
			}
		}
		d.resp = fn(d.req)
	}
}

// discardWriter satisfies chi; responses travel back through the dispatch.
type discardWriter struct{}

func (discardWriter) Header() http.Header         { return http.Header{} }
func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) WriteHeader(int)             {}

func (s *Server) handleIndex(req *host.Request) *host.Response {
	return host.Redirect(http.StatusSeeOther, req.URL.BasePath+"/"+s.cfg.DefaultDashboard)
}

func (s *Server) handleHealth(*host.Request) *host.Response {
	return host.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
