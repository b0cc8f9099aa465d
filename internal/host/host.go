// pattern: Imperative Shell

// Package host binds HTTP listeners for a set of base URLs and dispatches
// every request to an Engine as a transport-independent Request. Responses
// are written either buffered or as long-lived streams.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dashing/internal/logging"
	"dashing/internal/process"
)

// Engine produces a Response for every translated request.
type Engine interface {
	Handle(req *Request) *Response
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(req *Request) *Response

func (f EngineFunc) Handle(req *Request) *Response { return f(req) }

// Config controls how the host binds and serves.
type Config struct {
	BaseURLs          []string
	MaxStreams        int           // 0 means unlimited
	WriteTimeout      time.Duration // per-write deadline on streaming responses
	ReadHeaderTimeout time.Duration
	MaxRestarts       int // accept-loop restarts per listener; 0 means unlimited
	RestartDelay      time.Duration
}

// BindError is returned by Start when a base URL cannot be bound.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Host owns one listener per base URL.
type Host struct {
	cfg     Config
	engine  Engine
	logger  *logging.ScopedLogger
	streams *semaphore.Weighted
	listen  func(network, address string) (net.Listener, error)

	mu       sync.Mutex
	bindings []*binding
	started  bool
	stopped  bool
	stopping chan struct{}

	openStreams atomic.Int64
}

type binding struct {
	base *url.URL
	addr string
	srv  *http.Server
	sup  *process.Supervisor

	// ln is handed to the first serve call; later calls rebind addr.
	ln net.Listener
}

// New creates a host for cfg. Nothing is bound until Start.
func New(cfg Config, engine Engine, logProvider logging.LoggerProvider) *Host {
	h := &Host{
		cfg:      cfg,
		engine:   engine,
		logger:   logProvider.For("host"),
		listen:   net.Listen,
		stopping: make(chan struct{}),
	}
	if cfg.MaxStreams > 0 {
		h.streams = semaphore.NewWeighted(int64(cfg.MaxStreams))
	}
	return h
}

// Start binds every base URL and begins serving. If any base URL cannot be
// bound, the ones already bound are released and a *BindError is returned.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started || h.stopped {
		return errors.New("host: already started")
	}
	if len(h.cfg.BaseURLs) == 0 {
		return errors.New("host: no base URLs")
	}

	var bound []*binding
	release := func() {
		for _, b := range bound {
			_ = b.ln.Close()
		}
	}

	for _, raw := range h.cfg.BaseURLs {
		base, err := parseBaseURL(raw)
		if err != nil {
			release()
			return &BindError{Address: raw, Err: err}
		}
		ln, err := h.listen("tcp", listenAddr(base))
		if err != nil {
			release()
			return &BindError{Address: raw, Err: err}
		}
		bound = append(bound, &binding{base: base, addr: ln.Addr().String(), ln: ln})
	}

	for _, b := range bound {
		h.serveBinding(b)
	}
	h.bindings = bound
	h.started = true
	return nil
}

func (h *Host) serveBinding(b *binding) {
	b.srv = &http.Server{
		Handler:           h.handler(b),
		ReadHeaderTimeout: h.cfg.ReadHeaderTimeout,
		ErrorLog:          h.logger.StdLog(),
		ConnContext: func(ctx context.Context, _ net.Conn) context.Context {
			return context.WithValue(ctx, connIDKey{}, uuid.NewString())
		},
	}
	b.sup = process.NewSupervisor(process.Config{
		Name:       "listener " + b.base.String(),
		Run:        func(context.Context) error { return h.serve(b) },
		RestartOn:  process.OnFailure,
		MaxRetries: h.cfg.MaxRestarts,
		RetryDelay: h.cfg.RestartDelay,
	}, h.logger)
	// Start only fails on a reused supervisor
	_ = b.sup.Start(context.Background())
}

func (h *Host) serve(b *binding) error {
	ln := b.ln
	b.ln = nil
	if ln == nil {
		var err error
		if ln, err = h.listen("tcp", b.addr); err != nil {
			return &BindError{Address: b.base.String(), Err: err}
		}
	}

	h.logger.Info("listening", "url", b.base.String(), "addr", ln.Addr().String())
	err := b.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addrs returns the bound network addresses, in base URL order.
func (h *Host) Addrs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	addrs := make([]string, len(h.bindings))
	for i, b := range h.bindings {
		addrs[i] = b.addr
	}
	return addrs
}

// URLs returns the base URLs rewritten with the bound addresses, which
// differ from the configured ones when port 0 was requested.
func (h *Host) URLs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	urls := make([]string, len(h.bindings))
	for i, b := range h.bindings {
		u := *b.base
		u.Host = b.addr
		urls[i] = u.String()
	}
	return urls
}

// OpenStreams returns the number of streaming responses currently held open.
func (h *Host) OpenStreams() int {
	return int(h.openStreams.Load())
}

// Stop unbinds every listener and ends all open streams, then waits for
// in-flight requests until ctx is done. Connections still open at that point
// are closed forcibly. Stop is idempotent.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	bindings := h.bindings
	close(h.stopping)
	h.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if err := b.srv.Shutdown(ctx); err != nil {
			h.logger.Warn("graceful shutdown incomplete, closing connections", "url", b.base.String(), "error", err)
			if cerr := b.srv.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
			errs = append(errs, err)
		}
		b.sup.Stop()
	}
	h.logger.Info("host stopped", "listeners", len(bindings))
	return errors.Join(errs...)
}

func (h *Host) handler(b *binding) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w := &trackingWriter{ResponseWriter: rw}
		connID := ConnID(r.Context())
		logger := h.logger.With("conn", connID, "remote", r.RemoteAddr)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("request handler panicked",
				"method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
			if !w.wrote.Load() {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		req, err := translateRequest(b.base, r, connID)
		if err != nil {
			status := http.StatusBadRequest
			var te *TranslationError
			if errors.As(err, &te) {
				status = te.Status
			}
			logger.Warn("rejecting request", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		resp := h.engine.Handle(req)
		if resp == nil {
			resp = Empty(http.StatusNotFound)
		}
		if err := h.render(w, r, resp, logger); err != nil {
			logger.Warn("response incomplete", "method", r.Method, "path", r.URL.Path, "error", err)
		}
	})
}

func (h *Host) render(w http.ResponseWriter, r *http.Request, resp *Response, logger *logging.ScopedLogger) error {
	if resp.OnClose != nil {
		defer resp.OnClose()
	}

	hdr := w.Header()
	for k, vs := range resp.Headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	for _, c := range resp.Cookies {
		if s := c.String(); s != "" {
			hdr.Add("Set-Cookie", s)
		}
	}
	if resp.ContentType != "" {
		hdr.Set("Content-Type", resp.ContentType)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if resp.Kind == Streaming {
		return h.renderStream(w, r, resp, status, logger)
	}

	w.WriteHeader(status)
	out := newOutput(w, 0)
	defer out.Close()
	if resp.Contents == nil {
		return nil
	}
	return resp.Contents(out)
}

func (h *Host) renderStream(w http.ResponseWriter, r *http.Request, resp *Response, status int, logger *logging.ScopedLogger) error {
	if h.streams != nil {
		if !h.streams.TryAcquire(1) {
			logger.Warn("streaming connection limit reached", "limit", h.cfg.MaxStreams)
			http.Error(w, "too many streaming connections", http.StatusServiceUnavailable)
			return nil
		}
		defer h.streams.Release(1)
	}
	select {
	case <-h.stopping:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return nil
	default:
	}

	hdr := w.Header()
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(status)

	out := newOutput(w, h.cfg.WriteTimeout)
	defer out.Close()

	h.openStreams.Add(1)
	defer h.openStreams.Add(-1)

	if resp.Contents != nil {
		if err := resp.Contents(out); err != nil {
			return fmt.Errorf("open stream: %w", err)
		}
	}
	logger.Debug("stream opened", "path", r.URL.Path)

	reason := "closed"
	select {
	case <-out.Done():
	case <-r.Context().Done():
		reason = "client disconnected"
	case <-h.stopping:
		reason = "host stopping"
	}
	logger.Debug("stream ended", "path", r.URL.Path, "reason", reason)
	return nil
}

type connIDKey struct{}

// ConnID returns the identity assigned to the connection a request arrived on.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("missing host")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

// listenAddr maps a base URL to a listen address. The wildcard hosts "+"
// and "*" bind every interface.
func listenAddr(u *url.URL) string {
	hostName := u.Hostname()
	if hostName == "+" || hostName == "*" {
		hostName = ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(hostName, port)
}
