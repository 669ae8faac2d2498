// Package edge assembles the dashboard's front door: CORS preflights, the
// ordered proxy routes and the static bundle with its SPA fallback.
//
// A request is handled by the first step that claims it:
//
//  1. OPTIONS, when CORS is enabled: answered with 204, never forwarded.
//  2. The first route whose prefix matches the path: forwarded upstream.
//  3. An existing file under the static root.
//  4. The SPA entry document.
package edge

import (
	"fmt"
	"net/http"
	"time"

	"fleetedge/filter"
	"fleetedge/logger"
	"fleetedge/middleware"
	"fleetedge/proxy"
	"fleetedge/static"
)

// HealthPath answers liveness checks ahead of routing.
const HealthPath = "/healthz"

// Config is the immutable routing configuration of one edge listener.
type Config struct {
	Routes          proxy.Table
	StaticRoot      string
	CORSEnabled     bool
	AllowedOrigins  []string
	CORSMaxAge      time.Duration
	MaxBodyBytes    int64
	UpstreamTimeout time.Duration
	SecurityHeaders bool
}

type Middleware func(http.Handler) http.Handler

type Option func(*Server)

// WithGuard adds a middleware in front of every request. Guards run in the
// order they are added.
func WithGuard(m Middleware) Option {
	return func(s *Server) { s.guards = append(s.guards, m) }
}

// WithProxyGuard adds a middleware in front of proxied requests only.
func WithProxyGuard(m Middleware) Option {
	return func(s *Server) { s.proxyGuards = append(s.proxyGuards, m) }
}

// WithUpstreamErrorHook is called for every failed upstream exchange.
func WithUpstreamErrorHook(fn func(route proxy.Route, kind string, err error)) Option {
	return func(s *Server) { s.onUpstreamError = fn }
}

// WithTransport replaces the upstream transport of every route.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

type upstream struct {
	route   proxy.Route
	handler http.Handler
}

type Server struct {
	cfg             Config
	guards          []Middleware
	proxyGuards     []Middleware
	onUpstreamError func(proxy.Route, string, error)
	transport       http.RoundTripper

	upstreams []upstream
	static    http.Handler
	handler   http.Handler
}

func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	spa, err := static.New(cfg.StaticRoot)
	if err != nil {
		return nil, err
	}
	s.static = spa
	if cfg.SecurityHeaders {
		s.static = middleware.SecurityHeaders(spa)
	}

	for _, overlap := range cfg.Routes.Overlaps() {
		logger.Warn("Overlapping proxy prefixes, first declared route wins", "routes", overlap)
	}

	for _, route := range cfg.Routes {
		rp, err := proxy.NewReverseProxy(route, proxy.Options{
			Transport:             s.transport,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
			MaxBodyBytes:          cfg.MaxBodyBytes,
			StripUpstreamCORS:     cfg.CORSEnabled,
			OnError:               s.upstreamFailed,
		})
		if err != nil {
			return nil, fmt.Errorf("build proxy route: %w", err)
		}
		var h http.Handler = rp
		for i := len(s.proxyGuards) - 1; i >= 0; i-- {
			h = s.proxyGuards[i](h)
		}
		s.upstreams = append(s.upstreams, upstream{route: route, handler: h})
	}

	var h http.Handler = http.HandlerFunc(s.dispatch)
	if cfg.CORSEnabled {
		h = middleware.NewCORS(cfg.AllowedOrigins, cfg.CORSMaxAge).Handler(h)
	}
	for i := len(s.guards) - 1; i >= 0; i-- {
		h = s.guards[i](h)
	}
	s.handler = middleware.Observe(h)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Routes returns the routing table in evaluation order.
func (s *Server) Routes() proxy.Table {
	return s.cfg.Routes
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == HealthPath && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("ok"))
		return
	}

	for _, u := range s.upstreams {
		if u.route.Matches(r.URL.Path) {
			middleware.SetRoute(r.Context(), u.route.Name)
			u.handler.ServeHTTP(w, r)
			return
		}
	}

	s.static.ServeHTTP(w, r)
}

func (s *Server) upstreamFailed(route proxy.Route, kind string, err error) {
	filter.UpstreamErrors.WithLabelValues(route.Name, kind).Inc()
	if s.onUpstreamError != nil {
		s.onUpstreamError(route, kind, err)
	}
}
