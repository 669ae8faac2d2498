package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"fleetedge/logger"
)

// Upstream failure kinds reported to Options.OnError.
const (
	KindUnreachable  = "unreachable"
	KindTimeout      = "timeout"
	KindCanceled     = "canceled"
	KindBodyTooLarge = "body_too_large"
)

// corsManagedHeaders are the upstream headers dropped when the edge owns CORS.
var corsManagedHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
}

type Options struct {
	// Transport overrides the default pooled transport. Used by tests.
	Transport http.RoundTripper
	// ResponseHeaderTimeout bounds the wait for upstream response headers. Zero means none.
	ResponseHeaderTimeout time.Duration
	// MaxBodyBytes caps forwarded request bodies. Zero means no cap.
	MaxBodyBytes int64
	// StripUpstreamCORS drops upstream Access-Control-Allow-Origin/Credentials
	// so the edge's own CORS headers are the only ones the client sees.
	StripUpstreamCORS bool
	// OnError is called once per failed upstream exchange.
	OnError func(route Route, kind string, err error)
}

// ReverseProxy forwards requests matching one Route. Bodies are streamed, so
// Content-Length reaches the upstream exactly as the client sent it.
type ReverseProxy struct {
	Route   Route
	Proxy   *httputil.ReverseProxy
	maxBody int64
}

func NewReverseProxy(route Route, opts Options) (*ReverseProxy, error) {
	if err := route.Validate(); err != nil {
		return nil, err
	}
	target, _ := route.UpstreamURL()

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		}
	}

	proxy := &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = RewritePath(pr.In.URL.Path, route)
			if raw := pr.In.URL.RawPath; raw != "" && strings.HasPrefix(raw, route.PathPrefix) {
				pr.Out.URL.RawPath = RewritePath(raw, route)
			} else {
				pr.Out.URL.RawPath = ""
			}
			// Empty Host makes the client send the upstream's host.
			pr.Out.Host = ""
			forwardChain(pr)
		},
	}

	if opts.StripUpstreamCORS {
		proxy.ModifyResponse = func(resp *http.Response) error {
			for _, h := range corsManagedHeaders {
				resp.Header.Del(h)
			}
			return nil
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		kind, status := classify(r.Context(), err)
		if kind == KindCanceled {
			logger.Debug("Client went away before upstream replied", "route", route.Name, "path", r.URL.Path)
		} else {
			logger.Warn("Proxy error", "route", route.Name, "upstream", route.Upstream, "path", r.URL.Path, "kind", kind, "err", err)
		}
		if opts.OnError != nil {
			opts.OnError(route, kind, err)
		}
		w.WriteHeader(status)
	}

	return &ReverseProxy{Route: route, Proxy: proxy, maxBody: opts.MaxBodyBytes}, nil
}

// forwardingHeaders reach the upstream as the client sent them. Rewrite
// strips them from the outbound request, so they are restored here.
var forwardingHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

// forwardChain appends the edge's hop to an inbound X-Forwarded-For chain
// while keeping Forwarded, X-Forwarded-Host and X-Forwarded-Proto set by
// proxies in front of the edge.
func forwardChain(pr *httputil.ProxyRequest) {
	for _, h := range forwardingHeaders {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = append([]string(nil), v...)
		}
	}
	pr.SetXForwarded()
	for _, h := range []string{"X-Forwarded-Host", "X-Forwarded-Proto"} {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = append([]string(nil), v...)
		}
	}
}

func classify(ctx context.Context, err error) (string, int) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return KindBodyTooLarge, http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return KindCanceled, http.StatusBadGateway
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return KindTimeout, http.StatusGatewayTimeout
	}
	return KindUnreachable, http.StatusBadGateway
}

func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.maxBody > 0 && r.Body != nil && r.Body != http.NoBody {
		if r.ContentLength > p.maxBody {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, p.maxBody)
	}
	p.Proxy.ServeHTTP(w, r)
}
