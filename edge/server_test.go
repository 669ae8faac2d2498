package edge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"fleetedge/filter"
	"fleetedge/proxy"
	"fleetedge/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexHTML = `<!doctype html><title>Fleet Admin</title><div id="root"></div>`

type upstreamLog struct {
	hits          atomic.Int32
	method        atomic.Value
	uri           atomic.Value
	body          atomic.Value
	contentLength atomic.Value
}

func newUpstream(t *testing.T, name string) (*httptest.Server, *upstreamLog) {
	t.Helper()
	log := &upstreamLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		log.hits.Add(1)
		log.method.Store(r.Method)
		log.uri.Store(r.URL.RequestURI())
		log.body.Store(string(b))
		log.contentLength.Store(r.Header.Get("Content-Length"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = io.WriteString(w, `{"status":"OK","httpStatus":200,"message":"`+name+`","data":null}`)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func newBundle(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte(indexHTML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "app.js"), []byte("boot()"), 0o644))
	return root
}

type fixture struct {
	server *Server
	config *upstreamLog
	admin  *upstreamLog
	root   string
}

func newFixture(t *testing.T, mutate func(*Config), opts ...Option) fixture {
	t.Helper()
	configAPI, configLog := newUpstream(t, "config")
	adminAPI, adminLog := newUpstream(t, "admin")
	root := newBundle(t)

	cfg := Config{
		Routes: proxy.Table{
			{Name: "CONFIG", PathPrefix: "/config-api", Upstream: configAPI.URL},
			{Name: "ADMIN", PathPrefix: "/admin-api", Upstream: adminAPI.URL},
		},
		StaticRoot:   root,
		CORSEnabled:  true,
		MaxBodyBytes: 10 << 20,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return fixture{server: s, config: configLog, admin: adminLog, root: root}
}

func do(h http.Handler, method, target string, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProxiesConfigRoute(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(f.server, http.MethodGet, "/config-api/country/list?page=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"config"`)
	assert.Equal(t, "/country/list?page=0", f.config.uri.Load())
	assert.Equal(t, http.MethodGet, f.config.method.Load())
	assert.Zero(t, f.admin.hits.Load())
}

func TestProxiesPostBodyWithContentLength(t *testing.T) {
	var apiLog *upstreamLog
	f := newFixture(t, func(c *Config) {
		api, log := newUpstream(t, "api")
		apiLog = log
		c.Routes = proxy.Table{{Name: "API", PathPrefix: "/api", Upstream: api.URL, UpstreamPathPrefix: "/api"}}
	})

	body := `{"userName":"bob"}`
	rec := do(f.server, http.MethodPost, "/api/admin/users", body, "Content-Type", "application/json", "Authorization", "Bearer t0k")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/admin/users", apiLog.uri.Load())
	assert.Equal(t, body, apiLog.body.Load())
	assert.Equal(t, strconv.Itoa(len(body)), apiLog.contentLength.Load())
}

func TestStaticAndSPAFallback(t *testing.T) {
	f := newFixture(t, nil)

	rec := do(f.server, http.MethodGet, "/assets/app.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "boot()", rec.Body.String())

	for i := 0; i < 2; i++ {
		rec = do(f.server, http.MethodGet, "/dashboard/users", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, indexHTML, rec.Body.String())
	}
	assert.Zero(t, f.config.hits.Load()+f.admin.hits.Load())
}

func TestPreflightNeverForwarded(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AllowedOrigins = []string{"https://ops.example.com"} })

	rec := do(f.server, http.MethodOptions, "/admin-api/users", "",
		"Origin", "https://ops.example.com",
		"Access-Control-Request-Method", "PUT")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Zero(t, f.admin.hits.Load())
}

func TestEdgeOwnsCORSOnProxiedResponses(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.AllowedOrigins = []string{"https://ops.example.com"} })

	rec := do(f.server, http.MethodGet, "/admin-api/roles", "", "Origin", "https://ops.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://ops.example.com"}, rec.Header().Values("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOptionsForwardedWhenCORSDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CORSEnabled = false })

	rec := do(f.server, http.MethodOptions, "/admin-api/users", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), f.admin.hits.Load())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := do(f.server, http.MethodGet, HealthPath, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestUpstreamFailureHook(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	var failures []string
	f := newFixture(t, func(c *Config) {
		c.Routes = append(proxy.Table{{Name: "DEAD", PathPrefix: "/dead-api", Upstream: deadURL}}, c.Routes...)
	}, WithUpstreamErrorHook(func(route proxy.Route, kind string, _ error) {
		failures = append(failures, route.Name+":"+kind)
	}))

	rec := do(f.server, http.MethodGet, "/dead-api/anything", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, []string{"DEAD:" + proxy.KindUnreachable}, failures)

	rec = do(f.server, http.MethodGet, "/config-api/state", "")
	assert.Equal(t, http.StatusOK, rec.Code, "one failing route leaves the others serving")
}

func TestGuards(t *testing.T) {
	ctx := context.Background()
	s := store.NewLocalStore()
	t.Cleanup(func() { _ = s.Close() })
	bl, err := filter.NewBlocklist(ctx, s, []string{"192.0.2.66"}, false)
	require.NoError(t, err)
	rl := filter.NewRateLimiter(0.001, 1, nil, false)
	t.Cleanup(rl.Close)

	f := newFixture(t, nil, WithGuard(bl.Middleware), WithProxyGuard(rl.Middleware))

	blocked := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	blocked.RemoteAddr = "192.0.2.66:4000"
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, blocked)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// httptest requests come from 192.0.2.1.
	assert.Equal(t, http.StatusOK, do(f.server, http.MethodGet, "/config-api/a", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(f.server, http.MethodGet, "/config-api/b", "").Code)
	assert.Equal(t, http.StatusOK, do(f.server, http.MethodGet, "/dashboard", "").Code, "static traffic is not rate limited")
}

func TestSecurityHeadersOnStaticOnly(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SecurityHeaders = true })

	assert.Equal(t, "DENY", do(f.server, http.MethodGet, "/", "").Header().Get("X-Frame-Options"))
	assert.Empty(t, do(f.server, http.MethodGet, "/config-api/x", "").Header().Get("X-Frame-Options"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{StaticRoot: t.TempDir()})
	assert.Error(t, err)

	_, err = New(Config{
		StaticRoot: newBundle(t),
		Routes:     proxy.Table{{Name: "BAD", PathPrefix: "/x", Upstream: "::nope"}},
	})
	assert.ErrorIs(t, err, proxy.ErrInvalidUpstream)
}
