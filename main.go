package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"fleetedge/edge"
	"fleetedge/filter"
	"fleetedge/logger"
	"fleetedge/manager"
	"fleetedge/notifier"
	"fleetedge/proxy"
	"fleetedge/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	alertThrottle   = time.Minute
)

var rootCmd = &cobra.Command{
	Use:           "fleetedge",
	Short:         "Edge server for the fleet operations dashboard",
	Long:          "Serves the dashboard bundle with an index.html fallback and reverse-proxies API prefixes to their upstream services.",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfig    string
	flagPort      int
	flagStaticDir string
)

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "optional YAML config file")
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "listen port (overrides PORT)")
	rootCmd.Flags().StringVar(&flagStaticDir, "static-dir", "", "directory of the built dashboard (overrides STATIC_DIR)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("fleetedge exited", "err", err)
		logger.Sync()
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.ListenPort = flagPort
	}
	if cmd.Flags().Changed("static-dir") {
		abs, err := filepath.Abs(flagStaticDir)
		if err != nil {
			return fmt.Errorf("static dir: %w", err)
		}
		cfg.StaticDir = abs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting fleetedge", "port", cfg.ListenPort, "static_dir", cfg.StaticDir, "routes", len(cfg.Routes))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Block list and rate counters live in Redis when configured so edge
	// replicas share them.
	var activeStore store.Storer
	var sharedCounters store.Storer
	if cfg.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = rs.Close()
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		activeStore, sharedCounters = rs, rs
		logger.Info("Distributed state initialized (Redis)", "addr", cfg.RedisAddr)
	} else {
		activeStore = store.NewLocalStore()
		logger.Info("In-memory state initialized")
	}
	defer activeStore.Close()

	opts, closers, err := buildGuards(ctx, cfg, activeStore, sharedCounters)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	alerts := notifier.NewWebhook(cfg.WebhookURL, alertThrottle)
	defer alerts.Wait()
	opts = append(opts, edge.WithUpstreamErrorHook(upstreamAlert(alerts)))

	srv, err := edge.New(cfg.Edge(), opts...)
	if err != nil {
		return fmt.Errorf("build edge: %w", err)
	}
	for _, r := range srv.Routes() {
		logger.Info("Proxy route", "name", r.Name, "prefix", r.PathPrefix, "target", r.Upstream, "target_path", r.UpstreamPathPrefix)
	}

	servers := []*http.Server{newHTTPServer(cfg.ListenPort, srv)}
	if cfg.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, newHTTPServer(cfg.MetricsPort, mux))
	}
	if cfg.ManagementPort != 0 {
		servers = append(servers, newHTTPServer(cfg.ManagementPort, manager.NewManagementAPI(activeStore, srv.Routes())))
	}

	// Bind everything before serving so a taken port fails start-up.
	listeners := make([]net.Listener, 0, len(servers))
	for _, s := range servers {
		ln, err := net.Listen("tcp", s.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return fmt.Errorf("listen %s: %w", s.Addr, err)
		}
		listeners = append(listeners, ln)
	}

	errCh := make(chan error, len(servers))
	for i, s := range servers {
		logger.Info("Listener active", "addr", s.Addr)
		go func(s *http.Server, ln net.Listener) {
			if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", s.Addr, err)
			}
		}(s, listeners[i])
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("fleetedge stopping...")
	case runErr = <-errCh:
		logger.Error("Listener failed", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Shutdown incomplete", "addr", s.Addr, "err", err)
			}
		}(s)
	}
	wg.Wait()

	logger.Info("All servers stopped gracefully")
	return runErr
}

// upstreamAlert reports upstream failures to the webhook, one alert per
// route per throttle interval. Clients hanging up are not failures.
func upstreamAlert(alerts *notifier.Webhook) func(proxy.Route, string, error) {
	return func(route proxy.Route, kind string, err error) {
		if kind == proxy.KindCanceled {
			return
		}
		alerts.Alert(route.Name, fmt.Sprintf("upstream %s (%s) failed: %s: %v", route.Name, route.Upstream, kind, err), notifier.SeverityWarning)
	}
}

// buildGuards creates the request filters enabled by cfg. The returned
// closers release their background resources.
func buildGuards(ctx context.Context, cfg *Config, s store.Storer, shared store.Storer) ([]edge.Option, []func(), error) {
	var (
		opts    []edge.Option
		closers []func()
	)

	blocklist, err := filter.NewBlocklist(ctx, s, cfg.IPBlocklist, cfg.TrustForwarded)
	if err != nil {
		return nil, nil, fmt.Errorf("seed blocklist: %w", err)
	}
	opts = append(opts, edge.WithGuard(blocklist.Middleware))

	if cfg.GeoIPDBPath != "" {
		geo := filter.NewGeoIPFilter(cfg.GeoIPDBPath, cfg.BlockedCountries, cfg.TrustForwarded)
		closers = append(closers, func() { _ = geo.Close() })
		if geo.Enabled() {
			opts = append(opts, edge.WithGuard(geo.Middleware))
		}
	}

	if cfg.RateLimit > 0 {
		limiter := filter.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, shared, cfg.TrustForwarded)
		opts = append(opts, edge.WithProxyGuard(limiter.Middleware))
		closers = append(closers, limiter.Close)
		logger.Info("Rate limiting proxied routes", "rate", cfg.RateLimit, "burst", cfg.RateBurst, "shared", shared != nil)
	}

	return opts, closers, nil
}

func newHTTPServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
