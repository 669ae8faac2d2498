package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fleetedge/edge"
	"fleetedge/proxy"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidPort    = errors.New("invalid port")
	ErrNoRoutes       = errors.New("no proxy routes configured")
	ErrInvalidSetting = errors.New("invalid setting")
)

const (
	defaultPort         = 8085
	defaultStaticDir    = "../dist"
	defaultMaxBodyBytes = 10 << 20
)

// Routes always present unless the config file declares its own table or the
// unnamed PROXY_TARGET route is used.
var defaultRoutes = map[string]proxy.Route{
	"CONFIG": {Name: "CONFIG", PathPrefix: "/config-api", Upstream: "http://localhost:8081"},
	"ADMIN":  {Name: "ADMIN", PathPrefix: "/admin-api", Upstream: "http://localhost:8082"},
}

var defaultRouteOrder = []string{"CONFIG", "ADMIN"}

type Config struct {
	ListenPort      int           `yaml:"port"`
	StaticDir       string        `yaml:"static_dir"`
	Routes          []proxy.Route `yaml:"routes"`
	CORS            CORSConfig    `yaml:"cors"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	MetricsPort    int `yaml:"metrics_port"`
	ManagementPort int `yaml:"management_port"`

	RedisAddr        string   `yaml:"redis_addr"`
	RedisPassword    string   `yaml:"redis_password"`
	RateLimit        float64  `yaml:"rate_limit"`
	RateBurst        int      `yaml:"rate_burst"`
	IPBlocklist      []string `yaml:"ip_blocklist"`
	GeoIPDBPath      string   `yaml:"geoip_db"`
	BlockedCountries []string `yaml:"blocked_countries"`
	WebhookURL       string   `yaml:"webhook_url"`
	SecurityHeaders  bool     `yaml:"security_headers"`
	TrustForwarded   bool     `yaml:"trust_forwarded"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type CORSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxAge         time.Duration `yaml:"max_age"`
}

// LoadConfig reads the optional YAML file at path, applies environment
// overrides and fills defaults. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{CORS: CORSConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Environ()); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.resolveStaticDir(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	parsers := []struct {
		name  string
		parse func(string) error
	}{
		{"PORT", intInto(&c.ListenPort)},
		{"STATIC_DIR", stringInto(&c.StaticDir)},
		{"CORS_ALLOW_ORIGIN", listInto(&c.CORS.AllowedOrigins)},
		{"CORS_ENABLED", boolInto(&c.CORS.Enabled)},
		{"CORS_MAX_AGE", maxAgeInto(&c.CORS.MaxAge)},
		{"EDGE_MAX_BODY_BYTES", int64Into(&c.MaxBodyBytes)},
		{"EDGE_UPSTREAM_TIMEOUT", durationInto(&c.UpstreamTimeout)},
		{"EDGE_METRICS_PORT", intInto(&c.MetricsPort)},
		{"EDGE_MANAGEMENT_PORT", intInto(&c.ManagementPort)},
		{"EDGE_REDIS_ADDR", stringInto(&c.RedisAddr)},
		{"EDGE_REDIS_PASSWORD", stringInto(&c.RedisPassword)},
		{"EDGE_RATE_LIMIT", floatInto(&c.RateLimit)},
		{"EDGE_RATE_BURST", intInto(&c.RateBurst)},
		{"EDGE_IP_BLOCKLIST", listInto(&c.IPBlocklist)},
		{"EDGE_GEOIP_DB", stringInto(&c.GeoIPDBPath)},
		{"EDGE_BLOCKED_COUNTRIES", listInto(&c.BlockedCountries)},
		{"EDGE_WEBHOOK_URL", stringInto(&c.WebhookURL)},
		{"EDGE_SECURITY_HEADERS", boolInto(&c.SecurityHeaders)},
		{"EDGE_TRUST_FORWARDED", boolInto(&c.TrustForwarded)},
		{"EDGE_LOG_LEVEL", stringInto(&c.LogLevel)},
		{"EDGE_LOG_FORMAT", stringInto(&c.LogFormat)},
	}
	for _, p := range parsers {
		v, ok := env[p.name]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := p.parse(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s=%q: %w", p.name, v, err)
		}
	}

	c.Routes = append(c.Routes, envRoutes(env, len(c.Routes) == 0)...)
	return nil
}

// envRoutes collects NAME_PROXY_{PREFIX,TARGET,TARGET_PATH} triples plus the
// unnamed PROXY_{PREFIX,TARGET,TARGET_PATH} triple. PROXY_ROUTES fixes the
// order of named routes; unlisted ones follow CONFIG and ADMIN alphabetically.
//
// With seedDefaults, CONFIG and ADMIN always exist and env values override
// their defaults field by field, unless the unnamed triple selects the
// single-upstream layout.
func envRoutes(env map[string]string, seedDefaults bool) []proxy.Route {
	names := map[string]bool{}
	if seedDefaults && env["PROXY_TARGET"] == "" {
		for _, name := range defaultRouteOrder {
			names[name] = true
		}
	}
	for k, v := range env {
		if strings.TrimSpace(v) == "" {
			continue
		}
		for _, suffix := range []string{"_PROXY_TARGET", "_PROXY_PREFIX"} {
			if name, ok := strings.CutSuffix(k, suffix); ok && name != "" {
				names[name] = true
			}
		}
	}

	var order []string
	seen := map[string]bool{}
	add := func(name string) {
		if names[name] && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	for _, name := range splitList(env["PROXY_ROUTES"]) {
		add(strings.ToUpper(name))
	}
	for _, name := range defaultRouteOrder {
		add(name)
	}
	rest := make([]string, 0, len(names))
	for name := range names {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}

	var routes []proxy.Route
	for _, name := range order {
		r := defaultRoutes[name]
		r.Name = name
		if v := env[name+"_PROXY_PREFIX"]; v != "" {
			r.PathPrefix = v
		}
		if v := env[name+"_PROXY_TARGET"]; v != "" {
			r.Upstream = v
		}
		if v := env[name+"_PROXY_TARGET_PATH"]; v != "" {
			r.UpstreamPathPrefix = v
		}
		routes = append(routes, r)
	}

	if target := env["PROXY_TARGET"]; target != "" {
		prefix := env["PROXY_PREFIX"]
		if prefix == "" {
			prefix = "/api"
		}
		routes = append(routes, proxy.Route{
			Name:               "PROXY",
			PathPrefix:         prefix,
			Upstream:           target,
			UpstreamPathPrefix: env["PROXY_TARGET_PATH"],
		})
	}
	return routes
}

func (c *Config) applyDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = defaultPort
	}
	if c.StaticDir == "" {
		c.StaticDir = defaultStaticDir
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	for i := range c.Routes {
		if c.Routes[i].Name == "" {
			c.Routes[i].Name = fmt.Sprintf("route%d", i+1)
		}
	}
}

// resolveStaticDir anchors a relative static directory at the directory of
// the running executable.
func (c *Config) resolveStaticDir() error {
	if filepath.IsAbs(c.StaticDir) {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	c.StaticDir = filepath.Join(filepath.Dir(exe), c.StaticDir)
	return nil
}

func (c *Config) Validate() error {
	if err := checkPort("port", c.ListenPort, false); err != nil {
		return err
	}
	if err := checkPort("metrics_port", c.MetricsPort, true); err != nil {
		return err
	}
	if err := checkPort("management_port", c.ManagementPort, true); err != nil {
		return err
	}
	if len(c.Routes) == 0 {
		return ErrNoRoutes
	}
	for _, r := range c.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes %d: %w", c.MaxBodyBytes, ErrInvalidSetting)
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("upstream_timeout %s: %w", c.UpstreamTimeout, ErrInvalidSetting)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit %g/%d: %w", c.RateLimit, c.RateBurst, ErrInvalidSetting)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format %q: %w", c.LogFormat, ErrInvalidSetting)
	}
	return nil
}

// Edge returns the routing configuration handed to the edge server.
func (c *Config) Edge() edge.Config {
	return edge.Config{
		Routes:          proxy.Table(c.Routes),
		StaticRoot:      c.StaticDir,
		CORSEnabled:     c.CORS.Enabled,
		AllowedOrigins:  c.CORS.AllowedOrigins,
		CORSMaxAge:      c.CORS.MaxAge,
		MaxBodyBytes:    c.MaxBodyBytes,
		UpstreamTimeout: c.UpstreamTimeout,
		SecurityHeaders: c.SecurityHeaders,
	}
}

func checkPort(name string, port int, optional bool) error {
	if optional && port == 0 {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d: %w", name, port, ErrInvalidPort)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringInto(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func listInto(dst *[]string) func(string) error {
	return func(v string) error { *dst = splitList(v); return nil }
}

func intInto(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int64Into(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatInto(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolInto(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationInto(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// maxAgeInto accepts plain seconds, as browsers send them, or a Go duration.
func maxAgeInto(dst *time.Duration) func(string) error {
	return func(v string) error {
		if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
			return nil
		}
		return durationInto(dst)(v)
	}
}
