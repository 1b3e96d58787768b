// Package config loads and validates the HCL configuration for both pluto
// roles.
//
// File locations are resolved from environment variables — GATEWAY_CONFIG_PATH
// and ORBIT_CONFIG_PATH — falling back to config-gateway.hcl and
// config-orbit.hcl in the working directory. A .env file, when present, is
// loaded into the process environment first.
//
// Duration attributes are written as Go duration strings (e.g. "5s",
// "250ms") and parsed into time.Duration during load.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/subosito/gotenv"
)

// Health check kinds.
const (
	HealthCheckTCP  = "tcp"
	HealthCheckHTTP = "http"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// GatewayConfig is the resolved configuration for one gateway process.
type GatewayConfig struct {
	// Name is the unique gateway id used in every published snapshot.
	Name   string
	Region string

	// ListenPort is the TCP port the proxy frontend binds.
	ListenPort int

	// LogLevel is one of: debug, info, warn, error.
	LogLevel string

	// Services is the static local service catalog.
	Services []ServiceConfig

	// Peers lists the other gateways this proxy may hand traffic to.
	Peers []PeerConfig

	Transport TransportConfig
	Store     StoreConfig
	Latency   LatencyConfig
	Heartbeat HeartbeatConfig
	Failover  FailoverConfig
	RateLimit RateLimitConfig
}

// ServiceConfig describes one backend service fronted by this gateway.
type ServiceConfig struct {
	ID          string            `json:"id"`
	Address     string            `json:"address"`
	Port        int               `json:"port"`
	HealthCheck HealthCheckConfig `json:"health_check"`
}

// Addr returns the dialable host:port for the service.
func (s ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// HealthCheckConfig selects the probe recipe for a service.
type HealthCheckConfig struct {
	// Type is "tcp" or "http".
	Type     string        `json:"type"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`

	// URL is the GET target for http checks; unused for tcp.
	URL string `json:"url,omitempty"`
}

// PeerConfig is the static dial entry for another gateway.
type PeerConfig struct {
	ID      string
	Address string
	Port    int
	TLS     bool
}

// Addr returns the dialable host:port for the peer.
func (p PeerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// TransportConfig selects and parameterizes the message bus.
type TransportConfig struct {
	// Type currently supports only "nats".
	Type string
	NATS NATSConfig
}

// NATSConfig holds NATS client settings.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// StoreConfig selects the routing store backend.
type StoreConfig struct {
	// Type is "memory" (default) or "redis".
	Type  string
	Redis RedisConfig
}

// RedisConfig holds the connection URL for the Redis-backed store.
type RedisConfig struct {
	URL string
}

// LatencyConfig drives the probing tick.
type LatencyConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// HeartbeatConfig drives the peer heartbeat tick.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// FailoverConfig bounds proxy upstream retries.
type FailoverConfig struct {
	Retries  int
	Interval time.Duration
}

// RateLimitConfig controls the proxy-side request limiter.
// RPM of zero disables limiting.
type RateLimitConfig struct {
	RPM int
}

// ServiceMap returns the catalog keyed by service id.
func (c *GatewayConfig) ServiceMap() map[string]ServiceConfig {
	m := make(map[string]ServiceConfig, len(c.Services))
	for _, s := range c.Services {
		m[s.ID] = s
	}
	return m
}

// PeerMap returns the peer catalog keyed by gateway id.
func (c *GatewayConfig) PeerMap() map[string]PeerConfig {
	m := make(map[string]PeerConfig, len(c.Peers))
	for _, p := range c.Peers {
		m[p.ID] = p
	}
	return m
}

// OrbitConfig is the resolved configuration for the orbit relay.
type OrbitConfig struct {
	ListenPort     int
	MaxConnections int

	// Gateways is informational: the fleet orbit expects to hear from.
	Gateways []PeerConfig

	Transport     TransportConfig
	Heartbeat     HeartbeatConfig
	LoadBalancing LoadBalancingConfig
	Security      SecurityConfig
	Logging       LoggingConfig
	Metrics       MetricsConfig
}

// LoadBalancingConfig names the balancing method orbit advertises.
type LoadBalancingConfig struct {
	// Method is one of: round_robin, least_connections, random, ip_hash.
	Method string
}

// SecurityConfig holds TLS material for orbit's listener.
type SecurityConfig struct {
	SSLEnabled bool
	CertFile   string
	KeyFile    string
}

// LoggingConfig configures orbit's log output.
type LoggingConfig struct {
	Level string
	File  string
}

// MetricsConfig toggles orbit's metrics endpoint.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// ── Raw HCL shapes ───────────────────────────────────────────────────────────
// Duration attributes arrive as strings and are parsed during conversion.

type rawGatewayFile struct {
	Gateway rawGateway `hcl:"gateway,block"`
}

type rawGateway struct {
	Name       string `hcl:"name"`
	Region     string `hcl:"region"`
	ListenPort int    `hcl:"listen_port"`
	LogLevel   string `hcl:"log_level,optional"`

	Services []rawService `hcl:"service,block"`
	Peers    []rawPeer    `hcl:"peer,block"`

	Transport rawTransport  `hcl:"transport,block"`
	Store     *rawStore     `hcl:"store,block"`
	Latency   rawInterval   `hcl:"latency,block"`
	Heartbeat rawHeartbeat  `hcl:"heartbeat,block"`
	Failover  rawFailover   `hcl:"failover,block"`
	RateLimit *rawRateLimit `hcl:"rate_limit,block"`
}

type rawService struct {
	ID          string         `hcl:"id"`
	Address     string         `hcl:"address"`
	Port        int            `hcl:"port"`
	HealthCheck rawHealthCheck `hcl:"health_check,block"`
}

type rawHealthCheck struct {
	Type     string `hcl:"type"`
	Interval string `hcl:"interval"`
	Timeout  string `hcl:"timeout"`
	URL      string `hcl:"url,optional"`
}

type rawPeer struct {
	ID      string `hcl:"id"`
	Address string `hcl:"address"`
	Port    int    `hcl:"port"`
	TLS     bool   `hcl:"tls,optional"`
}

type rawTransport struct {
	Type string   `hcl:"type"`
	NATS *rawNATS `hcl:"nats,block"`
}

type rawNATS struct {
	URL           string `hcl:"url"`
	MaxReconnects int    `hcl:"max_reconnects,optional"`
	ReconnectWait string `hcl:"reconnect_wait,optional"`
}

type rawStore struct {
	Type  string    `hcl:"type"`
	Redis *rawRedis `hcl:"redis,block"`
}

type rawRedis struct {
	URL string `hcl:"url"`
}

type rawInterval struct {
	Interval string `hcl:"interval"`
	Timeout  string `hcl:"timeout"`
}

type rawHeartbeat struct {
	Interval string `hcl:"interval"`
	Timeout  string `hcl:"timeout"`
	Retries  int    `hcl:"retries"`
}

type rawFailover struct {
	Retries  int    `hcl:"retries"`
	Interval string `hcl:"interval"`
}

type rawRateLimit struct {
	RPM int `hcl:"rpm"`
}

type rawOrbitFile struct {
	Orbit rawOrbit `hcl:"orbit,block"`
}

type rawOrbit struct {
	ListenPort     int `hcl:"listen_port"`
	MaxConnections int `hcl:"max_connections,optional"`

	Gateways []rawPeer `hcl:"gateway,block"`

	Transport     rawTransport     `hcl:"transport,block"`
	Heartbeat     rawHeartbeat     `hcl:"heartbeat,block"`
	LoadBalancing rawLoadBalancing `hcl:"load_balancing,block"`
	Security      *rawSecurity     `hcl:"security,block"`
	Logging       *rawLogging      `hcl:"logging,block"`
	Metrics       *rawMetrics      `hcl:"metrics,block"`
}

type rawLoadBalancing struct {
	Method string `hcl:"method"`
}

type rawSecurity struct {
	SSLEnabled bool   `hcl:"ssl_enabled"`
	CertFile   string `hcl:"cert_file,optional"`
	KeyFile    string `hcl:"key_file,optional"`
}

type rawLogging struct {
	Level string `hcl:"level"`
	File  string `hcl:"file,optional"`
}

type rawMetrics struct {
	Enabled  bool   `hcl:"enabled"`
	Endpoint string `hcl:"endpoint,optional"`
}

// ── Loading ──────────────────────────────────────────────────────────────────

// LoadGateway reads the gateway configuration from GATEWAY_CONFIG_PATH
// (default config-gateway.hcl) and validates it.
func LoadGateway() (*GatewayConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	path := os.Getenv("GATEWAY_CONFIG_PATH")
	if path == "" {
		path = "config-gateway.hcl"
	}
	return LoadGatewayFile(path)
}

// LoadGatewayFile reads and validates a gateway configuration file.
func LoadGatewayFile(path string) (*GatewayConfig, error) {
	var raw rawGatewayFile
	if err := hclsimple.DecodeFile(path, nil, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg, err := raw.Gateway.resolve()
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseGateway decodes gateway configuration from an in-memory HCL document.
// The filename is only used in diagnostics and must end in .hcl.
func ParseGateway(filename string, src []byte) (*GatewayConfig, error) {
	var raw rawGatewayFile
	if err := hclsimple.Decode(filename, src, nil, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	cfg, err := raw.Gateway.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrbit reads the orbit configuration from ORBIT_CONFIG_PATH
// (default config-orbit.hcl) and validates it.
func LoadOrbit() (*OrbitConfig, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	path := os.Getenv("ORBIT_CONFIG_PATH")
	if path == "" {
		path = "config-orbit.hcl"
	}
	return LoadOrbitFile(path)
}

// LoadOrbitFile reads and validates an orbit configuration file.
func LoadOrbitFile(path string) (*OrbitConfig, error) {
	var raw rawOrbitFile
	if err := hclsimple.DecodeFile(path, nil, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg, err := raw.Orbit.resolve()
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseOrbit decodes orbit configuration from an in-memory HCL document.
func ParseOrbit(filename string, src []byte) (*OrbitConfig, error) {
	var raw rawOrbitFile
	if err := hclsimple.Decode(filename, src, nil, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	cfg, err := raw.Orbit.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Resolution ───────────────────────────────────────────────────────────────

func (r rawGateway) resolve() (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		Name:       r.Name,
		Region:     r.Region,
		ListenPort: r.ListenPort,
		LogLevel:   r.LogLevel,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	for _, s := range r.Services {
		interval, err := parseDuration("service "+s.ID+" health_check.interval", s.HealthCheck.Interval)
		if err != nil {
			return nil, err
		}
		timeout, err := parseDuration("service "+s.ID+" health_check.timeout", s.HealthCheck.Timeout)
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, ServiceConfig{
			ID:      s.ID,
			Address: s.Address,
			Port:    s.Port,
			HealthCheck: HealthCheckConfig{
				Type:     s.HealthCheck.Type,
				Interval: interval,
				Timeout:  timeout,
				URL:      s.HealthCheck.URL,
			},
		})
	}

	for _, p := range r.Peers {
		cfg.Peers = append(cfg.Peers, PeerConfig{ID: p.ID, Address: p.Address, Port: p.Port, TLS: p.TLS})
	}

	transport, err := r.Transport.resolve()
	if err != nil {
		return nil, err
	}
	cfg.Transport = transport

	cfg.Store = StoreConfig{Type: StoreMemory}
	if r.Store != nil {
		cfg.Store.Type = r.Store.Type
		if r.Store.Redis != nil {
			cfg.Store.Redis = RedisConfig{URL: r.Store.Redis.URL}
		}
	}

	if cfg.Latency.Interval, err = parseDuration("latency.interval", r.Latency.Interval); err != nil {
		return nil, err
	}
	if cfg.Latency.Timeout, err = parseDuration("latency.timeout", r.Latency.Timeout); err != nil {
		return nil, err
	}

	hb, err := r.Heartbeat.resolve()
	if err != nil {
		return nil, err
	}
	cfg.Heartbeat = hb

	if cfg.Failover.Interval, err = parseDuration("failover.interval", r.Failover.Interval); err != nil {
		return nil, err
	}
	cfg.Failover.Retries = r.Failover.Retries

	if r.RateLimit != nil {
		cfg.RateLimit.RPM = r.RateLimit.RPM
	}

	return cfg, nil
}

func (r rawOrbit) resolve() (*OrbitConfig, error) {
	cfg := &OrbitConfig{
		ListenPort:     r.ListenPort,
		MaxConnections: r.MaxConnections,
		LoadBalancing:  LoadBalancingConfig{Method: r.LoadBalancing.Method},
	}

	for _, g := range r.Gateways {
		cfg.Gateways = append(cfg.Gateways, PeerConfig{ID: g.ID, Address: g.Address, Port: g.Port, TLS: g.TLS})
	}

	transport, err := r.Transport.resolve()
	if err != nil {
		return nil, err
	}
	cfg.Transport = transport

	hb, err := r.Heartbeat.resolve()
	if err != nil {
		return nil, err
	}
	cfg.Heartbeat = hb

	if r.Security != nil {
		cfg.Security = SecurityConfig{
			SSLEnabled: r.Security.SSLEnabled,
			CertFile:   r.Security.CertFile,
			KeyFile:    r.Security.KeyFile,
		}
	}
	cfg.Logging = LoggingConfig{Level: "info"}
	if r.Logging != nil {
		cfg.Logging = LoggingConfig{Level: r.Logging.Level, File: r.Logging.File}
	}
	if r.Metrics != nil {
		cfg.Metrics = MetricsConfig{Enabled: r.Metrics.Enabled, Endpoint: r.Metrics.Endpoint}
	}

	return cfg, nil
}

func (r rawTransport) resolve() (TransportConfig, error) {
	out := TransportConfig{Type: r.Type}
	if r.NATS != nil {
		out.NATS = NATSConfig{
			URL:           r.NATS.URL,
			MaxReconnects: r.NATS.MaxReconnects,
		}
		if r.NATS.ReconnectWait != "" {
			wait, err := parseDuration("transport.nats.reconnect_wait", r.NATS.ReconnectWait)
			if err != nil {
				return TransportConfig{}, err
			}
			out.NATS.ReconnectWait = wait
		}
	}
	return out, nil
}

func (r rawHeartbeat) resolve() (HeartbeatConfig, error) {
	interval, err := parseDuration("heartbeat.interval", r.Interval)
	if err != nil {
		return HeartbeatConfig{}, err
	}
	timeout, err := parseDuration("heartbeat.timeout", r.Timeout)
	if err != nil {
		return HeartbeatConfig{}, err
	}
	return HeartbeatConfig{Interval: interval, Timeout: timeout, Retries: r.Retries}, nil
}

// ── Validation ───────────────────────────────────────────────────────────────

func (c *GatewayConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("gateway name is required")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be in 1..65535, got %d", c.ListenPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if s.ID == "" {
			return fmt.Errorf("service id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate service id %q", s.ID)
		}
		seen[s.ID] = true

		switch s.HealthCheck.Type {
		case HealthCheckTCP:
		case HealthCheckHTTP:
			if s.HealthCheck.URL == "" {
				return fmt.Errorf("service %q: http health check requires url", s.ID)
			}
		default:
			return fmt.Errorf("service %q: invalid health check type %q; must be tcp or http", s.ID, s.HealthCheck.Type)
		}
		if s.HealthCheck.Timeout <= 0 {
			return fmt.Errorf("service %q: health_check.timeout must be positive", s.ID)
		}
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}

	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("store type redis requires redis.url")
		}
	default:
		return fmt.Errorf("invalid store type %q; must be memory or redis", c.Store.Type)
	}

	if c.Latency.Interval <= 0 {
		return fmt.Errorf("latency.interval must be positive")
	}
	if c.Latency.Timeout <= 0 {
		return fmt.Errorf("latency.timeout must be positive")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Failover.Retries < 0 {
		return fmt.Errorf("failover.retries must be ≥ 0, got %d", c.Failover.Retries)
	}
	if c.RateLimit.RPM < 0 {
		return fmt.Errorf("rate_limit.rpm must be ≥ 0, got %d", c.RateLimit.RPM)
	}

	return nil
}

func (c *OrbitConfig) validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be in 1..65535, got %d", c.ListenPort)
	}
	if err := c.Transport.validate(); err != nil {
		return err
	}
	switch c.LoadBalancing.Method {
	case "", "round_robin", "least_connections", "random", "ip_hash":
	default:
		return fmt.Errorf("invalid load_balancing.method %q", c.LoadBalancing.Method)
	}
	if c.Security.SSLEnabled && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		return fmt.Errorf("security: ssl_enabled requires cert_file and key_file")
	}
	return nil
}

func (t TransportConfig) validate() error {
	switch t.Type {
	case "nats":
		if t.NATS.URL == "" {
			return fmt.Errorf("transport type nats requires nats.url")
		}
	default:
		return fmt.Errorf("invalid transport type %q; only nats is supported", t.Type)
	}
	return nil
}

// parseDuration parses a duration attribute, naming the field in the error.
func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	return d, nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
