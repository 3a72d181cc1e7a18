// ABOUTME: Configuration loading and parsing for the bizhub portal
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Session repository backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// Config represents the complete portal configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	API         APIConfig         `yaml:"api"`
	Session     SessionConfig     `yaml:"session"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Routes      RoutesConfig      `yaml:"routes"`
	Loader      LoaderConfig      `yaml:"loader"`
	Instances   InstancesConfig   `yaml:"instances"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	// HTTPS serves on :443 with certificates provisioned by the tailnet
	HTTPS bool `yaml:"https"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing configuration for the built-in API
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// APIConfig selects the remote API the front end talks to.
// An empty BaseURL mounts the built-in API under /api on the same server.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
}

// SessionConfig holds session persistence configuration
type SessionConfig struct {
	Backend        string        `yaml:"backend"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPrefix    string        `yaml:"redis_prefix"`
	RestoreTimeout time.Duration `yaml:"-"`

	RestoreTimeoutRaw string `yaml:"restore_timeout"`
}

// PermissionsConfig holds permission cache configuration
type PermissionsConfig struct {
	TTL           time.Duration `yaml:"-"`
	LookupTimeout time.Duration `yaml:"-"`

	TTLRaw           string `yaml:"ttl"`
	LookupTimeoutRaw string `yaml:"lookup_timeout"`
}

// RoutesConfig points at an optional TOML route manifest
type RoutesConfig struct {
	Manifest string `yaml:"manifest"`
}

// LoaderConfig holds view module loading configuration
type LoaderConfig struct {
	// ContentDir overrides the embedded markdown view modules when set
	ContentDir      string        `yaml:"content_dir"`
	SuspenseTimeout time.Duration `yaml:"-"`
	LoadTimeout     time.Duration `yaml:"-"`

	SuspenseTimeoutRaw string `yaml:"suspense_timeout"`
	LoadTimeoutRaw     string `yaml:"load_timeout"`
}

// InstancesConfig bounds the table of live application instances
type InstancesConfig struct {
	Max         int           `yaml:"max"`
	IdleTimeout time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default timing values applied when the config leaves them empty.
const (
	DefaultTokenTTL        = 12 * time.Hour
	DefaultRestoreTimeout  = 5 * time.Second
	DefaultPermissionTTL   = 5 * time.Minute
	DefaultLookupTimeout   = 3 * time.Second
	DefaultSuspenseTimeout = 1500 * time.Millisecond
	DefaultLoadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 24 * time.Hour
	DefaultMaxInstances    = 10000
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration, applying env expansion, durations,
// defaults and validation in that order.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Session.Backend == "" {
		c.Session.Backend = SessionBackendSQLite
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = "bizhub"
	}
	if c.Session.RestoreTimeout == 0 {
		c.Session.RestoreTimeout = DefaultRestoreTimeout
	}
	if c.Permissions.TTL == 0 {
		c.Permissions.TTL = DefaultPermissionTTL
	}
	if c.Permissions.LookupTimeout == 0 {
		c.Permissions.LookupTimeout = DefaultLookupTimeout
	}
	if c.Loader.SuspenseTimeout == 0 {
		c.Loader.SuspenseTimeout = DefaultSuspenseTimeout
	}
	if c.Loader.LoadTimeout == 0 {
		c.Loader.LoadTimeout = DefaultLoadTimeout
	}
	if c.Instances.Max == 0 {
		c.Instances.Max = DefaultMaxInstances
	}
	if c.Instances.IdleTimeout == 0 {
		c.Instances.IdleTimeout = DefaultIdleTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// The built-in API signs tokens; a remote API does its own signing.
	if c.API.BaseURL == "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes when the built-in api is used")
	}

	switch c.Session.Backend {
	case SessionBackendSQLite, SessionBackendMemory:
	case SessionBackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend %q is not one of sqlite, redis, memory", c.Session.Backend)
	}

	if c.Loader.SuspenseTimeout > c.Loader.LoadTimeout {
		return fmt.Errorf("loader.suspense_timeout must not exceed loader.load_timeout")
	}

	if c.Instances.Max < 1 {
		return fmt.Errorf("instances.max must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"session.restore_timeout", cfg.Session.RestoreTimeoutRaw, &cfg.Session.RestoreTimeout},
		{"permissions.ttl", cfg.Permissions.TTLRaw, &cfg.Permissions.TTL},
		{"permissions.lookup_timeout", cfg.Permissions.LookupTimeoutRaw, &cfg.Permissions.LookupTimeout},
		{"loader.suspense_timeout", cfg.Loader.SuspenseTimeoutRaw, &cfg.Loader.SuspenseTimeout},
		{"loader.load_timeout", cfg.Loader.LoadTimeoutRaw, &cfg.Loader.LoadTimeout},
		{"instances.idle_timeout", cfg.Instances.IdleTimeoutRaw, &cfg.Instances.IdleTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// Template is the starter configuration written by `bizhub init`.
const Template = `# bizhub portal configuration
server:
  http_addr: "127.0.0.1:8080"

tailscale:
  enabled: false
  hostname: ""
  auth_key: "${TS_AUTHKEY}"
  state_dir: ""
  ephemeral: false
  https: false

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "12h"

api:
  # empty: serve the built-in API under /api
  base_url: ""

session:
  backend: "sqlite"   # sqlite, redis, memory
  redis_addr: ""
  redis_prefix: "bizhub"
  restore_timeout: "5s"

permissions:
  ttl: "5m"
  lookup_timeout: "3s"

routes:
  # optional TOML manifest; empty uses the built-in table
  manifest: ""

loader:
  content_dir: ""
  suspense_timeout: "1500ms"
  load_timeout: "30s"

instances:
  max: 10000
  idle_timeout: "24h"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`
