// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "portal.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "` + testSecret + `"
  token_ttl: "1h"

session:
  backend: "redis"
  redis_addr: "localhost:6379"
  restore_timeout: "2s"

permissions:
  ttl: "300s"
  lookup_timeout: "1s"

routes:
  manifest: "/etc/bizhub/routes.toml"

loader:
  suspense_timeout: "250ms"
  load_timeout: "10s"

instances:
  max: 50
  idle_timeout: "30m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, time.Hour)
	}
	if cfg.Session.Backend != SessionBackendRedis {
		t.Errorf("Session.Backend = %q, want %q", cfg.Session.Backend, SessionBackendRedis)
	}
	if cfg.Session.RestoreTimeout != 2*time.Second {
		t.Errorf("Session.RestoreTimeout = %v, want 2s", cfg.Session.RestoreTimeout)
	}
	if cfg.Permissions.TTL != 5*time.Minute {
		t.Errorf("Permissions.TTL = %v, want 5m", cfg.Permissions.TTL)
	}
	if cfg.Routes.Manifest != "/etc/bizhub/routes.toml" {
		t.Errorf("Routes.Manifest = %q", cfg.Routes.Manifest)
	}
	if cfg.Loader.SuspenseTimeout != 250*time.Millisecond {
		t.Errorf("Loader.SuspenseTimeout = %v, want 250ms", cfg.Loader.SuspenseTimeout)
	}
	if cfg.Instances.Max != 50 {
		t.Errorf("Instances.Max = %d, want 50", cfg.Instances.Max)
	}
	if cfg.Instances.IdleTimeout != 30*time.Minute {
		t.Errorf("Instances.IdleTimeout = %v, want 30m", cfg.Instances.IdleTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_addr: "127.0.0.1:8080"
database:
  path: ":memory:"
auth:
  jwt_secret: "` + testSecret + `"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Permissions.TTL != DefaultPermissionTTL {
		t.Errorf("Permissions.TTL = %v, want %v", cfg.Permissions.TTL, DefaultPermissionTTL)
	}
	if cfg.Session.Backend != SessionBackendSQLite {
		t.Errorf("Session.Backend = %q, want sqlite", cfg.Session.Backend)
	}
	if cfg.Loader.SuspenseTimeout != DefaultSuspenseTimeout {
		t.Errorf("Loader.SuspenseTimeout = %v", cfg.Loader.SuspenseTimeout)
	}
	if cfg.Instances.Max != DefaultMaxInstances {
		t.Errorf("Instances.Max = %d", cfg.Instances.Max)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("BIZHUB_TEST_SECRET", testSecret)
	t.Setenv("BIZHUB_TEST_DB", "/tmp/bizhub.db")

	cfg, err := Parse([]byte(`
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "${BIZHUB_TEST_DB}"
auth:
  jwt_secret: "${BIZHUB_TEST_SECRET}"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/tmp/bizhub.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/bizhub.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/portal.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "x.db"
auth:
  jwt_secret: "` + testSecret + `"
permissions:
  ttl: "five minutes"
`))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "permissions.ttl") {
		t.Errorf("error = %v, want mention of permissions.ttl", err)
	}
}

func TestParse_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "database:\n  path: x.db\nauth:\n  jwt_secret: " + testSecret,
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database",
			yaml:    "server:\n  http_addr: a:1\nauth:\n  jwt_secret: " + testSecret,
			wantErr: "database.path",
		},
		{
			name:    "short secret with builtin api",
			yaml:    "server:\n  http_addr: a:1\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: short",
			wantErr: "jwt_secret",
		},
		{
			name:    "redis without address",
			yaml:    "server:\n  http_addr: a:1\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: " + testSecret + "\nsession:\n  backend: redis",
			wantErr: "redis_addr",
		},
		{
			name:    "unknown backend",
			yaml:    "server:\n  http_addr: a:1\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: " + testSecret + "\nsession:\n  backend: etcd",
			wantErr: "session.backend",
		},
		{
			name:    "suspense longer than load",
			yaml:    "server:\n  http_addr: a:1\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: " + testSecret + "\nloader:\n  suspense_timeout: 1m\n  load_timeout: 10s",
			wantErr: "suspense_timeout",
		},
		{
			name:    "tailscale without hostname",
			yaml:    "tailscale:\n  enabled: true\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: " + testSecret,
			wantErr: "tailscale.hostname",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_RemoteAPIAllowsEmptySecret(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "x.db"
api:
  base_url: "https://api.example.com"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("BIZHUB_A", "alpha")

	got := expandEnvVars("x=${BIZHUB_A} y=${BIZHUB_UNSET_VAR_XYZ}")
	want := "x=alpha y="
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
