// Package config handles configuration loading for the bizhub portal.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BIZHUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/bizhub/portal.yaml
//  3. ~/.config/bizhub/portal.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${BIZHUB_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	permissions:
//	  ttl: "5m"
//	loader:
//	  suspense_timeout: "1500ms"
//
// Durations must be positive. Empty durations take the package defaults.
//
// # Validation
//
// Parse() validates:
//
//   - An HTTP address (or a tailscale hostname)
//   - A database path
//   - JWT secret minimum length (32 bytes) when the built-in API is served
//   - The session backend name and its redis address
//   - suspense_timeout <= load_timeout
//
// # Usage
//
//	cfg, err := config.Load("/etc/bizhub/portal.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
