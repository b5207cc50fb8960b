// Package config handles configuration loading for moot-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  api_key: "${MOOT_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	coordination:
//	  idle_threshold: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # JSON-RPC, health, and metrics
//
// Database:
//
//	database:
//	  path: "/var/lib/moot/gateway.db"
//
// Authentication:
//
//	auth:
//	  api_key: "${MOOT_API_KEY}"  # Signs broadcast injection tokens
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/moot/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
