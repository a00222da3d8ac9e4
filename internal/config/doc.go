// Package config handles configuration loading for the agentforce chat client.
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
//	  token: "${AGENTFORCE_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  base_delay: "500ms"
//	  max_delay: "30s"
//	  idle_timeout: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  instance_url: "https://org.example.com"
//
// Authentication:
//
//	auth:
//	  kind: "oauth"   # oauth, org_jwt, guest
//	  token: "${AGENTFORCE_TOKEN}"
//	  org_id: "00D000000000001"
//	  user_id: "005000000000001"
//
// Stream reconnect bounds:
//
//	stream:
//	  path: "/api/stream"
//	  max_attempts: 10
//	  base_delay: "500ms"
//	  max_delay: "30s"
//	  idle_timeout: "5m"
//
// Session and dispatch:
//
//	session:
//	  capabilities: ["text", "voice"]
//	  buffer_size: 64
//	  command_timeout: "30s"
//
// Voice relay:
//
//	voice:
//	  enabled: false
//	  url: "wss://media.example.com/relay"
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
//	cfg, err := config.Load("/etc/agentforce/chat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
