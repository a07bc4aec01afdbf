// Package config handles configuration loading for sibyl.
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
//	llm:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	search:
//	  timeout: "15s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/sibyl/sibyl.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${SIBYL_JWT_SECRET}"
//
// Turn engine:
//
//	engine:
//	  specific_api: false
//	  max_attempts: 3
//
// Model provider:
//
//	llm:
//	  api_key: "${ANTHROPIC_API_KEY}"
//	  model: "claude-sonnet-4-5"
//	  max_tokens: 2500
//
// Web search:
//
//	search:
//	  api_key: "${TAVILY_API_KEY}"
//	  base_url: "https://api.tavily.com/search"
//	  timeout: "15s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
