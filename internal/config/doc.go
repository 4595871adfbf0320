// Package config handles configuration loading for coven-concierge.
//
// # Configuration File
//
// Location (in order):
//
//  1. --config flag
//  2. COVEN_CONCIERGE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/concierge.yaml (or ~/.config/coven/concierge.yaml)
//
// Files ending in .toml are parsed as TOML; anything else as YAML. A missing
// file is not an error for the CLI, which falls back to Default().
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  grpc_addr: "127.0.0.1:50051"   # grpc.health.v1 only; empty disables
//	  turn_timeout: "60s"            # time.ParseDuration syntax
//	  idempotency_ttl: "10m"         # how long Idempotency-Key values are remembered
//
//	app:
//	  name: "Customer Support"
//	  default_user_id: "aiwithbrandon"
//	  initial_state:
//	    user_name: "Rishiraj Bal"
//	    purchased_courses: []
//
//	database:
//	  driver: "sqlite"   # sqlite, sqlite3 (cgo), redis, memory
//	  path: "concierge.db"
//
//	redis:
//	  addr: "localhost:6379"
//	  prefix: "concierge:session:"
//	  ttl: "720h"
//
//	engine:
//	  kind: "echo"       # echo, remote
//	  url: "http://localhost:9000"
//	  root_agent: "customer_service"
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
