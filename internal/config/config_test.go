// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  turn_timeout: "45s"
  idempotency_ttl: "2m"

app:
  name: "Customer Support"
  default_user_id: "aiwithbrandon"
  initial_state:
    user_name: "Brandon Hancock"
    purchased_courses:
      - id: "ai_marketing_platform"

database:
  driver: "sqlite3"
  path: "./test.db"

engine:
  kind: "remote"
  url: "http://localhost:9000"
  root_agent: "customer_service"
  routes:
    - agent: "order_agent"
      keywords: ["refund", "order"]

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.TurnTimeout != 45*time.Second {
		t.Errorf("Server.TurnTimeout = %v, want %v", cfg.Server.TurnTimeout, 45*time.Second)
	}
	if cfg.Server.IdempotencyTTL != 2*time.Minute {
		t.Errorf("Server.IdempotencyTTL = %v, want %v", cfg.Server.IdempotencyTTL, 2*time.Minute)
	}

	if cfg.App.InitialState["user_name"] != "Brandon Hancock" {
		t.Errorf("App.InitialState[user_name] = %v", cfg.App.InitialState["user_name"])
	}
	courses, ok := cfg.App.InitialState["purchased_courses"].([]any)
	if !ok || len(courses) != 1 {
		t.Errorf("App.InitialState[purchased_courses] = %#v", cfg.App.InitialState["purchased_courses"])
	}

	if cfg.Database.Driver != "sqlite3" || cfg.Database.Path != "./test.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}

	if cfg.Engine.Kind != EngineRemote || cfg.Engine.URL != "http://localhost:9000" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if len(cfg.Engine.Routes) != 1 || cfg.Engine.Routes[0].Agent != "order_agent" {
		t.Errorf("Engine.Routes = %+v", cfg.Engine.Routes)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "concierge.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
driver = "redis"

[redis]
addr = "localhost:6379"
db = 2
prefix = "cs:"
ttl = "24h"

[engine]
kind = "echo"

[[engine.routes]]
agent = "policy_agent"
keywords = ["policy"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "redis" {
		t.Errorf("Database.Driver = %q, want redis", cfg.Database.Driver)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 || cfg.Redis.Prefix != "cs:" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Redis.TTL != 24*time.Hour {
		t.Errorf("Redis.TTL = %v, want 24h", cfg.Redis.TTL)
	}
	if len(cfg.Engine.Routes) != 1 || cfg.Engine.Routes[0].Keywords[0] != "policy" {
		t.Errorf("Engine.Routes = %+v", cfg.Engine.Routes)
	}
	// Redis does not need a database path
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty", cfg.Database.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Server.HTTPAddr != want.Server.HTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, want.Server.HTTPAddr)
	}
	if cfg.App.Name != DefaultAppName {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, DefaultAppName)
	}
	if cfg.App.DefaultUserID != DefaultUserID {
		t.Errorf("App.DefaultUserID = %q, want %q", cfg.App.DefaultUserID, DefaultUserID)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Engine.Kind != EngineEcho || cfg.Engine.RootAgent != "customer_service" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Server.TurnTimeout != 0 {
		t.Errorf("Server.TurnTimeout = %v, want 0", cfg.Server.TurnTimeout)
	}
}

func TestLoad_JWTDisablesDefaultUser(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "a-secret-that-is-at-least-32-bytes"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.DefaultUserID != "" {
		t.Errorf("App.DefaultUserID = %q, want empty when JWT auth is on", cfg.App.DefaultUserID)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CONCIERGE_SECRET", "env-secret-that-is-at-least-32-bytes")
	t.Setenv("TEST_CONCIERGE_ENGINE", "http://engine.internal:9000")

	cfg, err := Load(writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${TEST_CONCIERGE_SECRET}"
engine:
  kind: remote
  url: "${TEST_CONCIERGE_ENGINE}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "env-secret-that-is-at-least-32-bytes" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Engine.URL != "http://engine.internal:9000" {
		t.Errorf("Engine.URL = %q", cfg.Engine.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid yaml", "config.yaml", "server:\n  http_addr: [unclosed\n"},
		{"invalid toml", "config.toml", "[server\nhttp_addr = 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), "parsing config file") {
				t.Errorf("error = %v, want parsing error", err)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"turn timeout", "server:\n  turn_timeout: \"soon\"\n"},
		{"idempotency ttl", "server:\n  idempotency_ttl: \"1 hour\"\n"},
		{"redis ttl", "redis:\n  ttl: \"forever\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), "parsing durations") {
				t.Errorf("error = %v, want duration error", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Database.Driver = "redis" },
			wantErr: "redis.addr",
		},
		{
			name:    "remote without url",
			mutate:  func(c *Config) { c.Engine.Kind = EngineRemote },
			wantErr: "engine.url is required",
		},
		{
			name: "remote with bad scheme",
			mutate: func(c *Config) {
				c.Engine.Kind = EngineRemote
				c.Engine.URL = "ftp://engine"
			},
			wantErr: "http or https",
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Engine.Kind = "llm" },
			wantErr: "engine.kind",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Server.TurnTimeout = -time.Second },
			wantErr: "turn_timeout",
		},
		{
			name:    "negative idempotency ttl",
			mutate:  func(c *Config) { c.Server.IdempotencyTTL = -time.Minute },
			wantErr: "idempotency_ttl",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name: "metrics path without slash",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Path = "metrics"
			},
			wantErr: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")

	tests := []struct {
		input string
		want  string
	}{
		{"no vars", "no vars"},
		{"${TEST_VAR}", "value"},
		{"prefix-${TEST_VAR}-suffix", "prefix-value-suffix"},
		{"${TEST_VAR_THAT_IS_UNSET}", ""},
	}

	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPath(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	if got := Path("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("Path(flag) = %q", got)
	}
	if got := Path(""); got != filepath.Join("/xdg", "coven", "concierge.yaml") {
		t.Errorf("Path() = %q, want XDG path", got)
	}

	t.Setenv(ConfigEnvVar, "/env/concierge.toml")
	if got := Path(""); got != "/env/concierge.toml" {
		t.Errorf("Path() = %q, want env path", got)
	}
}
