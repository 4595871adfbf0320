// ABOUTME: Configuration loading and parsing for coven-concierge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-concierge/internal/agent"
)

// ConfigEnvVar overrides the default config path.
const ConfigEnvVar = "COVEN_CONCIERGE_CONFIG"

// Engine kinds
const (
	EngineEcho   = "echo"
	EngineRemote = "remote"
)

// Defaults applied before validation.
const (
	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultAppName       = "Customer Support"
	DefaultUserID        = "aiwithbrandon"
	DefaultDatabasePath  = "concierge.db"
	DefaultMetricsPath   = "/metrics"
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "text"
)

// Config represents the complete coven-concierge configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	App      AppConfig      `yaml:"app" toml:"app"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Engine   EngineConfig   `yaml:"engine" toml:"engine"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses and per-turn limits
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves grpc.health.v1; empty disables the gRPC listener.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`

	TurnTimeout    time.Duration `yaml:"-" toml:"-"`
	TurnTimeoutRaw string        `yaml:"turn_timeout" toml:"turn_timeout"`

	// IdempotencyTTL is how long an Idempotency-Key on a turn is remembered.
	IdempotencyTTL    time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// AppConfig names the application sessions belong to
type AppConfig struct {
	Name          string         `yaml:"name" toml:"name"`
	DefaultUserID string         `yaml:"default_user_id" toml:"default_user_id"`
	InitialState  map[string]any `yaml:"initial_state" toml:"initial_state"`
}

// DatabaseConfig selects the session store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, sqlite3, redis, memory
	Path   string `yaml:"path" toml:"path"`
}

// RedisConfig is used when database.driver is "redis"
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// EngineConfig selects the agent execution engine
type EngineConfig struct {
	Kind      string        `yaml:"kind" toml:"kind"`
	URL       string        `yaml:"url" toml:"url"`
	RootAgent string        `yaml:"root_agent" toml:"root_agent"`
	Routes    []agent.Route `yaml:"routes" toml:"routes"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration that runs fully in-process: SQLite in the
// working directory and the echo engine.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Path returns the config file to use.
// Priority: flag value > COVEN_CONCIERGE_CONFIG > XDG_CONFIG_HOME/coven/concierge.yaml > ~/.config/coven/concierge.yaml
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv(ConfigEnvVar); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "concierge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "concierge.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.App.Name == "" {
		cfg.App.Name = DefaultAppName
	}
	if cfg.App.DefaultUserID == "" && cfg.Auth.JWTSecret == "" {
		cfg.App.DefaultUserID = DefaultUserID
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" && isSQL(cfg.Database.Driver) {
		cfg.Database.Path = DefaultDatabasePath
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = EngineEcho
	}
	if cfg.Engine.RootAgent == "" {
		cfg.Engine.RootAgent = agent.DefaultRootAgent
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

func isSQL(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.TurnTimeout < 0 {
		return fmt.Errorf("server.turn_timeout must not be negative")
	}
	if c.Server.IdempotencyTTL < 0 {
		return fmt.Errorf("server.idempotency_ttl must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when database.driver is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, sqlite3, redis, memory", c.Database.Driver)
	}

	switch c.Engine.Kind {
	case EngineEcho:
	case EngineRemote:
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required when engine.kind is remote")
		}
		u, err := url.Parse(c.Engine.URL)
		if err != nil {
			return fmt.Errorf("engine.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("engine.url must use http or https scheme")
		}
	default:
		return fmt.Errorf("engine.kind %q is not one of echo, remote", c.Engine.Kind)
	}
	for i, r := range c.Engine.Routes {
		if r.Agent == "" {
			return fmt.Errorf("engine.routes[%d].agent is required", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("engine.routes[%d].keywords must not be empty", i)
		}
	}

	// Secrets shorter than 32 bytes are rejected (auth.MinSecretLength)
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.TurnTimeoutRaw != "" {
		cfg.Server.TurnTimeout, err = time.ParseDuration(cfg.Server.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turn_timeout %q: %w", cfg.Server.TurnTimeoutRaw, err)
		}
	}

	if cfg.Server.IdempotencyTTLRaw != "" {
		cfg.Server.IdempotencyTTL, err = time.ParseDuration(cfg.Server.IdempotencyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency_ttl %q: %w", cfg.Server.IdempotencyTTLRaw, err)
		}
	}

	if cfg.Redis.TTLRaw != "" {
		cfg.Redis.TTL, err = time.ParseDuration(cfg.Redis.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing redis ttl %q: %w", cfg.Redis.TTLRaw, err)
		}
	}

	return nil
}
