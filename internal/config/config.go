package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
)

// Config is the capd configuration file.
type Config struct {
	Server        ServerConfig   `json:"server"`
	Database      DatabaseConfig `json:"database"`
	MCP           MCPConfig      `json:"mcp"`
	Events        EventsConfig   `json:"events"`
	MigrationsDir string         `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// MCPConfig selects how the tools are exposed over MCP: "http" mounts a
// streamable HTTP endpoint on the API server, "stdio" serves on stdin/stdout
// instead of HTTP, "off" (the default) disables MCP.
type MCPConfig struct {
	Transport string `json:"transport"`
}

type EventsConfig struct {
	Stream string `json:"stream"`
}

const (
	DefaultPort          = 8080
	DefaultStream        = "capd:capabilities"
	DefaultMigrationsDir = "migrations"
)

// envRef matches ${VAR} and ${VAR:fallback}.
var envRef = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Transports accepted in mcp.transport.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
	TransportOff   = "off"
)

// Load reads the config file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data, decodes it, fills defaults
// and validates the result. An unset or empty variable takes its fallback.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if v, ok := os.LookupEnv(string(m[1])); ok && v != "" {
			return []byte(v)
		}
		return m[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = TransportOff
	}
	if c.Events.Stream == "" {
		c.Events.Stream = DefaultStream
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = DefaultMigrationsDir
	}
}

// Validate reports the first setting capd cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Postgres.DSN == "" {
		return errors.New("database.postgres.dsn is required")
	}
	switch c.MCP.Transport {
	case TransportHTTP, TransportStdio, TransportOff:
	default:
		return fmt.Errorf("mcp.transport %q: want http, stdio or off", c.MCP.Transport)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
