// Package config loads browserd's YAML configuration and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the front-end browserd serves.
type Mode string

const (
	// ModeREST serves the HTTP API and event stream.
	ModeREST Mode = "rest"
	// ModeMCP serves the tool protocol over stdio.
	ModeMCP Mode = "mcp"
)

// Engine names.
const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"
)

// Config is the complete service configuration.
type Config struct {
	Mode       Mode             `yaml:"mode" json:"mode"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Browser    BrowserConfig    `yaml:"browser" json:"browser"`
	Navigation NavigationConfig `yaml:"navigation" json:"navigation"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the REST listener.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	BasePath        string        `yaml:"base_path" json:"base_path"`
	CORSOrigins     []string      `yaml:"cors_origins" json:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PoolConfig bounds the browser pool.
type PoolConfig struct {
	MaxSessions   int           `yaml:"max_sessions" json:"max_sessions"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// BrowserConfig selects and tunes the automation engine.
type BrowserConfig struct {
	Engine            string        `yaml:"engine" json:"engine"`
	Headless          bool          `yaml:"headless" json:"headless"`
	ExecutablePath    string        `yaml:"executable_path" json:"executable_path"`
	Args              []string      `yaml:"args" json:"args"`
	InstallDriver     bool          `yaml:"install_driver" json:"install_driver"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	DefaultTimeout    time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// NavigationConfig restricts which hosts sessions may visit.
type NavigationConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts" json:"allowed_hosts"`
	DeniedHosts  []string `yaml:"denied_hosts" json:"denied_hosts"`
}

// EventsConfig tunes the event stream.
type EventsConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig controls log level and destination.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeREST,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3007,
			BasePath:        "/puppeteer-service",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Pool: PoolConfig{
			MaxSessions:   5,
			IdleTimeout:   5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Browser: BrowserConfig{
			Engine:        EnginePlaywright,
			Headless:      true,
			InstallDriver: true,
			Args: []string{
				"--no-sandbox",
				"--disable-setuid-sandbox",
				"--disable-dev-shm-usage",
				"--disable-gpu",
			},
			NavigationTimeout: 60 * time.Second,
			DefaultTimeout:    30 * time.Second,
		},
		Events: EventsConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads path over DefaultConfig, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in production.
//
//	REST_PORT                  server.port
//	MCP_MODE=true              mode: mcp
//	BROWSER_EXECUTABLE_PATH    browser.executable_path
//	PUPPETEER_EXECUTABLE_PATH  browser.executable_path (fallback)
//	BROWSER_ENGINE             browser.engine
//	LOG_LEVEL                  logging.level
//	LOG_FILE                   logging.file
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REST_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REST_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	if v, ok := lookup("MCP_MODE"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MCP_MODE %q: %w", v, err)
		}
		if enabled {
			c.Mode = ModeMCP
		} else {
			c.Mode = ModeREST
		}
	}

	if v, ok := lookup("BROWSER_EXECUTABLE_PATH"); ok && v != "" {
		c.Browser.ExecutablePath = v
	} else if v, ok := lookup("PUPPETEER_EXECUTABLE_PATH"); ok && v != "" {
		c.Browser.ExecutablePath = v
	}

	if v, ok := lookup("BROWSER_ENGINE"); ok && v != "" {
		c.Browser.Engine = strings.ToLower(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("LOG_FILE"); ok && v != "" {
		c.Logging.File = v
	}
	return nil
}

// Validate checks the configuration and normalizes the base path.
func (c *Config) Validate() error {
	if c.Mode != ModeREST && c.Mode != ModeMCP {
		return fmt.Errorf("invalid mode: %s (must be 'rest' or 'mcp')", c.Mode)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout cannot be negative")
	}
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Server.BasePath == "/" {
		c.Server.BasePath = ""
	}

	if c.Pool.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.Pool.MaxSessions)
	}
	if c.Pool.IdleTimeout <= 0 {
		return errors.New("idle_timeout must be positive")
	}
	if c.Pool.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}

	if c.Browser.Engine != EnginePlaywright && c.Browser.Engine != EngineChromedp {
		return fmt.Errorf("invalid browser engine: %s (must be 'playwright' or 'chromedp')", c.Browser.Engine)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return errors.New("navigation_timeout must be positive")
	}
	if c.Browser.DefaultTimeout <= 0 {
		return errors.New("default_timeout must be positive")
	}

	if c.Events.HeartbeatInterval < 0 {
		return errors.New("heartbeat_interval cannot be negative")
	}
	if c.Events.WriteTimeout < 0 {
		return errors.New("write_timeout cannot be negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}

	return nil
}
