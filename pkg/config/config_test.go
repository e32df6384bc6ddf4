package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "browserd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeREST, cfg.Mode)
	assert.Equal(t, 3007, cfg.Server.Port)
	assert.Equal(t, "/puppeteer-service", cfg.Server.BasePath)
	assert.Equal(t, 5, cfg.Pool.MaxSessions)
	assert.Equal(t, 5*time.Minute, cfg.Pool.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Pool.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 30*time.Second, cfg.Browser.DefaultTimeout)
	assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
mode: rest
server:
  port: 8080
  base_path: /browser/
pool:
  max_sessions: 2
  idle_timeout: 90s
browser:
  engine: chromedp
  args: ["--headless=new"]
navigation:
  denied_hosts: ["*.internal"]
logging:
  level: DEBUG
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/browser", cfg.Server.BasePath)
	assert.Equal(t, 2, cfg.Pool.MaxSessions)
	assert.Equal(t, 90*time.Second, cfg.Pool.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Pool.SweepInterval, "unset fields keep defaults")
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.Equal(t, []string{"--headless=new"}, cfg.Browser.Args)
	assert.Equal(t, []string{"*.internal"}, cfg.Navigation.DeniedHosts)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "pool:\n  max_sessions: -1\n"))
		assert.ErrorContains(t, err, "max_sessions")
	})
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "rest port",
			env:  map[string]string{"REST_PORT": "4000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4000, cfg.Server.Port)
			},
		},
		{
			name:    "bad rest port",
			env:     map[string]string{"REST_PORT": "abc"},
			wantErr: true,
		},
		{
			name: "mcp mode",
			env:  map[string]string{"MCP_MODE": "true"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ModeMCP, cfg.Mode)
			},
		},
		{
			name: "mcp mode off",
			env:  map[string]string{"MCP_MODE": "false"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ModeREST, cfg.Mode)
			},
		},
		{
			name: "executable path prefers browser variable",
			env: map[string]string{
				"BROWSER_EXECUTABLE_PATH":   "/usr/bin/chromium",
				"PUPPETEER_EXECUTABLE_PATH": "/opt/chrome",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecutablePath)
			},
		},
		{
			name: "puppeteer executable path fallback",
			env:  map[string]string{"PUPPETEER_EXECUTABLE_PATH": "/opt/chrome"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/opt/chrome", cfg.Browser.ExecutablePath)
			},
		},
		{
			name: "engine and logging",
			env:  map[string]string{"BROWSER_ENGINE": "ChromeDP", "LOG_LEVEL": "warn", "LOG_FILE": "/tmp/b.log"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
				assert.Equal(t, "warn", cfg.Logging.Level)
				assert.Equal(t, "/tmp/b.log", cfg.Logging.File)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.ApplyEnv(envMap(tt.env))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "grpc" }, "invalid mode"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"max sessions", func(c *Config) { c.Pool.MaxSessions = 0 }, "max_sessions"},
		{"idle timeout", func(c *Config) { c.Pool.IdleTimeout = 0 }, "idle_timeout"},
		{"sweep interval", func(c *Config) { c.Pool.SweepInterval = 0 }, "sweep_interval"},
		{"engine", func(c *Config) { c.Browser.Engine = "selenium" }, "invalid browser engine"},
		{"nav timeout", func(c *Config) { c.Browser.NavigationTimeout = 0 }, "navigation_timeout"},
		{"default timeout", func(c *Config) { c.Browser.DefaultTimeout = -time.Second }, "default_timeout"},
		{"heartbeat", func(c *Config) { c.Events.HeartbeatInterval = -time.Second }, "heartbeat_interval"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid logging level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesBasePath(t *testing.T) {
	for in, want := range map[string]string{
		"":                    "",
		"/":                   "",
		"api":                 "/api",
		"/puppeteer-service/": "/puppeteer-service",
	} {
		cfg := DefaultConfig()
		cfg.Server.BasePath = in
		require.NoError(t, cfg.Validate())
		assert.Equal(t, want, cfg.Server.BasePath, "base path %q", in)
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3007}
	assert.Equal(t, "127.0.0.1:3007", s.Addr())
}
