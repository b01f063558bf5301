package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration must validate: %v", err)
	}
}

func TestValidate_RejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil database", func(c *Config) { c.Database = nil }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"nil http", func(c *Config) { c.HTTP = nil }},
		{"port too low", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"nil websocket", func(c *Config) { c.WebSocket = nil }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero buffer size", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"nil session", func(c *Config) { c.Session = nil }},
		{"negative max sessions", func(c *Config) { c.Session.MaxSessions = -1 }},
		{"negative stall warning", func(c *Config) { c.Session.StallWarning = -time.Second }},
		{"stall warning without interval", func(c *Config) {
			c.Session.StallWarning = time.Second
			c.Session.StallCheckInterval = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOCKSTEP_HTTP_PORT", "9090")
	t.Setenv("LOCKSTEP_HTTP_HOST", "127.0.0.1")
	t.Setenv("LOCKSTEP_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("LOCKSTEP_MAX_SESSIONS", "42")
	t.Setenv("LOCKSTEP_MAX_DEVICES_PER_SESSION", "4")
	t.Setenv("LOCKSTEP_STALL_WARNING", "2s")
	t.Setenv("LOCKSTEP_RATE_LIMIT_PER_MINUTE", "600")

	cfg := LoadFromEnv()

	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.HTTP.Host)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("expected database path /tmp/test.db, got %s", cfg.Database.Path)
	}
	if cfg.Session.MaxSessions != 42 {
		t.Errorf("expected 42 max sessions, got %d", cfg.Session.MaxSessions)
	}
	if cfg.Session.MaxDevicesPerSession != 4 {
		t.Errorf("expected 4 max devices, got %d", cfg.Session.MaxDevicesPerSession)
	}
	if cfg.Session.StallWarning != 2*time.Second {
		t.Errorf("expected 2s stall warning, got %s", cfg.Session.StallWarning)
	}
	if cfg.Session.RateLimitPerMinute != 600 {
		t.Errorf("expected rate limit 600, got %d", cfg.Session.RateLimitPerMinute)
	}
}

func TestLoadFromEnv_IgnoresUnparseableValues(t *testing.T) {
	t.Setenv("LOCKSTEP_HTTP_PORT", "not-a-number")
	t.Setenv("LOCKSTEP_STALL_WARNING", "not-a-duration")

	cfg := LoadFromEnv()
	defaults := DefaultConfig()

	if cfg.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("unparseable port must keep default, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.StallWarning != defaults.Session.StallWarning {
		t.Errorf("unparseable duration must keep default, got %s", cfg.Session.StallWarning)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"http": {"port": 9999, "host": "localhost"},
		"session": {"max_devices_per_session": 6, "stall_warning": "3s"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.HTTP.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.MaxDevicesPerSession != 6 {
		t.Errorf("expected 6 max devices, got %d", cfg.Session.MaxDevicesPerSession)
	}
	if cfg.Session.StallWarning != 3*time.Second {
		t.Errorf("expected 3s stall warning, got %s", cfg.Session.StallWarning)
	}
	// Untouched sections keep defaults.
	if cfg.WebSocket.PingInterval != DefaultConfig().WebSocket.PingInterval {
		t.Error("websocket defaults lost")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.json"); err == nil {
		t.Error("missing file must error")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("malformed file must error")
	}
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LOCKSTEP_HTTP_PORT", "9090")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"http": {"port": 7777}}`), 0o644)

	// File wins over environment.
	cfg := LoadConfigWithPrecedence(path)
	if cfg.HTTP.Port != 7777 {
		t.Errorf("file must take precedence, got port %d", cfg.HTTP.Port)
	}

	// Without a file the environment layer applies.
	cfg = LoadConfigWithPrecedence("")
	if cfg.HTTP.Port != 9090 {
		t.Errorf("environment must apply without a file, got port %d", cfg.HTTP.Port)
	}

	// A broken path falls back to the environment layer.
	cfg = LoadConfigWithPrecedence("/nonexistent/config.json")
	if cfg.HTTP.Port != 9090 {
		t.Errorf("broken file must fall back to environment, got port %d", cfg.HTTP.Port)
	}
}
