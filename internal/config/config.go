package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config collects every tunable the coordinator reads at startup.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Session   *SessionConfig   `json:"session"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// SessionConfig bounds session hosting and tunes the lockstep barrier.
// MaxSessions and MaxDevicesPerSession of zero mean unlimited. A
// StallWarning of zero disables tick_stall notices.
type SessionConfig struct {
	MaxSessions          int           `json:"max_sessions"`
	MaxDevicesPerSession int           `json:"max_devices_per_session"`
	StallWarning         time.Duration `json:"stall_warning"`
	StallCheckInterval   time.Duration `json:"stall_check_interval"`
	RateLimitPerMinute   int           `json:"rate_limit_per_minute"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./lockstep.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Session: &SessionConfig{
			MaxSessions:          1000,
			MaxDevicesPerSession: 8,
			StallWarning:         5 * time.Second,
			StallCheckInterval:   time.Second,
			RateLimitPerMinute:   2400,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}

	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("max sessions cannot be negative")
	}

	if c.Session.MaxDevicesPerSession < 0 {
		return fmt.Errorf("max devices per session cannot be negative")
	}

	if c.Session.StallWarning < 0 {
		return fmt.Errorf("stall warning cannot be negative")
	}

	if c.Session.StallWarning > 0 && c.Session.StallCheckInterval <= 0 {
		return fmt.Errorf("stall check interval must be positive when stall warning is enabled")
	}

	if c.Session.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	return nil
}

// LoadFromEnv returns defaults overridden by LOCKSTEP_* environment
// variables. Unparseable values fall back to the default silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("LOCKSTEP_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("LOCKSTEP_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if dbPath := os.Getenv("LOCKSTEP_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}

	if readTimeout := os.Getenv("LOCKSTEP_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("LOCKSTEP_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if dbTimeout := os.Getenv("LOCKSTEP_DATABASE_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.Timeout = timeout
		}
	}

	if pingInterval := os.Getenv("LOCKSTEP_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("LOCKSTEP_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("LOCKSTEP_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("LOCKSTEP_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if maxSessions := os.Getenv("LOCKSTEP_MAX_SESSIONS"); maxSessions != "" {
		if n, err := strconv.Atoi(maxSessions); err == nil {
			config.Session.MaxSessions = n
		}
	}

	if maxDevices := os.Getenv("LOCKSTEP_MAX_DEVICES_PER_SESSION"); maxDevices != "" {
		if n, err := strconv.Atoi(maxDevices); err == nil {
			config.Session.MaxDevicesPerSession = n
		}
	}

	if stallWarning := os.Getenv("LOCKSTEP_STALL_WARNING"); stallWarning != "" {
		if d, err := time.ParseDuration(stallWarning); err == nil {
			config.Session.StallWarning = d
		}
	}

	if stallInterval := os.Getenv("LOCKSTEP_STALL_CHECK_INTERVAL"); stallInterval != "" {
		if d, err := time.ParseDuration(stallInterval); err == nil {
			config.Session.StallCheckInterval = d
		}
	}

	if rateLimit := os.Getenv("LOCKSTEP_RATE_LIMIT_PER_MINUTE"); rateLimit != "" {
		if n, err := strconv.Atoi(rateLimit); err == nil {
			config.Session.RateLimitPerMinute = n
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing, with durations as strings.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Session   *SessionConfigFile   `json:"session"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type SessionConfigFile struct {
	MaxSessions          int    `json:"max_sessions"`
	MaxDevicesPerSession int    `json:"max_devices_per_session"`
	StallWarning         string `json:"stall_warning"`
	StallCheckInterval   string `json:"stall_check_interval"`
	RateLimitPerMinute   int    `json:"rate_limit_per_minute"`
}

// LoadFromFile reads a JSON config file over defaults and validates the
// result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Session != nil {
		if configFile.Session.MaxSessions > 0 {
			config.Session.MaxSessions = configFile.Session.MaxSessions
		}
		if configFile.Session.MaxDevicesPerSession > 0 {
			config.Session.MaxDevicesPerSession = configFile.Session.MaxDevicesPerSession
		}
		if configFile.Session.RateLimitPerMinute > 0 {
			config.Session.RateLimitPerMinute = configFile.Session.RateLimitPerMinute
		}
		if configFile.Session.StallWarning != "" {
			if d, err := time.ParseDuration(configFile.Session.StallWarning); err == nil {
				config.Session.StallWarning = d
			}
		}
		if configFile.Session.StallCheckInterval != "" {
			if d, err := time.ParseDuration(configFile.Session.StallCheckInterval); err == nil {
				config.Session.StallCheckInterval = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. A missing or broken file falls back to the environment layer.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
