// Package config loads watchd configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIBaseURL    = "https://niyambadha.vercel.app"
	defaultPuzzleURL     = "https://niyambadha.vercel.app"
	defaultServerPort    = 8090
	defaultServerTimeout = 30
	defaultSessionExpiry = 90 * 24 // hours
	defaultBridgeSocket  = "watchd.sock"
)

type Config struct {
	Debug  bool         `yaml:"debug"`
	Engine EngineConfig `yaml:"engine"`
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
}

// EngineConfig configures the enforcement daemon.
type EngineConfig struct {
	APIBaseURL   string `yaml:"api_base_url"`
	PuzzleURL    string `yaml:"puzzle_url"`
	DataDir      string `yaml:"data_dir"`
	BridgeSocket string `yaml:"bridge_socket"`
	LogPath      string `yaml:"log_path"`
}

// ServerConfig configures the API service.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig configures session token issuance.
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	SessionExpiry time.Duration `yaml:"session_expiry"`
}

func (c *Config) Validate() error {
	if c.Engine.APIBaseURL == "" {
		return errors.New("engine.api_base_url is required")
	}
	if c.Engine.PuzzleURL == "" {
		return errors.New("engine.puzzle_url is required")
	}
	if c.Engine.DataDir == "" {
		return errors.New("engine.data_dir is required")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port is required and must be positive")
	}
	return nil
}

// Load reads the config file at path, applies defaults, then environment
// overrides. An empty path loads pure defaults, so the daemon runs with
// no config file at all.
func Load(path string) (*Config, error) {
	// Pick up a local .env if present; real env vars still win.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Set defaults
	if cfg.Engine.APIBaseURL == "" {
		cfg.Engine.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Engine.PuzzleURL == "" {
		cfg.Engine.PuzzleURL = defaultPuzzleURL
	}
	if cfg.Engine.DataDir == "" {
		cfg.Engine.DataDir = defaultDataDir()
	}
	if cfg.Engine.BridgeSocket == "" {
		cfg.Engine.BridgeSocket = filepath.Join(cfg.Engine.DataDir, defaultBridgeSocket)
	}
	if cfg.Engine.LogPath == "" {
		cfg.Engine.LogPath = filepath.Join(cfg.Engine.DataDir, "watchd.log")
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultServerTimeout * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultServerTimeout * time.Second
	}
	if cfg.Auth.SessionExpiry == 0 {
		cfg.Auth.SessionExpiry = defaultSessionExpiry * time.Hour
	}

	// Override with environment variables
	overrideFromEnv(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "watchd")
	}
	return filepath.Join(home, ".watchd")
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("WATCHD_API_BASE_URL"); v != "" {
		cfg.Engine.APIBaseURL = v
	}
	if v := os.Getenv("WATCHD_PUZZLE_URL"); v != "" {
		cfg.Engine.PuzzleURL = v
	}
	if v := os.Getenv("WATCHD_DATA_DIR"); v != "" {
		cfg.Engine.DataDir = v
	}
	if v := os.Getenv("WATCHD_BRIDGE_SOCKET"); v != "" {
		cfg.Engine.BridgeSocket = v
	}
	if v := os.Getenv("WATCHD_LOG_PATH"); v != "" {
		cfg.Engine.LogPath = v
	}
	if v := os.Getenv("WATCHD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("WATCHD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WATCHD_SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := os.Getenv("WATCHD_SESSION_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.SessionExpiry = d
		}
	}
	if v := os.Getenv("WATCHD_DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
