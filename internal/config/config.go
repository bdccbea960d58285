package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Auth        AuthConfig                `json:"auth"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// BaseURL is the externally reachable origin embedded in QR links.
	BaseURL string `json:"base_url"`
	// LateThresholdMinutes applies to every session process-wide. A check-in
	// more than this many minutes after session start counts as late.
	LateThresholdMinutes int `json:"late_threshold_minutes"`
}

type AuthConfig struct {
	// Secret signs access tokens. Falls back to ROLLCALL_SECRET when empty.
	Secret          string `json:"secret"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// DefaultLateThresholdMinutes is used when the config leaves the value unset.
const DefaultLateThresholdMinutes = 10

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("ROLLCALL_SECRET")
	}
	if cfg.BasicConfig.LateThresholdMinutes <= 0 {
		cfg.BasicConfig.LateThresholdMinutes = DefaultLateThresholdMinutes
	}

	return &cfg, nil
}
