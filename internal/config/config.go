package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Pipeline queue sizing: how many sends may wait per session before the
	// server answers 429, and how long an idle session runner lingers.
	SendQueueSize     int `json:"send_queue_size"`
	RunnerIdleTimeout int `json:"runner_idle_timeout_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
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

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

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
	for name, db := range cfg.Databases {
		if name != "sqlite" && name != "sqlite3" {
			continue
		}
		// Relative sqlite paths resolve against the config file, but DSNs like
		// ":memory:" or "file:..." pass through untouched.
		if db.DSN == "" || filepath.IsAbs(db.DSN) || strings.HasPrefix(db.DSN, ":") || strings.HasPrefix(db.DSN, "file:") {
			continue
		}
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases[name] = db
	}

	return &cfg, nil
}
