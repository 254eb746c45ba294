package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Cache     CacheConfig     `yaml:"cache"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig configures the external content API.
type SourceConfig struct {
	BaseURL   string `yaml:"base_url"`
	PageSize  int    `yaml:"page_size"`
	PageDelay string `yaml:"page_delay"`
}

// ParsePageDelay returns the inter-page delay as time.Duration.
func (s SourceConfig) ParsePageDelay() time.Duration {
	d, err := time.ParseDuration(s.PageDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// CacheConfig bounds the local image cache.
type CacheConfig struct {
	MaxImages int `yaml:"max_images"`
}

// AggregateConfig configures tag statistics aggregation.
type AggregateConfig struct {
	IgnoreTags []string `yaml:"ignore_tags"`
}

// ScheduleConfig configures the recurring cache refresh.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (s ScheduleConfig) ParseRefreshInterval() time.Duration {
	d, err := time.ParseDuration(s.RefreshInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./thisorthat.db"},
		Source: SourceConfig{
			PageSize:  50,
			PageDelay: "500ms",
		},
		Cache:     CacheConfig{MaxImages: 1000},
		Aggregate: AggregateConfig{IgnoreTags: []string{"tagme"}},
		Schedule:  ScheduleConfig{RefreshInterval: "24h"},
		Server:    ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("THISORTHAT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("THISORTHAT_SOURCE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("THISORTHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
