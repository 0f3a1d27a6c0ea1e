// Package config loads and validates the service's configuration: a YAML
// file (server/gitlab/poller/database/log sections) with environment
// variables taking precedence for secrets, and an optional local .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GitLab   GitLabConfig   `yaml:"gitlab"`
	Poller   PollerConfig   `yaml:"poller"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GitLabConfig struct {
	URL               string   `yaml:"url"`
	Token             string   `yaml:"token"`
	MonitorGroups     []string `yaml:"monitor_groups"`
	BranchFilterRegex string   `yaml:"branch_filter_regex"`
	TimeoutSeconds    int64    `yaml:"timeout_seconds"`
	SkipInvalidCerts  bool     `yaml:"skip_invalid_certs"`
}

type PollerConfig struct {
	IntervalSeconds int64 `yaml:"interval_seconds"`
	BackfillDays    int64 `yaml:"backfill_days"`
	Capacity        int64 `yaml:"capacity"`
	TTLSeconds      int64 `yaml:"ttl_seconds"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ConfigError marks a configuration problem detected at startup. The
// process is expected to fail fast when this is returned.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// Load reads path as YAML, loads a local .env (if present) first so its
// variables are visible to the environment-variable overrides below, then
// applies defaults and validates required fields.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment secrets win over the checked-in YAML,
// mirroring the teacher's env-var-first main.go wiring.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_URL"); v != "" {
		cfg.GitLab.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.GitLab.TimeoutSeconds == 0 {
		cfg.GitLab.TimeoutSeconds = 30
	}
	if cfg.Poller.IntervalSeconds == 0 {
		cfg.Poller.IntervalSeconds = 60
	}
	if cfg.Poller.BackfillDays == 0 {
		cfg.Poller.BackfillDays = 30
	}
	if cfg.Poller.Capacity == 0 {
		cfg.Poller.Capacity = 10_000
	}
	if cfg.Poller.TTLSeconds == 0 {
		cfg.Poller.TTLSeconds = 600
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 5
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the fields required before any network or store access.
func (cfg *Config) Validate() error {
	if cfg.GitLab.URL == "" {
		return &ConfigError{Field: "gitlab.url", Msg: "required"}
	}
	if cfg.GitLab.Token == "" {
		return &ConfigError{Field: "gitlab.token", Msg: "required"}
	}
	if len(cfg.GitLab.MonitorGroups) == 0 {
		return &ConfigError{Field: "gitlab.monitor_groups", Msg: "at least one group is required"}
	}
	if cfg.Database.URL == "" {
		return &ConfigError{Field: "database.url", Msg: "required (or set DATABASE_URL)"}
	}
	return nil
}
