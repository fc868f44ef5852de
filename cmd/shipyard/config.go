package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/shipyard/internal/validation"
)

// Config holds all shipyard configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string              `json:"listen_addr"`
	BackendURL        string              `json:"backend_url"`
	BackendToken      string              `json:"backend_token,omitempty"`
	DBPath            string              `json:"db_path"`
	LogLevel          string              `json:"log_level"`
	LogJSON           bool                `json:"log_json"`
	PollInterval      string              `json:"poll_interval"`
	Scheduler         bool                `json:"scheduler"`
	SchedulerInterval string              `json:"scheduler_interval"`
	Policies          []validation.Policy `json:"policies,omitempty"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		BackendURL:        "http://localhost:8000",
		DBPath:            filepath.Join(shipyardDir(), "shipyard.db"),
		LogLevel:          "info",
		PollInterval:      "2s",
		SchedulerInterval: "60s",
	}
}

func shipyardDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shipyard"
	}
	return filepath.Join(home, ".shipyard")
}

func settingsPath() string {
	return filepath.Join(shipyardDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SHIPYARD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SHIPYARD_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("SHIPYARD_BACKEND_TOKEN"); v != "" {
		cfg.BackendToken = v
	}
	if v := os.Getenv("SHIPYARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SHIPYARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHIPYARD_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv("SHIPYARD_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("SHIPYARD_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

// pollInterval parses PollInterval, falling back to the monitor default.
func (c Config) pollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func (c Config) schedulerInterval() time.Duration {
	d, err := time.ParseDuration(c.SchedulerInterval)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	SchedulerChanged bool
	LogLevelChanged  bool
	RestartNeeded    []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Scheduler != new.Scheduler {
		d.SchedulerChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.BackendURL != new.BackendURL || old.BackendToken != new.BackendToken {
		d.RestartNeeded = append(d.RestartNeeded, "backend_url")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PollInterval != new.PollInterval {
		d.RestartNeeded = append(d.RestartNeeded, "poll_interval")
	}
	if len(old.Policies) != len(new.Policies) {
		d.RestartNeeded = append(d.RestartNeeded, "policies")
	}
	return d
}

func pidPath() string {
	return filepath.Join(shipyardDir(), "shipyard.pid")
}
