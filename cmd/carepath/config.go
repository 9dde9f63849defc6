package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/carepath/internal/graph"
	"github.com/rendis/carepath/internal/scheduler"
)

// Config holds all carepath configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	EdgePolicy        string `json:"edge_policy"`
	Scheduler         bool   `json:"scheduler"`
	SchedulerInterval string `json:"scheduler_interval"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(carepathDir(), "carepath.db"),
		LogLevel:          "info",
		EdgePolicy:        string(graph.EdgePolicyStrict),
		Scheduler:         true,
		SchedulerInterval: scheduler.DefaultInterval.String(),
	}
}

func carepathDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".carepath"
	}
	return filepath.Join(home, ".carepath")
}

func settingsPath() string {
	return filepath.Join(carepathDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(carepathDir(), "carepath.pid")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CAREPATH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CAREPATH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CAREPATH_EDGE_POLICY"); v != "" {
		cfg.EdgePolicy = v
	}
	if v := os.Getenv("CAREPATH_SCHEDULER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler = b
		}
	}
	if v := os.Getenv("CAREPATH_SCHEDULER_INTERVAL"); v != "" {
		cfg.SchedulerInterval = v
	}

	return cfg
}

// validate checks the values that are parsed lazily at startup.
func (c Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is empty")
	}
	if _, err := c.edgePolicy(); err != nil {
		return err
	}
	if _, err := c.schedulerInterval(); err != nil {
		return err
	}
	return nil
}

func (c Config) edgePolicy() (graph.EdgePolicy, error) {
	return graph.ParseEdgePolicy(c.EdgePolicy)
}

func (c Config) schedulerInterval() (time.Duration, error) {
	if c.SchedulerInterval == "" {
		return scheduler.DefaultInterval, nil
	}
	d, err := time.ParseDuration(c.SchedulerInterval)
	if err != nil {
		return 0, fmt.Errorf("scheduler_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("scheduler_interval must be positive, got %s", d)
	}
	return d, nil
}

// dsn turns DBPath into the file URI the libsql driver expects.
func (c Config) dsn() string {
	if strings.HasPrefix(c.DBPath, "file:") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.EdgePolicy != new.EdgePolicy {
		d.RestartNeeded = append(d.RestartNeeded, "edge_policy")
	}
	if old.Scheduler != new.Scheduler {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler")
	}
	if old.SchedulerInterval != new.SchedulerInterval {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler_interval")
	}
	return d
}
