// Package config loads the supervisor's configuration, trimmed from the
// teacher's much larger nested YAML configuration down to the handful
// of knobs this spec calls out: where persistent state lives and how
// the reaper and stop grace period are tuned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete supervisor configuration.
type Config struct {
	// BaseDir is the caller-supplied base directory under which
	// jobs.db and logs/ live (spec §6).
	BaseDir string `yaml:"baseDir"`

	// ReaperInterval is how often the reaper polls the registry and
	// OS process table. Spec §4.2 recommends 1-2s.
	ReaperInterval time.Duration `yaml:"reaperInterval"`

	// StopGracePeriod is how long stop() waits after the polite signal
	// before escalating to a forceful kill. Spec §4.2 requires [2s,10s].
	StopGracePeriod time.Duration `yaml:"stopGracePeriod"`

	// StopPollInterval is the polling granularity used while waiting
	// out the grace period.
	StopPollInterval time.Duration `yaml:"stopPollInterval"`

	// StopPoliteRetries is how many times the polite signal is resent
	// before escalating. Spec §4.2/§9 requires at least 2 retries (3
	// attempts total) to tolerate shell-wrapper signal swallowing.
	StopPoliteRetries int `yaml:"stopPoliteRetries"`

	// LogLevel ("DEBUG", "INFO", "WARN", "ERROR") sets the level of the
	// logger package's global logger. The loggers that the store,
	// supervisor and manager create with logger.New() are not affected
	// and log at INFO.
	LogLevel string `yaml:"logLevel"`
}

// Defaults returns a Config with the recommended values from the spec.
func Defaults() *Config {
	return &Config{
		BaseDir:           "./jobsupervisor-data",
		ReaperInterval:    1500 * time.Millisecond,
		StopGracePeriod:   5 * time.Second,
		StopPollInterval:  100 * time.Millisecond,
		StopPoliteRetries: 2,
		LogLevel:          "INFO",
	}
}

// Load reads a YAML config file at path, applying defaults for any
// fields the file leaves zero-valued. An empty path skips the file;
// the environment overrides and validation still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// applyEnvOverrides lets JOBSUPERVISOR_BASE_DIR and
// JOBSUPERVISOR_REAPER_INTERVAL win over the file, the way the teacher
// lets JOBLET_* environment variables win over its own config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JOBSUPERVISOR_BASE_DIR"); v != "" {
		c.BaseDir = v
	}
	if v := os.Getenv("JOBSUPERVISOR_REAPER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReaperInterval = d
		}
	}
}

// Validate checks the configuration is within the bounds the spec
// requires.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("baseDir cannot be empty")
	}
	if c.StopGracePeriod < 2*time.Second || c.StopGracePeriod > 10*time.Second {
		return fmt.Errorf("stopGracePeriod must be between 2s and 10s, got %s", c.StopGracePeriod)
	}
	if c.StopPoliteRetries < 2 {
		return fmt.Errorf("stopPoliteRetries must be at least 2, got %d", c.StopPoliteRetries)
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("reaperInterval must be positive")
	}
	return nil
}

// DBPath returns the path to the embedded relational store file.
func (c *Config) DBPath() string {
	return filepath.Join(c.BaseDir, "jobs.db")
}

// LogDir returns the directory holding per-job stdout/stderr files.
func (c *Config) LogDir() string {
	return filepath.Join(c.BaseDir, "logs")
}
