// Package config loads the dashboard settings from an optional YAML file
// and fills in defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gaugelab/speedboard/history"
)

// Config holds the user-tunable settings. Command-line flags override
// whatever the file says; see the main package.
type Config struct {
	// TicksPerSecond is the dashboard refresh rate.
	TicksPerSecond int `yaml:"ticks_per_second"`
	// HistoryFile is where completed runs are persisted.
	HistoryFile string `yaml:"history_file"`
	// LogFile receives the structured log while the dashboard owns the
	// terminal. Empty means DefaultLogPath for interactive sessions and
	// the standard error otherwise.
	LogFile string `yaml:"log_file"`
	// LocateURL overrides the ndt7 server discovery endpoint.
	LocateURL string `yaml:"locate_url"`
	// ServerURL pins a specific ndt7 server and bypasses discovery.
	ServerURL string `yaml:"server_url"`
	// MaxGaugeMbps is the full-scale reading of the speedometer gauge.
	MaxGaugeMbps float64 `yaml:"max_gauge_mbps"`
	// AnalyzerCapacity is how many recent samples the analyzer bars keep.
	AnalyzerCapacity int `yaml:"analyzer_capacity"`
	// DebugAddr serves /metrics and /history when non-empty.
	DebugAddr string `yaml:"debug_addr"`
}

// Default returns the settings used when no file overrides them.
func Default() Config {
	return Config{
		TicksPerSecond:   30,
		HistoryFile:      history.DefaultPath(),
		MaxGaugeMbps:     1200,
		AnalyzerCapacity: 50,
	}
}

// DefaultLogPath returns the log file used when the dashboard runs on a
// terminal and no explicit log file is configured.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".speedboard.log"
	}
	return filepath.Join(home, ".speedboard.log")
}

// Load reads the file at path, if there is one, and merges it over the
// defaults. No path and a missing file both mean plain defaults; a file
// that exists but does not parse is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.mergeWithDefaults()
	return cfg, nil
}

// mergeWithDefaults restores defaults for fields the file zeroed out or
// set to values that cannot work.
func (c *Config) mergeWithDefaults() {
	d := Default()
	if c.TicksPerSecond <= 0 {
		c.TicksPerSecond = d.TicksPerSecond
	}
	if c.HistoryFile == "" {
		c.HistoryFile = d.HistoryFile
	}
	if c.MaxGaugeMbps <= 0 {
		c.MaxGaugeMbps = d.MaxGaugeMbps
	}
	if c.AnalyzerCapacity <= 0 {
		c.AnalyzerCapacity = d.AnalyzerCapacity
	}
}
