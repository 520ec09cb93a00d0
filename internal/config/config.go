// Package config loads the sproutsync configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the engine and CLI need to run.
type Config struct {
	// RemoteURL is the base URL of the sync API. Required for any command
	// that talks to the remote service.
	RemoteURL string `yaml:"remote_url"`
	// AuthToken is the bearer token for the sync API.
	AuthToken string `yaml:"auth_token"`
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// Debounce is how long the engine waits after the last trigger before
	// starting a cycle, e.g. "500ms".
	Debounce string `yaml:"debounce"`
	// CallTimeout bounds each individual remote call, e.g. "15s".
	CallTimeout string `yaml:"call_timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, mirrors log output to a rotating file.
	LogFile string `yaml:"log_file"`
}

// DefaultPath returns the default config file location,
// ~/.config/sproutsync/config.yml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "sproutsync", "config.yml"), nil
}

// defaults fills in everything that may be omitted from the file.
func defaults() (Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	return Config{
		DBPath:      filepath.Join(homeDir, ".local", "share", "sproutsync", "sprout.db"),
		Debounce:    "500ms",
		CallTimeout: "15s",
		LogLevel:    "info",
	}, nil
}

// Load reads the config file at path, applying defaults for anything not
// set. A missing file is not an error; it yields the defaults.
func Load(path string) (Config, error) {
	cfg, err := defaults()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := cfg.DebounceDuration(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.CallTimeoutDuration(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DebounceDuration parses the debounce setting.
func (c Config) DebounceDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 0, fmt.Errorf("invalid debounce %q: %w", c.Debounce, err)
	}
	return d, nil
}

// CallTimeoutDuration parses the per-call timeout setting.
func (c Config) CallTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid call_timeout %q: %w", c.CallTimeout, err)
	}
	return d, nil
}
