package updater

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRepository publishes the tracesdl release binaries
	DefaultRepository = "traces-scraper/tracesdl"

	DefaultCheckInterval = 1 * time.Hour

	// StartupDelay lets the service settle before the first periodic check
	StartupDelay = 30 * time.Second
)

// Config holds the updater configuration
type Config struct {
	// Repository is the GitHub "owner/name" slug
	Repository     string
	CheckInterval  time.Duration
	StartupDelay   time.Duration
	CurrentVersion string
}

// DefaultConfig returns the configuration for the given running version
func DefaultConfig(version string) *Config {
	return &Config{
		Repository:     DefaultRepository,
		CheckInterval:  DefaultCheckInterval,
		StartupDelay:   StartupDelay,
		CurrentVersion: version,
	}
}

// NewConfig builds a Config from settings file values. Empty values keep
// the defaults.
func NewConfig(version, repository, interval string) (*Config, error) {
	cfg := DefaultConfig(version)
	if repository != "" {
		cfg.Repository = repository
	}
	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid update interval %q: %w", interval, err)
		}
		if d < time.Minute {
			return nil, fmt.Errorf("update interval %s is shorter than a minute", d)
		}
		cfg.CheckInterval = d
	}
	owner, name, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("repository must look like owner/name, got %q", cfg.Repository)
	}
	return cfg, nil
}

// normalizeVersion prefixes a bare semantic version with "v"
func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
