// Package config holds the settings shared by the CLI, the web UI and the
// service. Values come from defaults, an optional YAML file, environment
// variables for secrets and finally command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/traces-scraper/matcher"
	"github.com/traces-scraper/pipeline"
	"github.com/traces-scraper/report"
	"github.com/traces-scraper/scrapers"
	"github.com/traces-scraper/suppliers"
)

// AppName names the config and data directories
const AppName = "tracesdl"

// DefaultConfigFile is looked up in the working directory
const DefaultConfigFile = "tracesdl.yaml"

const (
	DefaultTimeoutMS     = 45000
	DefaultDelaySeconds  = 10
	DefaultOutputDir     = "./downloads"
	DefaultHTTPAddr      = ":8080"
	DefaultGRPCPort      = "50051"
	DefaultMaxUploadMB   = 10
	DefaultRetentionHour = 24
)

// ErrConfigNotFound is returned when an explicitly named config file is missing
var ErrConfigNotFound = errors.New("configuration file not found")

// Config is the complete application configuration
type Config struct {
	Suppliers string `yaml:"suppliers,omitempty"`
	OutputDir string `yaml:"output_dir,omitempty"`

	PortalURL string `yaml:"portal_url,omitempty"`
	Headed    bool   `yaml:"headed,omitempty"`

	// TimeoutMS bounds navigation steps and the first download wait
	TimeoutMS int `yaml:"timeout_ms,omitempty"`

	// DelaySeconds is the pause between two suppliers
	DelaySeconds float64 `yaml:"delay_seconds,omitempty"`

	SearchRetries       int     `yaml:"search_retries,omitempty"`
	RetryBackoffSeconds float64 `yaml:"retry_backoff_seconds,omitempty"`
	TimeoutRetryFactor  int     `yaml:"timeout_retry_factor,omitempty"`
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`

	HeaderLabels []string           `yaml:"header_labels,omitempty"`
	Selectors    scrapers.Selectors `yaml:"selectors,omitempty"`

	Reports []string `yaml:"reports,omitempty"`
	Zip     bool     `yaml:"zip,omitempty"`

	Server ServerConfig `yaml:"server,omitempty"`
	Update UpdateConfig `yaml:"update,omitempty"`

	// secrets, environment only
	SecretKey          string `yaml:"-"`
	GoogleClientID     string `yaml:"-"`
	GoogleClientSecret string `yaml:"-"`
	OAuthRedirectURL   string `yaml:"-"`
}

// ServerConfig configures `tracesdl serve`
type ServerConfig struct {
	Addr           string `yaml:"addr,omitempty"`
	GRPCPort       string `yaml:"grpc_port,omitempty"`
	RunsDir        string `yaml:"runs_dir,omitempty"`
	DB             string `yaml:"db,omitempty"`
	MaxUploadMB    int    `yaml:"max_upload_mb,omitempty"`
	RetentionHours int    `yaml:"retention_hours,omitempty"`

	// UploadsPerMinute limits new jobs per client address
	UploadsPerMinute int    `yaml:"uploads_per_minute,omitempty"`
	AllowedDomain    string `yaml:"allowed_domain,omitempty"`
}

// UpdateConfig configures the self updater
type UpdateConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Repo     string `yaml:"repo,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// Default returns the configuration used when nothing else is given
func Default() *Config {
	return &Config{
		OutputDir:           DefaultOutputDir,
		PortalURL:           scrapers.DefaultPortalURL,
		TimeoutMS:           DefaultTimeoutMS,
		DelaySeconds:        DefaultDelaySeconds,
		SearchRetries:       2,
		RetryBackoffSeconds: 3,
		TimeoutRetryFactor:  2,
		SimilarityThreshold: matcher.DefaultSimilarityThreshold,
		HeaderLabels:        append([]string(nil), suppliers.DefaultHeaderLabels...),
		Selectors:           scrapers.DefaultSelectors(),
		Reports:             []string{string(report.FormatJSON)},
		Server: ServerConfig{
			Addr:             DefaultHTTPAddr,
			GRPCPort:         DefaultGRPCPort,
			RunsDir:          filepath.Join(DataDir(), "runs"),
			MaxUploadMB:      DefaultMaxUploadMB,
			RetentionHours:   DefaultRetentionHour,
			UploadsPerMinute: 6,
		},
		Update: UpdateConfig{
			Repo:     "traces-scraper/tracesdl",
			Interval: "1h",
		},
	}
}

// ConfigDir is $XDG_CONFIG_HOME/tracesdl
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DataDir is $XDG_DATA_HOME/tracesdl
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// FindConfigFile returns explicit if it exists, else ./tracesdl.yaml, else
// the file in ConfigDir. The empty string means no file was found.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	candidates := []string{
		DefaultConfigFile,
		filepath.Join(ConfigDir(), "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load builds a Config from defaults, the config file and the environment.
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := FindConfigFile(path)
	if path != "" && file == "" {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv reads secrets from the environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.GoogleClientID = v
	}
	if v := getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.GoogleClientSecret = v
	}
	if v := getenv("OAUTH_REDIRECT_URL"); v != "" {
		c.OAuthRedirectURL = v
	}
}

// Validate returns the first invalid setting found
func (c *Config) Validate() error {
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("timeout must be positive, got %dms", c.TimeoutMS)
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay must not be negative, got %v", c.DelaySeconds)
	}
	if c.SearchRetries < 0 {
		return fmt.Errorf("search_retries must not be negative, got %d", c.SearchRetries)
	}
	if c.TimeoutRetryFactor < 1 {
		return fmt.Errorf("timeout_retry_factor must be at least 1, got %d", c.TimeoutRetryFactor)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.OutputDir == "" {
		return errors.New("output directory must not be empty")
	}
	if !strings.HasPrefix(c.PortalURL, "http://") && !strings.HasPrefix(c.PortalURL, "https://") {
		return fmt.Errorf("portal_url must be an http(s) URL, got %q", c.PortalURL)
	}
	if _, err := c.ReportFormats(); err != nil {
		return err
	}
	if c.Update.Interval != "" {
		if _, err := time.ParseDuration(c.Update.Interval); err != nil {
			return fmt.Errorf("update interval: %w", err)
		}
	}
	return nil
}

// ReportFormats parses Reports
func (c *Config) ReportFormats() ([]report.Format, error) {
	return report.ParseFormats(strings.Join(c.Reports, ","))
}

// OAuthEnabled reports whether Google login is configured
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Timeout converts TimeoutMS
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Delay converts DelaySeconds
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// PipelineOptions returns the batch options for an output directory
func (c *Config) PipelineOptions(outDir string) pipeline.Options {
	return pipeline.Options{
		Scraper: scrapers.Config{
			PortalURL:    c.PortalURL,
			DownloadPath: outDir,
			Headless:     !c.Headed,
			Timeout:      c.Timeout(),
			Selectors:    c.Selectors,
		},
		Processor: pipeline.ProcessorOptions{
			SearchRetries:      c.SearchRetries,
			RetryBackoff:       time.Duration(c.RetryBackoffSeconds * float64(time.Second)),
			DownloadTimeout:    c.Timeout(),
			TimeoutRetryFactor: c.TimeoutRetryFactor,
		},
		Delay:               c.Delay(),
		SimilarityThreshold: c.SimilarityThreshold,
	}
}
