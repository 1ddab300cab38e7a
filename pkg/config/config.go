package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables holding the OAuth application credentials. Both are
// required; their absence is a fatal configuration error reported before any
// network activity.
const (
	EnvClientID     = "TWITTER_OAUTH_CLIENT_ID"
	EnvClientSecret = "TWITTER_OAUTH_CLIENT_SECRET"
)

// Config holds all configuration for the archiver.
type Config struct {
	Twitter   TwitterConfig   `yaml:"twitter" json:"twitter"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// TwitterConfig holds OAuth client settings.
type TwitterConfig struct {
	ClientID     string        `yaml:"client_id" json:"client_id"`
	ClientSecret string        `yaml:"client_secret" json:"client_secret"`
	CallbackPort int           `yaml:"callback_port" json:"callback_port"`
	AuthTimeout  time.Duration `yaml:"auth_timeout" json:"auth_timeout"`
}

// RateLimitConfig holds crawl pacing settings.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int `yaml:"max_retries" json:"max_retries"`
}

// OutputConfig holds output directory settings.
type OutputConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	// StrictSkips makes the process exit non-zero when any media item was
	// skipped after exhausting its candidate URLs.
	StrictSkips bool `yaml:"strict_skips" json:"strict_skips"`
}

// DownloadConfig holds media download settings.
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config with sensible defaults. Credentials have no
// default and must come from the environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		Twitter: TwitterConfig{
			CallbackPort: 49277,
			AuthTimeout:  3 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			MaxRetries:        3,
		},
		Output: OutputConfig{
			Directory:   "",
			StrictSkips: false,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 3,
			DownloadTimeout:     30 * time.Second,
			RetryAttempts:       3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the config file,
// then a .env file if present, then process environment, then CLI flags.
func Load(path string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}

	// A .env file in the working directory is loaded without overriding
	// variables already set in the process environment.
	_ = godotenv.Load()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	cfg.MergeFlags(flags)

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func findConfigFile() string {
	locations := []string{
		".magpie.yaml",
		".magpie.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "magpie", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".magpie.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// LoadFromEnv applies environment variable overrides.
func (c *Config) LoadFromEnv() error {
	if clientID := os.Getenv(EnvClientID); clientID != "" {
		c.Twitter.ClientID = clientID
	}
	if clientSecret := os.Getenv(EnvClientSecret); clientSecret != "" {
		c.Twitter.ClientSecret = clientSecret
	}

	if port := os.Getenv("MAGPIE_CALLBACK_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid MAGPIE_CALLBACK_PORT: %w", err)
		}
		c.Twitter.CallbackPort = val
	}

	if rpm := os.Getenv("MAGPIE_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if outDir := os.Getenv("MAGPIE_OUTPUT_DIR"); outDir != "" {
		c.Output.Directory = outDir
	}

	if concurrent := os.Getenv("MAGPIE_CONCURRENT_DOWNLOADS"); concurrent != "" {
		if val, err := strconv.Atoi(concurrent); err == nil && val > 0 {
			c.Download.ConcurrentDownloads = val
		}
	}

	if logLevel := os.Getenv("MAGPIE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// MergeFlags applies CLI flag overrides onto the configuration.
func (c *Config) MergeFlags(flags map[string]interface{}) {
	if flags == nil {
		return
	}

	if v, ok := flags["out-dir"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["port"].(int); ok && v > 0 {
		c.Twitter.CallbackPort = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["rate-limit"].(int); ok && v > 0 {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["max-retries"].(int); ok && v >= 0 {
		c.RateLimit.MaxRetries = v
	}
	if v, ok := flags["strict"].(bool); ok {
		c.Output.StrictSkips = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration. Credential errors are reported with the
// environment variable name the operator needs to set.
func (c *Config) Validate() error {
	var errs []error

	if c.Twitter.ClientID == "" {
		errs = append(errs, fmt.Errorf("missing required environment variable %q", EnvClientID))
	}
	if c.Twitter.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("missing required environment variable %q", EnvClientSecret))
	}
	if c.Twitter.CallbackPort <= 0 || c.Twitter.CallbackPort > 65535 {
		errs = append(errs, errors.New("callback port must be in range 1-65535"))
	}
	if c.Twitter.AuthTimeout <= 0 {
		errs = append(errs, errors.New("auth timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
