package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 49277, cfg.Twitter.CallbackPort)
	assert.Equal(t, 3*time.Minute, cfg.Twitter.AuthTimeout)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 30*time.Second, cfg.Download.DownloadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Twitter.ClientID)
	assert.Empty(t, cfg.Output.Directory)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Directory = t.TempDir()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvClientID)
	assert.Contains(t, err.Error(), EnvClientSecret)
}

func TestValidateComplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Twitter.ClientID = "client-id"
	cfg.Twitter.ClientSecret = "client-secret"
	cfg.Output.Directory = "./archive"

	assert.NoError(t, cfg.Validate())
}

func TestValidateBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing out dir", func(c *Config) { c.Output.Directory = "" }, "output directory is required"},
		{"bad port", func(c *Config) { c.Twitter.CallbackPort = 0 }, "callback port"},
		{"bad concurrency", func(c *Config) { c.Download.ConcurrentDownloads = 0 }, "concurrent downloads"},
		{"bad rate limit", func(c *Config) { c.RateLimit.RequestsPerMinute = -1 }, "requests per minute"},
		{"bad log level", func(c *Config) { c.Logging.Level = "noisy" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Twitter.ClientID = "id"
			cfg.Twitter.ClientSecret = "secret"
			cfg.Output.Directory = "./archive"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvClientID, "env-client-id")
	t.Setenv(EnvClientSecret, "env-client-secret")
	t.Setenv("MAGPIE_CALLBACK_PORT", "8099")
	t.Setenv("MAGPIE_OUTPUT_DIR", "/tmp/likes")
	t.Setenv("MAGPIE_CONCURRENT_DOWNLOADS", "8")
	t.Setenv("MAGPIE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env-client-id", cfg.Twitter.ClientID)
	assert.Equal(t, "env-client-secret", cfg.Twitter.ClientSecret)
	assert.Equal(t, 8099, cfg.Twitter.CallbackPort)
	assert.Equal(t, "/tmp/likes", cfg.Output.Directory)
	assert.Equal(t, 8, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvBadPort(t *testing.T) {
	t.Setenv("MAGPIE_CALLBACK_PORT", "not-a-port")

	cfg := DefaultConfig()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAGPIE_CALLBACK_PORT")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
twitter:
  client_id: file-client-id
  callback_port: 9999
output:
  directory: /data/likes
  strict_skips: true
download:
  concurrent_downloads: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "file-client-id", cfg.Twitter.ClientID)
	assert.Equal(t, 9999, cfg.Twitter.CallbackPort)
	assert.Equal(t, "/data/likes", cfg.Output.Directory)
	assert.True(t, cfg.Output.StrictSkips)
	assert.Equal(t, 5, cfg.Download.ConcurrentDownloads)
	// Untouched values keep their defaults.
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
}

func TestMergeFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeFlags(map[string]interface{}{
		"out-dir":    "/flags/likes",
		"port":       5000,
		"concurrent": 7,
		"rate-limit": 30,
		"strict":     true,
		"log-level":  "warn",
	})

	assert.Equal(t, "/flags/likes", cfg.Output.Directory)
	assert.Equal(t, 5000, cfg.Twitter.CallbackPort)
	assert.Equal(t, 7, cfg.Download.ConcurrentDownloads)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.Output.StrictSkips)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Output.Directory = "/data/likes"
	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, cfg.Output.Directory, loaded.Output.Directory)
	assert.Equal(t, cfg.Twitter.CallbackPort, loaded.Twitter.CallbackPort)
}
