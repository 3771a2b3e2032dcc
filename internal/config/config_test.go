package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/models"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))
}

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.TemplateCreated)
	assert.Equal(t, filepath.Join(dir, "config.toml"), cfg.Path)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, time.Second, cfg.Polling.QuoteInterval)
	assert.Equal(t, 30*time.Second, cfg.Polling.StrategiesInterval)
	assert.Equal(t, models.DefaultPricingConfig(), cfg.Pricing)
	assert.Equal(t, SourceBackend, cfg.Source.Kind)
	assert.False(t, cfg.Backoff.Enabled)

	// The written template must load cleanly and agree with the defaults.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, again.TemplateCreated)
	assert.Equal(t, cfg.Polling, again.Polling)
	assert.Equal(t, cfg.Upstream, again.Upstream)
	assert.Equal(t, cfg.Pricing, again.Pricing)
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[upstream]
base_url = "https://backend.example"

[polling]
quote_interval = "500ms"

[pricing]
method = "depth"
depth_index = 3

[backoff]
enabled = true
factor = 1.5
max_delay = "10s"
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example", cfg.Upstream.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Polling.QuoteInterval)
	assert.Equal(t, time.Second, cfg.Polling.OrdersInterval)
	assert.Equal(t, models.PricingDepth, cfg.Pricing.Method)
	assert.Equal(t, 3, cfg.Pricing.DepthIndex)
	assert.True(t, cfg.Backoff.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Backoff.MaxDelay)

	mc := cfg.MonitorConfig()
	assert.Equal(t, 500*time.Millisecond, mc.QuoteInterval)
	assert.Equal(t, cfg.Pricing, mc.Pricing)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	t.Setenv("SPREADMON_POLLING_SPREAD_INTERVAL", "250ms")
	t.Setenv("SPREADMON_UPSTREAM_BASE_URL", "http://env.example")
	t.Setenv("KITE_API_KEY", "kite-key")
	t.Setenv("SPREADMON_TOKEN", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Polling.SpreadInterval)
	assert.Equal(t, "http://env.example", cfg.Upstream.BaseURL)
	assert.Equal(t, "kite-key", cfg.Source.Kite.APIKey)
	assert.Equal(t, "secret", cfg.Upstream.Token)
}

func TestCredentialsFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[upstream]
token = "from-file"

[kite]
api_key = "k"
access_token = "a"
`), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Upstream.Token)
	assert.Equal(t, "k", cfg.Source.Kite.APIKey)
	assert.Equal(t, "a", cfg.Source.Kite.AccessToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown method", func(c *Config) { c.Pricing.Method = "vwap" }},
		{"average depth too deep", func(c *Config) { c.Pricing.AverageDepth = 6 }},
		{"depth index zero", func(c *Config) { c.Pricing.DepthIndex = 0 }},
		{"zero quote interval", func(c *Config) { c.Polling.QuoteInterval = 0 }},
		{"negative orders interval", func(c *Config) { c.Polling.OrdersInterval = -time.Second }},
		{"empty base url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"flat backoff factor", func(c *Config) { c.Backoff.Enabled = true; c.Backoff.Factor = 1 }},
		{"unknown source", func(c *Config) { c.Source.Kind = "csv" }},
		{"kite without key", func(c *Config) { c.Source.Kind = SourceKite; c.Source.Kite.APIKey = "" }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[pricing]\naverage_depth = 9\n")
	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}
