// Package config provides configuration management for the spread monitor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spread-monitor/internal/errors"
	"spread-monitor/internal/logging"
	"spread-monitor/internal/models"
	"spread-monitor/internal/monitor"
	"spread-monitor/internal/scheduler"
	"spread-monitor/internal/upstream"
)

// EnvPrefix prefixes every environment override, e.g. SPREADMON_POLLING_QUOTE_INTERVAL.
const EnvPrefix = "SPREADMON"

// Quote source kinds.
const (
	SourceBackend = "backend"
	SourceKite    = "kite"
)

// Config holds all application configuration.
type Config struct {
	Upstream upstream.ClientConfig   `mapstructure:"upstream"`
	Polling  PollingConfig           `mapstructure:"polling"`
	Backoff  scheduler.BackoffConfig `mapstructure:"backoff"`
	Pricing  models.PricingConfig    `mapstructure:"pricing"`
	Source   SourceConfig            `mapstructure:"source"`
	History  HistoryConfig           `mapstructure:"history"`
	API      APIConfig               `mapstructure:"api"`
	Log      logging.LogConfig       `mapstructure:"log"`

	// Path is the config file that was read, or the template just written.
	Path string `mapstructure:"-"`
	// TemplateCreated is set when no config file existed and defaults apply.
	TemplateCreated bool `mapstructure:"-"`
}

// PollingConfig holds refresh periods.
type PollingConfig struct {
	QuoteInterval       time.Duration `mapstructure:"quote_interval"`
	OrdersInterval      time.Duration `mapstructure:"orders_interval"`
	StrategiesInterval  time.Duration `mapstructure:"strategies_interval"`
	SpreadInterval      time.Duration `mapstructure:"spread_interval"`
	ExitFillConcurrency int           `mapstructure:"exit_fill_concurrency"`
}

// SourceConfig selects where the option chain comes from.
type SourceConfig struct {
	Kind string              `mapstructure:"kind"` // backend, kite
	Kite upstream.KiteConfig `mapstructure:"kite"`
}

// HistoryConfig holds snapshot persistence settings.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	DBPath    string        `mapstructure:"db_path"`
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

// APIConfig holds the results API settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Credentials holds secrets kept out of config.toml.
type Credentials struct {
	Upstream struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"upstream"`
	Kite struct {
		APIKey      string `mapstructure:"api_key"`
		AccessToken string `mapstructure:"access_token"`
	} `mapstructure:"kite"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/spread-monitor"
	}
	return filepath.Join(home, ".config", "spread-monitor")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		path, err := createTemplateConfig(configDir)
		if err != nil {
			return nil, err
		}
		cfg.Path = path
		cfg.TemplateCreated = true
	} else {
		cfg.Path = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	creds, err := loadCredentials(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}
	applyCredentials(cfg, creds)

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg := &Config{}
	_ = newViper(DefaultConfigDir()).Unmarshal(cfg)
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, configDir)
	return v
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, configDir string) {
	up := upstream.DefaultClientConfig()
	v.SetDefault("upstream.base_url", up.BaseURL)
	v.SetDefault("upstream.chain_path", up.ChainPath)
	v.SetDefault("upstream.strategies_path", up.StrategiesPath)
	v.SetDefault("upstream.orders_path", up.OrdersPath)
	v.SetDefault("upstream.exit_fill_path", up.ExitFillPath)
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.timeout", up.Timeout)
	v.SetDefault("upstream.rate_per_sec", up.RatePerSec)
	v.SetDefault("upstream.burst", up.Burst)
	v.SetDefault("upstream.breaker.max_requests", up.Breaker.MaxRequests)
	v.SetDefault("upstream.breaker.interval", up.Breaker.Interval)
	v.SetDefault("upstream.breaker.timeout", up.Breaker.Timeout)
	v.SetDefault("upstream.breaker.failure_ratio", up.Breaker.FailureRatio)
	v.SetDefault("upstream.breaker.min_requests", up.Breaker.MinRequests)

	mon := monitor.DefaultConfig()
	v.SetDefault("polling.quote_interval", mon.QuoteInterval)
	v.SetDefault("polling.orders_interval", mon.OrdersInterval)
	v.SetDefault("polling.strategies_interval", mon.StrategiesInterval)
	v.SetDefault("polling.spread_interval", mon.SpreadInterval)
	v.SetDefault("polling.exit_fill_concurrency", mon.ExitFillConcurrency)

	backoff := scheduler.DefaultBackoffConfig()
	v.SetDefault("backoff.enabled", backoff.Enabled)
	v.SetDefault("backoff.factor", backoff.Factor)
	v.SetDefault("backoff.max_delay", backoff.MaxDelay)

	pricing := models.DefaultPricingConfig()
	v.SetDefault("pricing.method", string(pricing.Method))
	v.SetDefault("pricing.average_depth", pricing.AverageDepth)
	v.SetDefault("pricing.depth_index", pricing.DepthIndex)

	v.SetDefault("source.kind", SourceBackend)
	v.SetDefault("source.kite.api_key", "")
	v.SetDefault("source.kite.access_token", "")
	v.SetDefault("source.kite.exchange", "NFO")
	v.SetDefault("source.kite.underlyings", []string{"NIFTY"})
	v.SetDefault("source.kite.expiries", []string{})
	v.SetDefault("source.kite.instruments_ttl", 6*time.Hour)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", filepath.Join(configDir, "history.db"))
	v.SetDefault("history.interval", mon.HistoryInterval)
	v.SetDefault("history.retention", 7*24*time.Hour)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", "127.0.0.1:8090")

	lc := logging.DefaultLogConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.console", lc.Console)
	v.SetDefault("log.file", lc.File)
	v.SetDefault("log.file_path", lc.FilePath)
	v.SetDefault("log.max_size", lc.MaxSize)
	v.SetDefault("log.max_backups", lc.MaxBackups)
	v.SetDefault("log.max_age", lc.MaxAge)
}

func loadCredentials(configDir string) (*Credentials, error) {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	creds := &Credentials{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return creds, createTemplateCredentials(configDir)
		}
		return nil, err
	}

	if err := v.Unmarshal(creds); err != nil {
		return nil, err
	}
	return creds, nil
}

func applyCredentials(cfg *Config, creds *Credentials) {
	if creds == nil {
		return
	}
	if creds.Upstream.Token != "" {
		cfg.Upstream.Token = creds.Upstream.Token
	}
	if creds.Kite.APIKey != "" {
		cfg.Source.Kite.APIKey = creds.Kite.APIKey
	}
	if creds.Kite.AccessToken != "" {
		cfg.Source.Kite.AccessToken = creds.Kite.AccessToken
	}
}

func applyEnvOverrides(cfg *Config) {
	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Source.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Source.Kite.AccessToken = v
	}

	// Backend token
	if v := os.Getenv("SPREADMON_TOKEN"); v != "" {
		cfg.Upstream.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(errors.ErrConfigInvalid, format, args...)
	}

	// Validate pricing defaults
	if _, ok := models.ParsePricingMethod(string(c.Pricing.Method)); !ok {
		return invalid("pricing.method %q must be 'average' or 'depth'", c.Pricing.Method)
	}
	if c.Pricing.AverageDepth < models.MinDepth || c.Pricing.AverageDepth > models.MaxDepth {
		return invalid("pricing.average_depth must be between %d and %d", models.MinDepth, models.MaxDepth)
	}
	if c.Pricing.DepthIndex < models.MinDepth || c.Pricing.DepthIndex > models.MaxDepth {
		return invalid("pricing.depth_index must be between %d and %d", models.MinDepth, models.MaxDepth)
	}

	// Validate polling intervals
	intervals := map[string]time.Duration{
		"polling.quote_interval":      c.Polling.QuoteInterval,
		"polling.orders_interval":     c.Polling.OrdersInterval,
		"polling.strategies_interval": c.Polling.StrategiesInterval,
		"polling.spread_interval":     c.Polling.SpreadInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}
	if c.History.Enabled && c.History.Interval <= 0 {
		return invalid("history.interval must be positive")
	}

	// Validate upstream
	if c.Upstream.BaseURL == "" {
		return invalid("upstream.base_url must be set")
	}
	if c.Backoff.Enabled && c.Backoff.Factor <= 1 {
		return invalid("backoff.factor must be greater than 1")
	}

	switch c.Source.Kind {
	case SourceBackend:
	case SourceKite:
		if c.Source.Kite.APIKey == "" {
			return invalid("source.kite.api_key is required for the kite source")
		}
	default:
		return invalid("source.kind %q must be '%s' or '%s'", c.Source.Kind, SourceBackend, SourceKite)
	}

	return nil
}

// MonitorConfig maps the polling section onto the monitor settings.
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		QuoteInterval:       c.Polling.QuoteInterval,
		OrdersInterval:      c.Polling.OrdersInterval,
		StrategiesInterval:  c.Polling.StrategiesInterval,
		SpreadInterval:      c.Polling.SpreadInterval,
		HistoryInterval:     c.History.Interval,
		ExitFillConcurrency: c.Polling.ExitFillConcurrency,
		Pricing:             c.Pricing,
	}
}
