// Package config handles configuration loading for coinsentinel.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "COINSENTINEL"

// Config represents the complete application configuration.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"  yaml:"catalog"`
	Market   MarketConfig   `mapstructure:"market"   yaml:"market"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Search   SearchConfig   `mapstructure:"search"   yaml:"search"`
	Risk     RiskConfig     `mapstructure:"risk"     yaml:"risk"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`

	// File is the config file that was read, empty when running on
	// defaults and environment only.
	File string `mapstructure:"-" yaml:"-" json:"file,omitempty"`
}

// CatalogConfig holds Catalog Store and Catalog Fetcher settings.
type CatalogConfig struct {
	ProviderURL     string        `mapstructure:"provider_url"     yaml:"provider_url"` // CoinGecko-compatible base URL
	TTL             time.Duration `mapstructure:"ttl"              yaml:"ttl"`
	RefreshAttempts int           `mapstructure:"refresh_attempts" yaml:"refresh_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"    yaml:"retry_backoff"`
	FailureBackoff  time.Duration `mapstructure:"failure_backoff"  yaml:"failure_backoff"` // pause after a failed refresh while serving stale data
	WarmOnStart     bool          `mapstructure:"warm_on_start"    yaml:"warm_on_start"`
}

// MarketConfig holds market-data provider settings.
type MarketConfig struct {
	BaseURL      string        `mapstructure:"base_url"      yaml:"base_url"`
	VSCurrency   string        `mapstructure:"vs_currency"   yaml:"vs_currency"` // e.g., "usd"
	Attempts     int           `mapstructure:"attempts"      yaml:"attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	APIKey       string        `mapstructure:"api_key"       yaml:"api_key"       json:"-"`
}

// UpstreamConfig holds settings shared by every upstream HTTP call.
type UpstreamConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"    yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Burst     int           `mapstructure:"burst"      yaml:"burst"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// SearchConfig holds Search Index and live-search settings.
type SearchConfig struct {
	DefaultLimit int           `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"     yaml:"max_limit"`
	DefaultMode  string        `mapstructure:"default_mode"  yaml:"default_mode"` // "prefix" or "substring"
	Debounce     time.Duration `mapstructure:"debounce"      yaml:"debounce"`
	RankExact    bool          `mapstructure:"rank_exact"    yaml:"rank_exact"`
}

// RiskConfig holds Risk Scorer settings.
type RiskConfig struct {
	BaselineScore int    `mapstructure:"baseline_score" yaml:"baseline_score"`
	FlagsFile     string `mapstructure:"flags_file"     yaml:"flags_file"` // JSON flagged-token dataset
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.coinsentinel/config.yaml (home directory)
//  3. /etc/coinsentinel/config.yaml (system)
//
// Environment variables override config file values.
// Format: COINSENTINEL_<SECTION>_<KEY>, e.g., COINSENTINEL_CATALOG_TTL=10m
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".coinsentinel"))
	v.AddConfigPath("/etc/coinsentinel")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.provider_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("catalog.ttl", 5*time.Minute)
	v.SetDefault("catalog.refresh_attempts", 2)
	v.SetDefault("catalog.retry_backoff", 500*time.Millisecond)
	v.SetDefault("catalog.failure_backoff", 30*time.Second)
	v.SetDefault("catalog.warm_on_start", true)

	v.SetDefault("market.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.vs_currency", "usd")
	v.SetDefault("market.attempts", 2)
	v.SetDefault("market.retry_backoff", 500*time.Millisecond)
	v.SetDefault("market.api_key", "")

	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.rate_limit", 10.0)
	v.SetDefault("upstream.burst", 5)
	v.SetDefault("upstream.user_agent", "")

	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 50)
	v.SetDefault("search.default_mode", "substring")
	v.SetDefault("search.debounce", 250*time.Millisecond)
	v.SetDefault("search.rank_exact", false)

	v.SetDefault("risk.baseline_score", 10)
	v.SetDefault("risk.flags_file", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks value ranges that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch {
	case c.Catalog.TTL <= 0:
		return fmt.Errorf("config: catalog.ttl must be positive, got %s", c.Catalog.TTL)
	case c.Catalog.RefreshAttempts < 1:
		return fmt.Errorf("config: catalog.refresh_attempts must be >= 1, got %d", c.Catalog.RefreshAttempts)
	case c.Market.Attempts < 1:
		return fmt.Errorf("config: market.attempts must be >= 1, got %d", c.Market.Attempts)
	case c.Upstream.Timeout <= 0:
		return fmt.Errorf("config: upstream.timeout must be positive, got %s", c.Upstream.Timeout)
	case c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit:
		return fmt.Errorf("config: search.default_limit must be in [1, max_limit=%d], got %d", c.Search.MaxLimit, c.Search.DefaultLimit)
	case c.Search.DefaultMode != "prefix" && c.Search.DefaultMode != "substring":
		return fmt.Errorf("config: search.default_mode must be prefix or substring, got %q", c.Search.DefaultMode)
	case c.Risk.BaselineScore < 0 || c.Risk.BaselineScore > 100:
		return fmt.Errorf("config: risk.baseline_score must be in [0, 100], got %d", c.Risk.BaselineScore)
	}
	return nil
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("COINSENTINEL_MARKET_API_KEY"); key != "" {
		cfg.Market.APIKey = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
