package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pricetracker/internal/price"
)

// EnvPrefix prefixes every environment override, e.g.
// PRICETRACKER_TRACKER_REFRESH_INTERVAL=30s.
const EnvPrefix = "PRICETRACKER"

// Known provider names, in the order they may appear in Tracker.Providers.
var ProviderNames = []string{"hyperliquid", "coingecko", "hermes"}

type Tracker struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// StaleThreshold of 0 selects each asset's own default.
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Assets         []string      `mapstructure:"assets"`
	// Providers is the failover chain, head first.
	Providers            []string      `mapstructure:"providers"`
	DegradedAfter        int           `mapstructure:"degraded_after"`
	PrimaryRetryInterval time.Duration `mapstructure:"primary_retry_interval"`
	BroadcastCapacity    int           `mapstructure:"broadcast_capacity"`
}

// Provider holds endpoint and throttling settings shared by every source.
type Provider struct {
	BaseURL              string        `mapstructure:"base_url"`
	WSURL                string        `mapstructure:"ws_url"`
	APIKey               string        `mapstructure:"api_key"`
	Streaming            bool          `mapstructure:"streaming"`
	MaxReconnects        int           `mapstructure:"max_reconnects"`
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute"`
	MinRequestInterval   time.Duration `mapstructure:"min_request_interval"`
	Burst                int           `mapstructure:"burst"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheMaxItems        int           `mapstructure:"cache_max_items"`
}

type Server struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type Redis struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Channel   string        `mapstructure:"channel"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type Log struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

type Config struct {
	Tracker     Tracker  `mapstructure:"tracker"`
	Hyperliquid Provider `mapstructure:"hyperliquid"`
	CoinGecko   Provider `mapstructure:"coingecko"`
	Hermes      Provider `mapstructure:"hermes"`
	Server      Server   `mapstructure:"server"`
	Redis       Redis    `mapstructure:"redis"`
	Log         Log      `mapstructure:"log"`
}

func Default() Config {
	return Config{
		Tracker: Tracker{
			RefreshInterval:   60 * time.Second,
			StaleThreshold:    300 * time.Second,
			RequestTimeout:    10 * time.Second,
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			Assets:            []string{"SOL", "BTC"},
			Providers:         []string{"hyperliquid", "coingecko"},
			DegradedAfter:     1,
			BroadcastCapacity: 256,
		},
		Hyperliquid: Provider{
			BaseURL:       "https://api.hyperliquid.xyz/info",
			WSURL:         "wss://api.hyperliquid.xyz/ws",
			Streaming:     true,
			MaxReconnects: 5,
		},
		CoinGecko: Provider{
			BaseURL:              "https://api.coingecko.com/api/v3",
			MaxRequestsPerMinute: 30,
			Burst:                2,
			CacheTTL:             5 * time.Second,
			CacheMaxItems:        64,
		},
		Hermes: Provider{
			BaseURL:       "https://hermes.pyth.network",
			MaxReconnects: 5,
		},
		Server: Server{Port: "8080", RequestTimeout: 10 * time.Second},
		Redis: Redis{
			Addr:      "localhost:6379",
			KeyPrefix: "prices:",
			Channel:   "prices",
			TTL:       10 * time.Minute,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path (json, yaml or toml by extension). If
// path is empty, config.json in the working directory is used when present;
// a missing file yields defaults. Environment variables override the result.
func Load(path string) (Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Plain PORT is honoured for container platforms.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, cfg Config) {
	t := cfg.Tracker
	v.SetDefault("tracker.refresh_interval", t.RefreshInterval)
	v.SetDefault("tracker.stale_threshold", t.StaleThreshold)
	v.SetDefault("tracker.request_timeout", t.RequestTimeout)
	v.SetDefault("tracker.max_attempts", t.MaxAttempts)
	v.SetDefault("tracker.initial_backoff", t.InitialBackoff)
	v.SetDefault("tracker.max_backoff", t.MaxBackoff)
	v.SetDefault("tracker.assets", t.Assets)
	v.SetDefault("tracker.providers", t.Providers)
	v.SetDefault("tracker.degraded_after", t.DegradedAfter)
	v.SetDefault("tracker.primary_retry_interval", t.PrimaryRetryInterval)
	v.SetDefault("tracker.broadcast_capacity", t.BroadcastCapacity)

	for name, p := range map[string]Provider{"hyperliquid": cfg.Hyperliquid, "coingecko": cfg.CoinGecko, "hermes": cfg.Hermes} {
		v.SetDefault(name+".base_url", p.BaseURL)
		v.SetDefault(name+".ws_url", p.WSURL)
		v.SetDefault(name+".api_key", p.APIKey)
		v.SetDefault(name+".streaming", p.Streaming)
		v.SetDefault(name+".max_reconnects", p.MaxReconnects)
		v.SetDefault(name+".max_requests_per_minute", p.MaxRequestsPerMinute)
		v.SetDefault(name+".min_request_interval", p.MinRequestInterval)
		v.SetDefault(name+".burst", p.Burst)
		v.SetDefault(name+".cache_ttl", p.CacheTTL)
		v.SetDefault(name+".cache_max_items", p.CacheMaxItems)
	}

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)
	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.key_prefix", cfg.Redis.KeyPrefix)
	v.SetDefault("redis.channel", cfg.Redis.Channel)
	v.SetDefault("redis.ttl", cfg.Redis.TTL)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// Validate checks the settings the tracker cannot run without.
func (c *Config) Validate() error {
	t := c.Tracker
	if t.RefreshInterval <= 0 {
		return errors.New("tracker.refresh_interval must be positive")
	}
	if t.StaleThreshold < 0 {
		return errors.New("tracker.stale_threshold must not be negative")
	}
	if t.RequestTimeout <= 0 {
		return errors.New("tracker.request_timeout must be positive")
	}
	if t.MaxAttempts < 1 {
		return errors.New("tracker.max_attempts must be at least 1")
	}
	if t.InitialBackoff <= 0 || t.MaxBackoff < t.InitialBackoff {
		return errors.New("tracker backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if t.DegradedAfter < 1 {
		return errors.New("tracker.degraded_after must be at least 1")
	}
	if t.BroadcastCapacity < 1 {
		return errors.New("tracker.broadcast_capacity must be positive")
	}
	if t.PrimaryRetryInterval < 0 {
		return errors.New("tracker.primary_retry_interval must not be negative")
	}
	if len(t.Assets) == 0 {
		return errors.New("tracker.assets must not be empty")
	}
	if _, err := price.ParseAssets(t.Assets); err != nil {
		return fmt.Errorf("tracker.assets: %w", err)
	}
	if len(t.Providers) == 0 {
		return errors.New("tracker.providers must not be empty")
	}
	for _, p := range t.Providers {
		if !slices.Contains(ProviderNames, strings.ToLower(p)) {
			return fmt.Errorf("tracker.providers: unknown provider %q", p)
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}

// EnabledAssets parses Tracker.Assets. Call after Validate.
func (c *Config) EnabledAssets() []price.Asset {
	as, _ := price.ParseAssets(c.Tracker.Assets)
	return as
}

// ProviderConfig returns the section for a provider name.
func (c *Config) ProviderConfig(name string) (Provider, bool) {
	switch strings.ToLower(name) {
	case "hyperliquid":
		return c.Hyperliquid, true
	case "coingecko":
		return c.CoinGecko, true
	case "hermes":
		return c.Hermes, true
	}
	return Provider{}, false
}
