package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Store       StoreConfig       `koanf:"store"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Enrichment  EnrichmentConfig  `koanf:"enrichment"`
	Settlement  SettlementConfig  `koanf:"settlement"`
	RateCards   RateCardsConfig   `koanf:"rate_cards"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// StoreConfig selects and tunes the sorted key-value backend.
type StoreConfig struct {
	// Backend is one of memory, pebble, postgres.
	Backend string `koanf:"backend"`

	// Path is the pebble data directory (pebble backend only).
	Path string `koanf:"path"`

	// DSN, connection limits and migrations apply to postgres only.
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type AggregationConfig struct {
	// PageSize bounds child rows folded between checkpoints.
	PageSize int `koanf:"page_size"`

	// DiscoverLimit is the default batch size for discovery calls.
	DiscoverLimit int `koanf:"discover_limit"`

	// LookupConcurrency bounds parallel catalog lookups per raw row.
	LookupConcurrency int `koanf:"lookup_concurrency"`

	// Poll enables the in-process poller; PollInterval sets its tick.
	Poll         bool   `koanf:"poll"`
	PollInterval string `koanf:"poll_interval"`
}

type EnrichmentConfig struct {
	CatalogURL     string `koanf:"catalog_url"`
	CacheCapacity  int    `koanf:"cache_capacity"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

type SettlementConfig struct {
	BillingURL     string `koanf:"billing_url"`
	EarningsURL    string `koanf:"earnings_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

type RateCardsConfig struct {
	Dir string `koanf:"dir"`
}

// EffectivePollInterval parses the configured poll interval; Validate has
// already rejected unparseable values.
func (c AggregationConfig) EffectivePollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Store.Backend {
	case "memory":
	case "pebble":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the pebble backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
		if c.Store.MaxOpenConns <= 0 {
			return fmt.Errorf("store.max_open_conns must be > 0")
		}
		if c.Store.MaxIdleConns <= 0 {
			return fmt.Errorf("store.max_idle_conns must be > 0")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q (must be memory, pebble or postgres)", c.Store.Backend)
	}

	if c.Aggregation.PageSize <= 0 {
		return fmt.Errorf("aggregation.page_size must be > 0")
	}
	if c.Aggregation.DiscoverLimit <= 0 {
		return fmt.Errorf("aggregation.discover_limit must be > 0")
	}
	if c.Aggregation.LookupConcurrency <= 0 {
		return fmt.Errorf("aggregation.lookup_concurrency must be > 0")
	}
	if c.Aggregation.Poll {
		interval, err := time.ParseDuration(c.Aggregation.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid aggregation.poll_interval %q: %w", c.Aggregation.PollInterval, err)
		}
		if interval <= 0 {
			return fmt.Errorf("aggregation.poll_interval must be > 0")
		}
	}

	if strings.TrimSpace(c.Enrichment.CatalogURL) == "" {
		return fmt.Errorf("enrichment.catalog_url is required")
	}
	if c.Enrichment.CacheCapacity <= 0 {
		return fmt.Errorf("enrichment.cache_capacity must be > 0")
	}
	if c.Enrichment.TimeoutSeconds <= 0 {
		return fmt.Errorf("enrichment.timeout_seconds must be > 0")
	}

	if strings.TrimSpace(c.Settlement.BillingURL) == "" {
		return fmt.Errorf("settlement.billing_url is required")
	}
	if strings.TrimSpace(c.Settlement.EarningsURL) == "" {
		return fmt.Errorf("settlement.earnings_url is required")
	}
	if c.Settlement.TimeoutSeconds <= 0 {
		return fmt.Errorf("settlement.timeout_seconds must be > 0")
	}

	if strings.TrimSpace(c.RateCards.Dir) == "" {
		return fmt.Errorf("rate_cards.dir is required")
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"store.backend":                  "pebble",
		"store.path":                     "./mediameter.db",
		"store.dsn":                      "",
		"store.max_open_conns":           25,
		"store.max_idle_conns":           25,
		"store.auto_migrate":             true,
		"aggregation.page_size":          256,
		"aggregation.discover_limit":     100,
		"aggregation.lookup_concurrency": 8,
		"aggregation.poll":               true,
		"aggregation.poll_interval":      "1m",
		"enrichment.catalog_url":         "http://localhost:8081",
		"enrichment.cache_capacity":      4096,
		"enrichment.timeout_seconds":     5,
		"settlement.billing_url":         "http://localhost:8082",
		"settlement.earnings_url":        "http://localhost:8083",
		"settlement.timeout_seconds":     10,
		"rate_cards.dir":                 "./config/ratecards",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("MEDIAMETER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MEDIAMETER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
