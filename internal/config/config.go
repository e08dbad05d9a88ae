// Package config loads fuel-index settings from config.yaml and FUELINDEX_* env vars.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/fuel-index/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Feed        FeedConfig        `yaml:"feed" mapstructure:"feed"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
}

// StoreConfig configures the Postgres connection pool.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Pool returns the pool sizing for db.Open.
func (s StoreConfig) Pool() db.PoolConfig {
	return db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FeedConfig describes the official price feed.
type FeedConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	Delimiter   string `yaml:"delimiter" mapstructure:"delimiter"`
}

// Timeout returns the download timeout.
func (f FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// IngestConfig tunes the diffing upsert engine.
type IngestConfig struct {
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	SourceTag string `yaml:"source_tag" mapstructure:"source_tag"`
}

// SearchConfig tunes the geospatial query engine.
type SearchConfig struct {
	DefaultRadiusKM float64 `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	MaxRadiusKM     float64 `yaml:"max_radius_km" mapstructure:"max_radius_km"`
	DefaultLimit    int     `yaml:"default_limit" mapstructure:"default_limit"`
	MaxLimit        int     `yaml:"max_limit" mapstructure:"max_limit"`
}

// ConsolidateConfig tunes official/crowd price consolidation.
type ConsolidateConfig struct {
	CrowdWindowDays int `yaml:"crowd_window_days" mapstructure:"crowd_window_days"`
	StaleAfterDays  int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	OfficialRowCap  int `yaml:"official_row_cap" mapstructure:"official_row_cap"`
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FUELINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.user_agent", "fuel-index/1.0")
	v.SetDefault("feed.timeout_secs", 120)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.delimiter", ",")
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.source_tag", "official_feed")
	v.SetDefault("search.default_radius_km", 10.0)
	v.SetDefault("search.max_radius_km", 25.0)
	v.SetDefault("search.default_limit", 50)
	v.SetDefault("search.max_limit", 200)
	v.SetDefault("consolidate.crowd_window_days", 5)
	v.SetDefault("consolidate.stale_after_days", 30)
	v.SetDefault("consolidate.official_row_cap", 5000)
	v.SetDefault("consolidate.cache_ttl_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Search.DefaultRadiusKM <= 0 || c.Search.MaxRadiusKM <= 0 {
		return eris.New("config: search radii must be positive")
	}
	if c.Search.DefaultRadiusKM > c.Search.MaxRadiusKM {
		return eris.Errorf("config: search.default_radius_km (%.1f) exceeds search.max_radius_km (%.1f)",
			c.Search.DefaultRadiusKM, c.Search.MaxRadiusKM)
	}
	if len([]rune(c.Feed.Delimiter)) != 1 {
		return eris.Errorf("config: feed.delimiter must be a single character, got %q", c.Feed.Delimiter)
	}
	return nil
}

// Validate checks the settings a command mode depends on.
// Modes: "sync", "serve", "migrate", "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "sync":
		if c.Ingest.ChunkSize <= 0 {
			errs = append(errs, "ingest.chunk_size must be > 0")
		}
		if c.Feed.MaxRetries < 1 {
			errs = append(errs, "feed.max_retries must be >= 1")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Consolidate.CrowdWindowDays <= 0 || c.Consolidate.StaleAfterDays <= 0 {
			errs = append(errs, "consolidate.crowd_window_days and consolidate.stale_after_days must be > 0")
		}
	case "migrate", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
