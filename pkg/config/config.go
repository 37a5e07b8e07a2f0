package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for the medsearch sync jobs.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	DailyMed DailyMedConfig `yaml:"dailymed"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"medsearch"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"medsearch"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"PGMAX_CONN_IDLE_TIME" env-default:"30m"`
}

// RedisConfig holds the optional detail payload cache configuration.
// Leaving Host empty disables the cache.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"6h"`
}

// DailyMedConfig controls how the upstream feed is called.
type DailyMedConfig struct {
	BaseURL           string        `yaml:"base_url" env:"DAILYMED_BASE_URL" env-default:"https://dailymed.nlm.nih.gov/dailymed/services/v2/"`
	Format            string        `yaml:"format" env:"DAILYMED_FORMAT" env-default:"xml"`
	PageSize          int           `yaml:"page_size" env:"DAILYMED_PAGE_SIZE" env-default:"0"` // 0 leaves the upstream default
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"DAILYMED_REQUEST_TIMEOUT" env-default:"30s"`
	MaxRetries        int           `yaml:"max_retries" env:"DAILYMED_MAX_RETRIES" env-default:"2"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay" env:"DAILYMED_RETRY_INITIAL_DELAY" env-default:"500ms"`
}

// SyncConfig holds the pipeline tuning knobs.
type SyncConfig struct {
	// PublishedOverlapDays is subtracted from the newest known published date
	// so records written late upstream are still picked up.
	PublishedOverlapDays int `yaml:"published_overlap_days" env:"SYNC_PUBLISHED_OVERLAP_DAYS" env-default:"3"`
	DetailPageSize       int `yaml:"detail_page_size" env:"SYNC_DETAIL_PAGE_SIZE" env-default:"100"`
	DetailWorkers        int `yaml:"detail_workers" env:"SYNC_DETAIL_WORKERS" env-default:"1"`
	// MaxConsecutivePageFailures stops list pagination after this many pages
	// in a row could not be fetched or parsed.
	MaxConsecutivePageFailures int    `yaml:"max_consecutive_page_failures" env:"SYNC_MAX_CONSECUTIVE_PAGE_FAILURES" env-default:"3"`
	MigrationsPath             string `yaml:"migrations_path" env:"SYNC_MIGRATIONS_PATH" env-default:"migrations"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
	File       string `yaml:"file" env:"LOG_FILE" env-default:""`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"28"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:""`
}

// Load reads configuration from path with environment variable overrides.
// A missing file is not an error: defaults and environment variables apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.applyContainerHosts()

	return cfg, nil
}

// Validate checks values that cleanenv cannot express as tags.
func (c *Config) Validate() error {
	u, err := url.Parse(c.DailyMed.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("dailymed.base_url must be an absolute URL, got %q", c.DailyMed.BaseURL)
	}
	if c.DailyMed.Format != "xml" && c.DailyMed.Format != "json" {
		return fmt.Errorf("dailymed.format must be xml or json, got %q", c.DailyMed.Format)
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive")
	}
	if c.Database.MaxConnLifetime < 0 || c.Database.MaxConnIdleTime < 0 {
		return fmt.Errorf("database connection lifetimes must not be negative")
	}
	if c.DailyMed.MaxRetries < 0 {
		return fmt.Errorf("dailymed.max_retries must not be negative")
	}
	if c.Sync.DetailPageSize <= 0 {
		return fmt.Errorf("sync.detail_page_size must be positive")
	}
	if c.Sync.DetailWorkers <= 0 {
		return fmt.Errorf("sync.detail_workers must be positive")
	}
	if c.Sync.PublishedOverlapDays < 0 {
		return fmt.Errorf("sync.published_overlap_days must not be negative")
	}
	if c.Sync.MaxConsecutivePageFailures <= 0 {
		return fmt.Errorf("sync.max_consecutive_page_failures must be positive")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether the payload cache is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}
