// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Engines   map[string]EngineConfig `mapstructure:"engines"`
	Retry     RetryConfig             `mapstructure:"retry"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Headless  HeadlessConfig          `mapstructure:"headless"`
	Crawl     CrawlConfig             `mapstructure:"crawl"`
	Search    SearchConfig            `mapstructure:"search"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Database  DatabaseConfig          `mapstructure:"database"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Billing   BillingConfig           `mapstructure:"billing"`
	Events    EventsConfig            `mapstructure:"events"`
	Retention RetentionConfig         `mapstructure:"retention"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	SyncWaitTimeoutSec int `mapstructure:"sync_wait_timeout_seconds"`
	RequestTimeoutSec  int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// EngineConfig bounds one engine's worker pool. Violating 1 <= min <= max or
// queue_size >= 1 fails at startup, never silently clamps.
type EngineConfig struct {
	MinConcurrency int `mapstructure:"min_concurrency"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
	QueueSize      int `mapstructure:"queue_size"`
}

// RetryConfig governs the failure handler.
type RetryConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HTTPConfig configures the plain-HTTP (cheerio) fetch engine.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the browser-backed fetch engines.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	RespectRobots bool `mapstructure:"respect_robots"`
}

// CrawlConfig supplies defaults for crawl submissions that omit options.
type CrawlConfig struct {
	MaxDepthDefault int    `mapstructure:"max_depth_default"`
	LimitDefault    int    `mapstructure:"limit_default"`
	StrategyDefault string `mapstructure:"strategy_default"`
}

// SearchConfig selects and tunes the search provider.
type SearchConfig struct {
	Provider    string `mapstructure:"provider"`
	Parallelism int    `mapstructure:"parallelism"`
	PageSize    int    `mapstructure:"page_size"`
	BaseURL     string `mapstructure:"base_url"`
}

// RateLimitConfig tunes per-domain politeness.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// StorageConfig selects the blob backend for raw HTML snapshots.
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Bucket      string      `mapstructure:"bucket"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	StoreRaw    bool        `mapstructure:"store_raw"`
	Local       LocalConfig `mapstructure:"local"`
}

// LocalConfig configures the filesystem blob backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BillingConfig controls the credit ledger. RequireBalance enables the
// pre-check; with it disabled a debit may drive a balance negative, which is
// the intended fire-and-forget contract.
type BillingConfig struct {
	AccountID      string `mapstructure:"account_id"`
	CostPerUnit    int64  `mapstructure:"cost_per_unit"`
	RequireBalance bool   `mapstructure:"require_balance"`
	InitialBalance int64  `mapstructure:"initial_balance"`
}

// EventsConfig tunes the terminal-event hub.
type EventsConfig struct {
	BufferSize    int              `mapstructure:"buffer_size"`
	Batch         EventBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int              `mapstructure:"sink_timeout_ms"`
	LogEnabled    bool             `mapstructure:"log_enabled"`
}

// EventBatchConfig bounds hub flushing.
type EventBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// RetentionConfig derives job expiry from kind. Crawl roots live longer than
// unit jobs so their aggregated results stay readable.
type RetentionConfig struct {
	UnitTTLHours int `mapstructure:"unit_ttl_hours"`
	RootTTLHours int `mapstructure:"root_ttl_hours"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANYCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.sync_wait_timeout_seconds", 30)
	v.SetDefault("server.request_timeout_seconds", 60)

	v.SetDefault("logging.development", false)

	v.SetDefault("engines.cheerio.min_concurrency", 2)
	v.SetDefault("engines.cheerio.max_concurrency", 8)
	v.SetDefault("engines.cheerio.queue_size", 256)
	v.SetDefault("engines.playwright.min_concurrency", 1)
	v.SetDefault("engines.playwright.max_concurrency", 2)
	v.SetDefault("engines.playwright.queue_size", 64)
	v.SetDefault("engines.puppeteer.min_concurrency", 1)
	v.SetDefault("engines.puppeteer.max_concurrency", 2)
	v.SetDefault("engines.puppeteer.queue_size", 64)

	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)

	v.SetDefault("http.user_agent", "anycrawl-bot/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.respect_robots", true)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.respect_robots", true)

	v.SetDefault("crawl.max_depth_default", 2)
	v.SetDefault("crawl.limit_default", 100)
	v.SetDefault("crawl.strategy_default", string(job.StrategySameDomain))

	v.SetDefault("search.provider", "google")
	v.SetDefault("search.parallelism", 3)
	v.SetDefault("search.page_size", 10)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 2)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.store_raw", false)
	v.SetDefault("storage.local.base_dir", "./data/blobs")

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("billing.account_id", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("billing.cost_per_unit", 1)
	v.SetDefault("billing.require_balance", false)
	v.SetDefault("billing.initial_balance", 1000)

	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.batch.max_events", 256)
	v.SetDefault("events.batch.max_wait_ms", 250)
	v.SetDefault("events.sink_timeout_ms", 10000)
	v.SetDefault("events.log_enabled", true)

	v.SetDefault("retention.unit_ttl_hours", 24)
	v.SetDefault("retention.root_ttl_hours", 168)
}

// Validate enforces required values and bounds. Violations surface at startup
// wrapped in job.ErrInvalidConfig and are never retried.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("%w: server.port must be > 0", job.ErrInvalidConfig)
	}
	if c.Server.SyncWaitTimeoutSec <= 0 {
		return fmt.Errorf("%w: server.sync_wait_timeout_seconds must be > 0", job.ErrInvalidConfig)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("%w: auth.api_key must be set when auth is enabled", job.ErrInvalidConfig)
	}
	if len(c.Engines) == 0 {
		return fmt.Errorf("%w: at least one engine must be configured", job.ErrInvalidConfig)
	}
	for name, ec := range c.Engines {
		if _, err := job.ParseEngine(name); err != nil {
			return fmt.Errorf("%w: engines.%s is not a registered engine", job.ErrInvalidConfig, name)
		}
		if ec.MinConcurrency < 1 {
			return fmt.Errorf("%w: engines.%s.min_concurrency must be >= 1", job.ErrInvalidConfig, name)
		}
		if ec.MaxConcurrency < ec.MinConcurrency {
			return fmt.Errorf("%w: engines.%s.max_concurrency must be >= min_concurrency", job.ErrInvalidConfig, name)
		}
		if ec.QueueSize < 1 {
			return fmt.Errorf("%w: engines.%s.queue_size must be >= 1", job.ErrInvalidConfig, name)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: retry.max_retries must be >= 0", job.ErrInvalidConfig)
	}
	if c.Retry.BackoffInitialMs <= 0 || c.Retry.BackoffMaxMs < c.Retry.BackoffInitialMs {
		return fmt.Errorf("%w: retry backoff bounds are invalid", job.ErrInvalidConfig)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be > 0", job.ErrInvalidConfig)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: http.max_body_bytes must be > 0", job.ErrInvalidConfig)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("%w: headless.max_parallel must be > 0 when headless is enabled", job.ErrInvalidConfig)
	}
	if c.Crawl.MaxDepthDefault < 0 {
		return fmt.Errorf("%w: crawl.max_depth_default must be >= 0", job.ErrInvalidConfig)
	}
	if c.Crawl.LimitDefault < 1 {
		return fmt.Errorf("%w: crawl.limit_default must be >= 1", job.ErrInvalidConfig)
	}
	switch job.Strategy(c.Crawl.StrategyDefault) {
	case job.StrategyAll, job.StrategySameDomain, job.StrategySameHost:
	default:
		return fmt.Errorf("%w: crawl.strategy_default %q is not a known strategy", job.ErrInvalidConfig, c.Crawl.StrategyDefault)
	}
	if c.Search.Parallelism < 1 {
		return fmt.Errorf("%w: search.parallelism must be >= 1", job.ErrInvalidConfig)
	}
	if c.Search.PageSize < 1 {
		return fmt.Errorf("%w: search.page_size must be >= 1", job.ErrInvalidConfig)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("%w: storage.bucket is required for the gcs backend", job.ErrInvalidConfig)
	}
	if _, err := uuid.Parse(c.Billing.AccountID); err != nil {
		return fmt.Errorf("%w: billing.account_id must be a UUID", job.ErrInvalidConfig)
	}
	if c.Billing.CostPerUnit < 0 {
		return fmt.Errorf("%w: billing.cost_per_unit must be >= 0", job.ErrInvalidConfig)
	}
	if c.Retention.UnitTTLHours <= 0 || c.Retention.RootTTLHours <= 0 {
		return fmt.Errorf("%w: retention TTLs must be > 0", job.ErrInvalidConfig)
	}
	return nil
}

// AccountID returns the configured billing account. Validate guarantees it
// parses.
func (c Config) AccountID() uuid.UUID {
	id, _ := uuid.Parse(c.Billing.AccountID)
	return id
}

// SyncWaitTimeout is how long synchronous submissions block for a terminal
// state before returning the job as-is.
func (c Config) SyncWaitTimeout() time.Duration {
	return time.Duration(c.Server.SyncWaitTimeoutSec) * time.Second
}

// JobRetention converts retention hours into the job-kind TTL table.
func (c Config) JobRetention() job.Retention {
	return job.Retention{
		Unit: time.Duration(c.Retention.UnitTTLHours) * time.Hour,
		Root: time.Duration(c.Retention.RootTTLHours) * time.Hour,
	}
}
