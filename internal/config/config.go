// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Finalizer FinalizerConfig `mapstructure:"finalizer"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig holds the default per-job crawl policy, applied when a job
// request leaves a knob unset.
type CrawlConfig struct {
	MaxPages       int    `mapstructure:"max_pages"`
	MaxDepth       int    `mapstructure:"max_depth"`
	Scope          string `mapstructure:"scope"`
	RequestDelayMs int    `mapstructure:"request_delay_ms"`
}

// FetchConfig configures the direct fetch path.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	UserAgent     string `mapstructure:"user_agent"`
}

// WorkersConfig sets pool sizes and queue buffering.
type WorkersConfig struct {
	Discovery   int `mapstructure:"discovery"`
	Processing  int `mapstructure:"processing"`
	QueueBuffer int `mapstructure:"queue_buffer"`
}

// DedupConfig controls content-change detection scoping.
type DedupConfig struct {
	// Global shares hashes across jobs instead of per job.
	Global bool `mapstructure:"global"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	// Backend is one of memory, local, gcs.
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the Postgres store; an empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// QueueConfig selects the queue backend, one of memory or pubsub.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig names the Pub/Sub resources used when the queue backend or
// event publishing runs on Google Cloud.
type PubSubConfig struct {
	ProjectID              string `mapstructure:"project_id"`
	DiscoveryTopic         string `mapstructure:"discovery_topic"`
	DiscoverySubscription  string `mapstructure:"discovery_subscription"`
	ProcessingTopic        string `mapstructure:"processing_topic"`
	ProcessingSubscription string `mapstructure:"processing_subscription"`
	ContentTopic           string `mapstructure:"content_topic"`
	JobsTopic              string `mapstructure:"jobs_topic"`
}

// FinalizerConfig controls the completion sweeper.
type FinalizerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBHARVEST")
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
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("crawl.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawl.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("crawl.scope", string(crawler.ScopeHostname))
	v.SetDefault("crawl.request_delay_ms", crawler.DefaultRequestDelayMs)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.user_agent", "webharvest/1.0")
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("workers.discovery", 4)
	v.SetDefault("workers.processing", 4)
	v.SetDefault("workers.queue_buffer", 1024)
	v.SetDefault("dedup.global", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "jobs")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("pubsub.discovery_topic", "webharvest-discovery")
	v.SetDefault("pubsub.discovery_subscription", "webharvest-discovery-sub")
	v.SetDefault("pubsub.processing_topic", "webharvest-processing")
	v.SetDefault("pubsub.processing_subscription", "webharvest-processing-sub")
	v.SetDefault("pubsub.content_topic", "webharvest-content")
	v.SetDefault("pubsub.jobs_topic", "webharvest-jobs")
	v.SetDefault("finalizer.interval_seconds", 5)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Discovery <= 0 || c.Workers.Processing <= 0 {
		return fmt.Errorf("workers.discovery and workers.processing must be > 0")
	}
	if !crawler.Scope(c.Crawl.Scope).Valid() {
		return fmt.Errorf("crawl.scope must be one of subpages, hostname, domain")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("queue.backend must be one of memory, pubsub")
	}
	return nil
}

// DefaultScrapeConfig converts the crawl section into per-job defaults.
func (c Config) DefaultScrapeConfig() crawler.ScrapeConfig {
	return crawler.ScrapeConfig{
		MaxPages:       c.Crawl.MaxPages,
		MaxDepth:       c.Crawl.MaxDepth,
		Scope:          crawler.Scope(c.Crawl.Scope),
		RequestDelayMs: c.Crawl.RequestDelayMs,
	}
}

// FetchTimeout returns the direct fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FinalizerInterval returns the sweep cadence as a duration.
func (c Config) FinalizerInterval() time.Duration {
	return time.Duration(c.Finalizer.IntervalSeconds) * time.Second
}
