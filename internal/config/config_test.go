package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parchment-ai/webharvest/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, "memory", cfg.Queue.Backend)
	require.Equal(t, crawler.DefaultMaxPages, cfg.Crawl.MaxPages)
	require.Equal(t, string(crawler.ScopeHostname), cfg.Crawl.Scope)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, 5*time.Second, cfg.FinalizerInterval())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawl:
  max_pages: 50
  max_depth: 5
  scope: domain
  request_delay_ms: 250
fetch:
  timeout_seconds: 45
  user_agent: harvest-agent
headless:
  enabled: true
  max_parallel: 3
workers:
  discovery: 8
  processing: 8
dedup:
  global: true
storage:
  backend: local
  base_dir: /tmp/webharvest
queue:
  backend: pubsub
pubsub:
  project_id: demo-project
  discovery_topic: disc
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 50, cfg.Crawl.MaxPages)
	require.Equal(t, "domain", cfg.Crawl.Scope)
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
	require.Equal(t, "harvest-agent", cfg.Fetch.UserAgent)
	require.Equal(t, 8, cfg.Workers.Discovery)
	require.True(t, cfg.Dedup.Global)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "pubsub", cfg.Queue.Backend)
	require.Equal(t, "demo-project", cfg.PubSub.ProjectID)
	require.Equal(t, "disc", cfg.PubSub.DiscoveryTopic)
	// Unset pubsub names keep their defaults.
	require.Equal(t, "webharvest-processing", cfg.PubSub.ProcessingTopic)

	sc := cfg.DefaultScrapeConfig()
	require.Equal(t, crawler.ScopeDomain, sc.Scope)
	require.Equal(t, 250, sc.RequestDelayMs)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawl:   CrawlConfig{Scope: "hostname"},
		Fetch:   FetchConfig{TimeoutSeconds: 10},
		Workers: WorkersConfig{Discovery: 1, Processing: 1},
		Storage: StorageConfig{Backend: "memory"},
		Queue:   QueueConfig{Backend: "memory"},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no workers", func(c *Config) { c.Workers.Discovery = 0 }, "workers.discovery"},
		{"bad scope", func(c *Config) { c.Crawl.Scope = "galaxy" }, "crawl.scope"},
		{"invalid timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"local storage missing dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.base_dir"},
		{"gcs storage missing bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"pubsub missing project", func(c *Config) { c.Queue.Backend = "pubsub" }, "pubsub.project_id"},
		{"unknown queue backend", func(c *Config) { c.Queue.Backend = "sqs" }, "queue.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorContains(t, err, tt.want)
		})
	}
}
