// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Scraper      ScraperConfig      `mapstructure:"scraper"`
	Checker      CheckerConfig      `mapstructure:"checker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Mirror       MirrorConfig       `mapstructure:"mirror"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the browser-driven scrapers. When Enabled is false
// the scrape endpoints answer with a not-available payload, for deployments
// without a Chrome-capable runtime.
type ScraperConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Static         bool   `mapstructure:"static"`
	UserAgent      string `mapstructure:"user_agent"`
	WaitTimeoutSec int    `mapstructure:"wait_timeout_seconds"`
	SettleDelayMs  int    `mapstructure:"settle_delay_ms"`
}

// CheckerConfig bounds the image liveness probe.
type CheckerConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// OrchestratorConfig controls batch pacing.
type OrchestratorConfig struct {
	ItemDelayMs int `mapstructure:"item_delay_ms"`
}

// JobsConfig controls the job registry. A non-empty DSN selects the Postgres
// store; otherwise jobs live in memory with the configured expiry.
type JobsConfig struct {
	DSN          string `mapstructure:"dsn"`
	TTLMinutes   int    `mapstructure:"ttl_minutes"`
	SweepMinutes int    `mapstructure:"sweep_minutes"`
}

// MirrorConfig controls re-homing of found images into blob storage.
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// PubSubConfig holds metadata for completion event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMGSCRAPER")
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
	v.SetDefault("server.port", 3001)
	v.SetDefault("scraper.enabled", true)
	v.SetDefault("scraper.static", false)
	v.SetDefault("scraper.user_agent", "ferregold-image-scraper/1.0")
	v.SetDefault("scraper.wait_timeout_seconds", 10)
	v.SetDefault("scraper.settle_delay_ms", 2000)
	v.SetDefault("checker.timeout_seconds", 10)
	v.SetDefault("orchestrator.item_delay_ms", 1000)
	v.SetDefault("jobs.ttl_minutes", 30)
	v.SetDefault("jobs.sweep_minutes", 5)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.backend", "local")
	v.SetDefault("mirror.base_dir", "data/images")
	v.SetDefault("mirror.prefix", "images")
	v.SetDefault("mirror.max_bytes", 10*1024*1024)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.WaitTimeoutSec <= 0 {
		return fmt.Errorf("scraper.wait_timeout_seconds must be > 0")
	}
	if c.Checker.TimeoutSeconds <= 0 {
		return fmt.Errorf("checker.timeout_seconds must be > 0")
	}
	if c.Orchestrator.ItemDelayMs < 0 {
		return fmt.Errorf("orchestrator.item_delay_ms must be >= 0")
	}
	if c.Jobs.TTLMinutes < 0 || c.Jobs.SweepMinutes < 0 {
		return fmt.Errorf("jobs.ttl_minutes and jobs.sweep_minutes must be >= 0")
	}
	if c.Mirror.Enabled {
		switch c.Mirror.Backend {
		case "memory":
		case "local":
			if strings.TrimSpace(c.Mirror.BaseDir) == "" {
				return fmt.Errorf("mirror.base_dir must be set for the local backend")
			}
		case "gcs":
			if c.Mirror.GCSBucket == "" {
				return fmt.Errorf("mirror.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("mirror.backend must be one of memory, local, gcs")
		}
	}
	return nil
}

// WaitTimeout returns the element-wait budget as a duration.
func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.Scraper.WaitTimeoutSec) * time.Second
}

// SettleDelay returns the fallback page settle delay as a duration.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Scraper.SettleDelayMs) * time.Millisecond
}

// ItemDelay returns the inter-item pacing delay as a duration.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Orchestrator.ItemDelayMs) * time.Millisecond
}

// CheckerTimeout returns the liveness probe budget as a duration.
func (c Config) CheckerTimeout() time.Duration {
	return time.Duration(c.Checker.TimeoutSeconds) * time.Second
}

// JobTTL returns the terminal-job expiry; zero disables expiry.
func (c Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLMinutes) * time.Minute
}

// SweepInterval returns the janitor cadence; zero disables the janitor.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepMinutes) * time.Minute
}
