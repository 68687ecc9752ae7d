// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/arb-appeal-extractor/internal/site"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Site     SiteConfig     `mapstructure:"site"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig points at the appeals status site and paces searches against it.
type SiteConfig struct {
	URL               string   `mapstructure:"url"`
	Version           string   `mapstructure:"version"`
	TitleKeywords     []string `mapstructure:"title_keywords"`
	SearchesPerMinute float64  `mapstructure:"searches_per_minute"`
	Burst             int      `mapstructure:"burst"`
	ProbeTimeoutSec   int      `mapstructure:"probe_timeout_seconds"`
	// Selectors overrides individual selectors of the site version's layout.
	Selectors site.Layout `mapstructure:"selectors"`
}

// BrowserConfig configures the browser session and form waits.
type BrowserConfig struct {
	Engine            string `mapstructure:"engine"`
	Headless          bool   `mapstructure:"headless"`
	ExecPath          string `mapstructure:"exec_path"`
	UserAgent         string `mapstructure:"user_agent"`
	ViewportWidth     int    `mapstructure:"viewport_width"`
	ViewportHeight    int    `mapstructure:"viewport_height"`
	IgnoreCertErrors  bool   `mapstructure:"ignore_cert_errors"`
	LaunchTimeoutSec  int    `mapstructure:"launch_timeout_seconds"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	NavRetries        int    `mapstructure:"nav_retries"`
	FieldTimeoutSec   int    `mapstructure:"field_timeout_seconds"`
	SearchTimeoutSec  int    `mapstructure:"search_timeout_seconds"`
}

// StorageConfig selects where per-roll-number output files go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
}

// DatabaseConfig selects the result store. An empty driver keeps results in
// memory.
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	LogEnabled     bool `mapstructure:"log_enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutMs  int  `mapstructure:"sink_timeout_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Database drivers.
const (
	DriverMemory   = ""
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARB")
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
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("site.url", "")
	v.SetDefault("site.version", "estatus-v1")
	v.SetDefault("site.title_keywords", []string{"E-Status", "ARB", "Appeals"})
	v.SetDefault("site.searches_per_minute", 20)
	v.SetDefault("site.burst", 1)
	v.SetDefault("site.probe_timeout_seconds", 10)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1600)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.ignore_cert_errors", true)
	v.SetDefault("browser.launch_timeout_seconds", 60)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.nav_retries", 1)
	v.SetDefault("browser.field_timeout_seconds", 10)
	v.SetDefault("browser.search_timeout_seconds", 30)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.base_dir", "data/results")
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_seconds", 1800)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := validateSiteURL(c.Site.URL); err != nil {
		return err
	}
	if c.Site.SearchesPerMinute < 0 {
		return fmt.Errorf("site.searches_per_minute must be >= 0")
	}
	switch c.Browser.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineChromedp, EngineRod, c.Browser.Engine)
	}
	if c.Browser.SearchTimeoutSec <= 0 {
		return fmt.Errorf("browser.search_timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

func validateSiteURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("site.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

// ShutdownTimeout is how long serve waits for the running batch on exit.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

// ProbeTimeout bounds the site reachability probe.
func (c Config) ProbeTimeout() time.Duration {
	return seconds(c.Site.ProbeTimeoutSec)
}

// MaxConnLifetime converts the pool lifetime to a duration.
func (c Config) MaxConnLifetime() time.Duration {
	return seconds(c.Database.MaxConnLifetimeSec)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
