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
	Server    ServerConfig    `mapstructure:"server"`
	DocCache  DocCacheConfig  `mapstructure:"doccache"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP surface (health, metrics, trigger).
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DocCacheConfig governs batch selection and fan-out.
type DocCacheConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	ArchivePrefix   string        `mapstructure:"archive_prefix"`
}

// HTTPConfig configures the outbound fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// DatabaseConfig controls access to the document store.
type DatabaseConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the optional content archive backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PublisherConfig holds metadata for outcome-event publishing.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SchedulerConfig controls the periodic caching pass.
type SchedulerConfig struct {
	CronSpec    string        `mapstructure:"cron_spec"`
	PassTimeout time.Duration `mapstructure:"pass_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults registers default values on the provided Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("doccache.batch_size", 10)
	v.SetDefault("doccache.max_concurrent", 8)
	v.SetDefault("doccache.staleness_window", time.Hour)
	v.SetDefault("doccache.archive_prefix", "docs")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "docstash-cache/1.0")
	v.SetDefault("database.provider", "memory")
	v.SetDefault("database.table", "document_meta")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("scheduler.cron_spec", "*/10 * * * *")
	v.SetDefault("scheduler.pass_timeout", 5*time.Minute)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DocCache.BatchSize <= 0 {
		return fmt.Errorf("doccache.batch_size must be > 0")
	}
	if c.DocCache.MaxConcurrent <= 0 {
		return fmt.Errorf("doccache.max_concurrent must be > 0")
	}
	if c.DocCache.StalenessWindow <= 0 {
		return fmt.Errorf("doccache.staleness_window must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Database.Provider == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when database.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
	}
	if c.Scheduler.PassTimeout <= 0 {
		return fmt.Errorf("scheduler.pass_timeout must be > 0")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
