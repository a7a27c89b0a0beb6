// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bigwebarchive/archiver/internal/chain"
	"github.com/bigwebarchive/archiver/internal/renderer"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	ObjectNet ObjectNetConfig `mapstructure:"objectnet"`
	Chain     chain.Config    `mapstructure:"chain"`
	Renderer  renderer.Config `mapstructure:"renderer"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig sets the local staging directories.
type StorageConfig struct {
	// JobsDir holds the persistent job records.
	JobsDir string `mapstructure:"jobs_dir"`
	// DataDir holds capture working directories and the retrieval cache.
	DataDir string `mapstructure:"data_dir"`
}

// ObjectNetConfig selects and configures the bundle store backend.
type ObjectNetConfig struct {
	// Provider is one of "minio", "gcs", or "memory".
	Provider string `mapstructure:"provider"`

	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`

	// GCSBucket is used when Provider is "gcs".
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PipelineConfig governs capture execution.
type PipelineConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// DBConfig controls the optional Postgres manifest history mirror.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for completion-event notifications.
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
	v.SetEnvPrefix("ARCHIVER")
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
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("storage.jobs_dir", "data/jobs")
	v.SetDefault("storage.data_dir", "data/archive")
	v.SetDefault("objectnet.provider", "minio")
	v.SetDefault("objectnet.endpoint", "localhost:9000")
	v.SetDefault("objectnet.use_ssl", false)
	v.SetDefault("objectnet.bucket", "web-archive")
	v.SetDefault("chain.service", "web-archive")
	v.SetDefault("chain.name", "pages")
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("renderer.user_agent", "big-web-archive-bot/1.0")
	v.SetDefault("renderer.nav_timeout", "30s")
	v.SetDefault("renderer.max_parallel", 2)
	v.SetDefault("renderer.domain_qps", 0.5)
	v.SetDefault("renderer.resource_timeout", "10s")
	v.SetDefault("renderer.max_resources", 100)
	v.SetDefault("pipeline.parallelism", 2)
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Storage.JobsDir == "" {
		return fmt.Errorf("storage.jobs_dir is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Chain.Service == "" || c.Chain.Name == "" {
		return fmt.Errorf("chain.service and chain.name are required")
	}
	if c.Pipeline.Parallelism <= 0 {
		return fmt.Errorf("pipeline.parallelism must be > 0")
	}
	switch c.ObjectNet.Provider {
	case "minio":
		if c.ObjectNet.Endpoint == "" || c.ObjectNet.Bucket == "" {
			return fmt.Errorf("objectnet.endpoint and objectnet.bucket are required for minio")
		}
	case "gcs":
		if c.ObjectNet.GCSBucket == "" {
			return fmt.Errorf("objectnet.gcs_bucket is required for gcs")
		}
	case "memory":
	default:
		return fmt.Errorf("objectnet.provider must be minio, gcs, or memory")
	}
	return nil
}
