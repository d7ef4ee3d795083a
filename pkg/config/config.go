// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Stream, Storage, Pipeline, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Stream   StreamConfig   `yaml:"stream"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the ingestion service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MetadataSchema  string        `yaml:"metadataSchema"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the event stream broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// StreamConfig controls stream keys, consumer-group identity, polling, and
// the retry/dead-letter policy.
type StreamConfig struct {
	StreamKey       string        `yaml:"streamKey"`
	DLQStreamKey    string        `yaml:"dlqStreamKey"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	ConsumerName    string        `yaml:"consumerName"`
	BlockTimeout    time.Duration `yaml:"blockTimeout"`
	BatchSize       int64         `yaml:"batchSize"`
	MaxLen          int64         `yaml:"maxLen"`
	MaxRetryCount   int           `yaml:"maxRetryCount"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffCap      time.Duration `yaml:"backoffCap"`
	PublishRequired bool          `yaml:"publishRequired"`
}

// StorageConfig selects and configures the raw object store backend.
// Backend is "local" (data-lake directory on disk) or "s3" (MinIO/S3).
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	Root      string `yaml:"root"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// PipelineConfig controls the transformation target table and the
// source-column to target-column mapping handed to the row decoder.
type PipelineConfig struct {
	TargetSchema  string            `yaml:"targetSchema"`
	TargetTable   string            `yaml:"targetTable"`
	ColumnMapping map[string]string `yaml:"columnMapping"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values. The stream consumer name, which must be unique per running
// worker process, is generated when not configured.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if cfg.Stream.ConsumerName == "" {
		cfg.Stream.ConsumerName = "processing-" + uuid.NewString()[:8]
	}
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  60 * time.Second,
			MaxUploadBytes:  256 << 20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "flowsight",
			User:            "flowsight",
			Password:        "localdev",
			SSLMode:         "disable",
			MetadataSchema:  "ingestion",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Stream: StreamConfig{
			StreamKey:     "dataset.events",
			DLQStreamKey:  "dataset.events.dlq",
			ConsumerGroup: "processing-group",
			BlockTimeout:  5 * time.Second,
			BatchSize:     10,
			MaxLen:        100000,
			MaxRetryCount: 3,
			BackoffBase:   2 * time.Second,
			BackoffCap:    60 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "local",
			Root:    "./data-lake",
			Bucket:  "data-lake",
		},
		Pipeline: PipelineConfig{
			TargetSchema: "ods",
			TargetTable:  "ods_dataset_rows",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FS_STREAM_KEY"); v != "" {
		cfg.Stream.StreamKey = v
	}
	if v := os.Getenv("FS_STREAM_DLQ_KEY"); v != "" {
		cfg.Stream.DLQStreamKey = v
	}
	if v := os.Getenv("FS_STREAM_CONSUMER_GROUP"); v != "" {
		cfg.Stream.ConsumerGroup = v
	}
	if v := os.Getenv("FS_STREAM_CONSUMER_NAME"); v != "" {
		cfg.Stream.ConsumerName = v
	}
	if v := os.Getenv("FS_STREAM_MAX_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxRetryCount = n
		}
	}
	if v := os.Getenv("FS_STREAM_PUBLISH_REQUIRED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Stream.PublishRequired = b
		}
	}
	if v := os.Getenv("FS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("FS_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("FS_STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("FS_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("FS_STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("FS_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("FS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
