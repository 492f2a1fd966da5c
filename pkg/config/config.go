// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem the pipeline talks to (Postgres, Kafka, Redis, the object store,
// the search service and the OCR engine).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Search      SearchConfig      `yaml:"search"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	OCR         OCRConfig         `yaml:"ocr"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists origins allowed to call the API from a browser. "*"
	// allows any origin; empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
	// WriteRateLimit caps mutating requests per client per minute. Zero
	// disables the limit.
	WriteRateLimit int `yaml:"writeRateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	Topics        KafkaTopics   `yaml:"topics"`
}

// KafkaTopics maps the pipeline's logical events to Kafka topic names.
type KafkaTopics struct {
	DocumentUploaded  string `yaml:"documentUploaded"`
	DocumentProcessed string `yaml:"documentProcessed"`
	DocumentFailed    string `yaml:"documentFailed"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ObjectStoreConfig points at an S3-compatible bucket (MinIO in development).
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
}

// IndexerConfig controls where the search service keeps index snapshots and
// how often it writes them.
type IndexerConfig struct {
	DataDir       string        `yaml:"dataDir"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// SearchConfig controls the query contract and how other services reach the
// search service.
type SearchConfig struct {
	IndexName          string        `yaml:"indexName"`
	DefaultLimit       int           `yaml:"defaultLimit"`
	MaxResults         int           `yaml:"maxResults"`
	NameBoost          float64       `yaml:"nameBoost"`
	MinimumShouldMatch float64       `yaml:"minimumShouldMatch"`
	SearcherURL        string        `yaml:"searcherUrl"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
}

// CoordinatorConfig tunes the ingestion sagas.
type CoordinatorConfig struct {
	IndexRetryAttempts  int           `yaml:"indexRetryAttempts"`
	IndexRetryDelay     time.Duration `yaml:"indexRetryDelay"`
	CompensationTimeout time.Duration `yaml:"compensationTimeout"`
	MaxUploadBytes      int64         `yaml:"maxUploadBytes"`
}

// WorkerConfig tunes the OCR consumer loop.
type WorkerConfig struct {
	Backoff time.Duration `yaml:"backoff"`
}

// OCRConfig configures the Tesseract engine.
type OCRConfig struct {
	Language     string        `yaml:"language"`
	TessdataPath string        `yaml:"tessdataPath"`
	DPI          int           `yaml:"dpi"`
	Timeout      time.Duration `yaml:"timeout"`
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
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config suitable for local development against the
// docker-compose stack.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "paperless",
			User:            "paperless",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ocr_worker",
			DialTimeout:   5 * time.Second,
			Topics: KafkaTopics{
				DocumentUploaded:  "document.uploaded",
				DocumentProcessed: "document.processed",
				DocumentFailed:    "document.processing.failed",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Bucket:          "documents",
			Region:          "us-east-1",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
		},
		Indexer: IndexerConfig{
			DataDir:       "data/index",
			FlushInterval: 30 * time.Second,
		},
		Search: SearchConfig{
			IndexName:          "paperless-documents",
			DefaultLimit:       20,
			MaxResults:         100,
			NameBoost:          2.0,
			MinimumShouldMatch: 0.75,
			SearcherURL:        "http://localhost:8080",
			RequestTimeout:     5 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			IndexRetryAttempts:  3,
			IndexRetryDelay:     200 * time.Millisecond,
			CompensationTimeout: 10 * time.Second,
			MaxUploadBytes:      50 << 20,
		},
		Worker: WorkerConfig{
			Backoff: 5 * time.Second,
		},
		OCR: OCRConfig{
			Language:     "eng",
			TessdataPath: "./tessdata",
			DPI:          300,
			Timeout:      2 * time.Minute,
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

// envPrefix namespaces every override, e.g. PP_POSTGRES_HOST.
const envPrefix = "PP_"

type envBinding struct {
	name  string
	apply func(cfg *Config, raw string) error
}

func bind[T any](name string, parse func(string) (T, error), field func(*Config) *T) envBinding {
	return envBinding{name: envPrefix + name, apply: func(cfg *Config, raw string) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*field(cfg) = v
		return nil
	}}
}

func str(s string) (string, error) { return s, nil }
func list(s string) ([]string, error) { return strings.Split(s, ","), nil }

var envBindings = []envBinding{
	bind("SERVER_PORT", strconv.Atoi, func(c *Config) *int { return &c.Server.Port }),
	bind("SERVER_CORS_ORIGINS", list, func(c *Config) *[]string { return &c.Server.CORSOrigins }),
	bind("SERVER_WRITE_RATE_LIMIT", strconv.Atoi, func(c *Config) *int { return &c.Server.WriteRateLimit }),
	bind("POSTGRES_HOST", str, func(c *Config) *string { return &c.Postgres.Host }),
	bind("POSTGRES_PORT", strconv.Atoi, func(c *Config) *int { return &c.Postgres.Port }),
	bind("POSTGRES_DATABASE", str, func(c *Config) *string { return &c.Postgres.Database }),
	bind("POSTGRES_USER", str, func(c *Config) *string { return &c.Postgres.User }),
	bind("POSTGRES_PASSWORD", str, func(c *Config) *string { return &c.Postgres.Password }),
	bind("POSTGRES_SSLMODE", str, func(c *Config) *string { return &c.Postgres.SSLMode }),
	bind("KAFKA_BROKERS", list, func(c *Config) *[]string { return &c.Kafka.Brokers }),
	bind("KAFKA_CONSUMER_GROUP", str, func(c *Config) *string { return &c.Kafka.ConsumerGroup }),
	bind("REDIS_ADDR", str, func(c *Config) *string { return &c.Redis.Addr }),
	bind("REDIS_PASSWORD", str, func(c *Config) *string { return &c.Redis.Password }),
	bind("REDIS_CACHE_TTL", time.ParseDuration, func(c *Config) *time.Duration { return &c.Redis.CacheTTL }),
	bind("OBJECTSTORE_ENDPOINT", str, func(c *Config) *string { return &c.ObjectStore.Endpoint }),
	bind("OBJECTSTORE_BUCKET", str, func(c *Config) *string { return &c.ObjectStore.Bucket }),
	bind("OBJECTSTORE_ACCESS_KEY_ID", str, func(c *Config) *string { return &c.ObjectStore.AccessKeyID }),
	bind("OBJECTSTORE_SECRET_ACCESS_KEY", str, func(c *Config) *string { return &c.ObjectStore.SecretAccessKey }),
	bind("OBJECTSTORE_USE_SSL", strconv.ParseBool, func(c *Config) *bool { return &c.ObjectStore.UseSSL }),
	bind("INDEXER_DATA_DIR", str, func(c *Config) *string { return &c.Indexer.DataDir }),
	bind("SEARCH_SEARCHER_URL", str, func(c *Config) *string { return &c.Search.SearcherURL }),
	bind("OCR_LANGUAGE", str, func(c *Config) *string { return &c.OCR.Language }),
	bind("OCR_TESSDATA_PATH", str, func(c *Config) *string { return &c.OCR.TessdataPath }),
	bind("OCR_TIMEOUT", time.ParseDuration, func(c *Config) *time.Duration { return &c.OCR.Timeout }),
	bind("WORKER_BACKOFF", time.ParseDuration, func(c *Config) *time.Duration { return &c.Worker.Backoff }),
	bind("LOGGING_LEVEL", str, func(c *Config) *string { return &c.Logging.Level }),
	bind("LOGGING_FORMAT", str, func(c *Config) *string { return &c.Logging.Format }),
	bind("METRICS_PORT", strconv.Atoi, func(c *Config) *int { return &c.Metrics.Port }),
}

// applyEnvOverrides copies set PP_* variables over cfg. A value that does
// not parse fails the load rather than being ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, b := range envBindings {
		raw, ok := os.LookupEnv(b.name)
		if !ok || raw == "" {
			continue
		}
		if err := b.apply(cfg, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", b.name, raw, err))
		}
	}
	return errors.Join(errs...)
}
