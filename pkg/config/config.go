// Package config loads and validates bookingest configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BOOKINGEST_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full bookingest configuration, shared by the api and worker
// binaries. Each binary only exercises the sections it needs.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// API configures the upload ingress HTTP server
	API APIConfig `mapstructure:"api" yaml:"api"`

	// MongoDB configures the durable store (tasks, events, reservations)
	MongoDB MongoConfig `mapstructure:"mongodb" yaml:"mongodb"`

	// Redis configures the upload-session cache
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// RabbitMQ configures the message bus
	RabbitMQ RabbitConfig `mapstructure:"rabbitmq" yaml:"rabbitmq"`

	// S3 configures the object store holding assembled spreadsheets
	S3 S3Config `mapstructure:"s3" yaml:"s3"`

	// Outbox configures the dispatcher cadence and claim batching
	Outbox OutboxConfig `mapstructure:"outbox" yaml:"outbox"`

	// Worker configures the task processor
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// APIConfig configures the upload ingress HTTP server.
type APIConfig struct {
	// Host is the listen address (empty binds all interfaces)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP listen port
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Env is the deployment environment label: development, staging, production
	Env string `mapstructure:"env" validate:"oneof=development staging production" yaml:"env"`

	// RootAPIKey authenticates upload and status requests.
	// Override: BOOKINGEST_API_ROOT_API_KEY
	RootAPIKey string `mapstructure:"root_api_key" validate:"required" yaml:"root_api_key"`

	// ReadTimeout bounds reading a full request, including the chunk body
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing a full response
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connection idleness
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxChunkBytes caps a single uploaded chunk body
	MaxChunkBytes int64 `mapstructure:"max_chunk_bytes" yaml:"max_chunk_bytes"`
}

// MongoConfig configures the durable document store.
//
// The deployment must be a replica set (or sharded cluster): the outbox
// dispatcher and the task processor rely on multi-document transactions.
type MongoConfig struct {
	// URL is the mongodb:// connection string
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// DBName is the database holding tasks, events and reservations
	DBName string `mapstructure:"db_name" validate:"required" yaml:"db_name"`

	// ConnectTimeout bounds the initial connect + ping
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// RedisConfig configures the upload-session cache.
type RedisConfig struct {
	// URL is the redis:// connection string
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// SessionTTL bounds how long an in-flight upload session may live
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

// RabbitConfig configures the AMQP message bus.
type RabbitConfig struct {
	// URL is the amqp:// connection string
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// Prefetch is the per-consumer in-flight message cap
	Prefetch int `mapstructure:"prefetch" yaml:"prefetch"`

	// ReconnectDelay is the wait between reconnection attempts
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// S3Config configures the object store.
type S3Config struct {
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required" yaml:"secret_access_key"`
	Region          string `mapstructure:"region" validate:"required" yaml:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores (MinIO etc.)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	BucketName string `mapstructure:"bucket_name" validate:"required" yaml:"bucket_name"`

	// ForcePathStyle is required by most S3-compatible stores
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// MaxRetries is the in-process retry budget for transient S3 errors
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryBaseDelay is the initial backoff before the first retry
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
}

// OutboxConfig configures the outbox dispatcher.
type OutboxConfig struct {
	// BatchSize bounds one claim sweep over NEW events
	BatchSize int `mapstructure:"batch_size" validate:"min=1" yaml:"batch_size"`

	// PublishInterval is the cadence of the publish tick
	PublishInterval time.Duration `mapstructure:"publish_interval" yaml:"publish_interval"`

	// RecoverInterval is the cadence of the stale-claim recovery tick
	RecoverInterval time.Duration `mapstructure:"recover_interval" yaml:"recover_interval"`

	// StaleAfter is the claim lease duration; PROCESSING events older than
	// this are handed back to NEW by recovery
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

// WorkerConfig configures the task processor.
type WorkerConfig struct {
	// BatchedUpserts selects the transaction shape for the row loop.
	// false: all reservation upserts plus finalization in one transaction.
	// true: validation first, upserts in short batched transactions, then
	// finalization in a final transaction. Duplicate upserts on redelivery
	// are safe either way.
	BatchedUpserts bool `mapstructure:"batched_upserts" yaml:"batched_upserts"`

	// UpsertBatchSize is the rows-per-transaction bound when BatchedUpserts
	// is enabled
	UpsertBatchSize int `mapstructure:"upsert_batch_size" yaml:"upsert_batch_size"`
}

// MetricsConfig contains Prometheus metrics server configuration.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the metrics HTTP listen port
	Port int `mapstructure:"port" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)

	// Environment-only overrides for secrets, honored even without a file
	applyEnvOverrides(v, &cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with user-friendly error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  bookingest init\n\n"+
				"Or specify a custom config file:\n"+
				"  bookingest <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  bookingest init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the API key and store credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search paths.
func setupViper(v *viper.Viper, configPath string) {
	// BOOKINGEST_LOGGING_LEVEL=DEBUG, BOOKINGEST_MONGODB_URL=..., etc.
	v.SetEnvPrefix("BOOKINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if present.
// Returns (fileFound, error); a missing file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides applies environment variables that must work even when
// no config file exists (secrets are commonly injected this way).
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	set := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	set("api.root_api_key", &cfg.API.RootAPIKey)
	set("mongodb.url", &cfg.MongoDB.URL)
	set("redis.url", &cfg.Redis.URL)
	set("rabbitmq.url", &cfg.RabbitMQ.URL)
	set("s3.access_key_id", &cfg.S3.AccessKeyID)
	set("s3.secret_access_key", &cfg.S3.SecretAccessKey)
	set("s3.endpoint", &cfg.S3.Endpoint)
	set("s3.bucket_name", &cfg.S3.BucketName)
	set("logging.level", &cfg.Logging.Level)
}

// configDecodeHooks returns the combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bookingest")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "bookingest")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
