// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jobrunner/geosource/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. GEOSOURCE_SERVER_PORT.
const EnvPrefix = "GEOSOURCE"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Storage    StorageConfig    `mapstructure:"storage"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"` // Per-request deadline for source lookups
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// SourcesConfig points at the source definitions file.
type SourcesConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"` // Reload sources when the file or a dataset changes
}

// ProjectionConfig selects the projection engine.
type ProjectionConfig struct {
	Engine string `mapstructure:"engine"` // builtin, spatialite
}

// Projection engines.
const (
	EngineBuiltin    = "builtin"
	EngineSpatiaLite = "spatialite"
)

// StorageConfig holds dataset storage configuration.
type StorageConfig struct {
	Type         string        `mapstructure:"type"`       // s3, azure, http, local
	LocalPath    string        `mapstructure:"local_path"` // Dataset directory of the local backend
	DataDir      string        `mapstructure:"data_dir"`   // Download directory of the remote backends
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	S3           S3Config      `mapstructure:"s3"`
	Azure        AzureConfig   `mapstructure:"azure"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// IsRemote returns true if datasets are downloaded from a remote backend.
func (c *StorageConfig) IsRemote() bool {
	return c.Type != "local"
}

// DataPath returns the directory holding the dataset files sources read.
func (c *StorageConfig) DataPath() string {
	if c.IsRemote() {
		return c.DataDir
	}
	return c.LocalPath
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS settings for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Exporter    string `mapstructure:"exporter"` // stdout, none
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.query_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.frontend_enabled", false)
	v.SetDefault("server.cors.allowed_origins", []string{})

	// Sources defaults
	v.SetDefault("sources.file", "./sources.yaml")
	v.SetDefault("sources.watch", true)

	v.SetDefault("projection.engine", EngineBuiltin)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sync_interval", 5*time.Minute)
	v.SetDefault("storage.http.index_file", "index.txt")
	v.SetDefault("storage.http.timeout", 5*time.Minute)

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cache_dir", "./.certmagic")
	v.SetDefault("tls.staging", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.service_name", "geosource")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Option customizes the viper instance used by Load.
type Option func(*viper.Viper) error

// WithFlag lets a command-line flag override the configuration key when the
// flag was set explicitly.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		return v.BindPFlag(key, flag)
	}
}

// Load loads configuration from flags, environment and config file, in that
// order of precedence.
func Load(configPath string, opts ...Option) (*Config, error) {
	v := viper.New()
	Defaults(v)

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	// Environment variable binding
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/geosource")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "invalid server port: %d", c.Server.Port)
	}

	switch c.Projection.Engine {
	case EngineBuiltin, EngineSpatiaLite:
	default:
		return invalid("projection.engine", "unknown projection engine: %s", c.Projection.Engine)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", "TLS enabled but no email specified")
		}
	}

	switch c.Tracing.Exporter {
	case "stdout", "none", "":
	default:
		return invalid("tracing.exporter", "unknown trace exporter: %s", c.Tracing.Exporter)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("logging.format", "unknown log format: %s", c.Logging.Format)
	}

	return c.Storage.validate()
}

func (c *StorageConfig) validate() error {
	switch c.Type {
	case "local":
		if c.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
		return nil
	case "s3":
		if c.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if c.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if c.Azure.AccountName == "" && c.Azure.ConnectionString == "" {
			return invalid("storage.azure.account_name", "azure account name or connection string is required")
		}
	case "http":
		if c.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type: %s", c.Type)
	}

	if c.DataDir == "" {
		return invalid("storage.data_dir", "data directory is required for remote storage")
	}
	if c.SyncInterval <= 0 {
		return invalid("storage.sync_interval", "sync interval must be positive")
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
