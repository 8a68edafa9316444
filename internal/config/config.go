// Package config loads tradepost settings from .tradepost.yaml, TRADEPOST_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// S3Config holds the bucket settings used when storage.driver is s3.
// Credentials come from the default AWS chain unless both keys are set.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// StorageConfig selects the document backend.
type StorageConfig struct {
	Driver      string   `mapstructure:"driver"`
	SQLitePath  string   `mapstructure:"sqlite_path"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
	S3          S3Config `mapstructure:"s3"`
}

// Config holds all runtime configuration.
type Config struct {
	DataDir       string        `mapstructure:"data_dir"`
	SourceDir     string        `mapstructure:"source_dir"`
	Storage       StorageConfig `mapstructure:"storage"`
	Metrics       string        `mapstructure:"metrics"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	Tracing       string        `mapstructure:"tracing"`
	OTLPEndpoint  string        `mapstructure:"otlp_endpoint"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	NoticesPath   string        `mapstructure:"notices_path"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

var (
	storageDrivers = []string{"fs", "memory", "s3", "sqlite", "postgres"}
	metricsKinds   = []string{"none", "expvar", "prometheus"}
	tracingKinds   = []string{"none", "json", "otel"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("source_dir", "./source")
	v.SetDefault("storage.driver", "fs")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("metrics", "none")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("tracing", "none")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("notices_path", "")
	v.SetDefault("watch_debounce", "250ms")
}

// New returns a viper instance with defaults and the TRADEPOST_ environment
// binding in place. Nested keys map to env names with dots replaced by
// underscores (storage.driver -> TRADEPOST_STORAGE_DRIVER).
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("TRADEPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads cfgFile, or .tradepost.yaml from the working or home
// directory when cfgFile is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}
	v.SetConfigName(".tradepost")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Metrics = strings.ToLower(strings.TrimSpace(c.Metrics))
	c.Tracing = strings.ToLower(strings.TrimSpace(c.Tracing))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate rejects unknown drivers, exporters and log settings.
func (c Config) Validate() error {
	var errs []error
	check := func(key, value string, allowed []string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("%s: unknown value %q (want one of %s)", key, value, strings.Join(allowed, ", ")))
		}
	}
	check("storage.driver", c.Storage.Driver, storageDrivers)
	check("metrics", c.Metrics, metricsKinds)
	check("tracing", c.Tracing, tracingKinds)
	check("log_level", c.LogLevel, logLevels)
	check("log_format", c.LogFormat, logFormats)
	if c.Storage.Driver == "s3" && c.Storage.S3.Bucket == "" {
		errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, errors.New("watch_debounce must not be negative"))
	}
	return errors.Join(errs...)
}

// Exitf prints a formatted message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
