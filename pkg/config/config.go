package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/grainweb/pkg/adapter/rpc"
	"github.com/spf13/viper"
)

// Config represents the complete grainweb configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (GRAINWEB_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// Each var/ store backend has its own section (storage.filesystem,
// storage.s3, ...) and only the section matching storage.type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// App locates the static application assets
	App AppConfig `mapstructure:"app"`

	// Storage selects and configures the var/ store
	Storage StorageConfig `mapstructure:"storage"`

	// GC configures the sweeper for orphaned staged uploads
	GC GCConfig `mapstructure:"gc"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Adapters contains front-end configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// AppConfig locates the application's static assets.
type AppConfig struct {
	// ClientDir is the read-only client/ tree served for non-var paths
	ClientDir string `mapstructure:"client_dir" validate:"required"`
}

// StorageConfig specifies the var/ store.
//
// The Type field determines which backend is used. Only the corresponding
// type-specific section is read.
type StorageConfig struct {
	// Type specifies which backend to use
	// Valid values: filesystem, memory, s3, badger
	Type string `mapstructure:"type" validate:"required,oneof=filesystem memory s3 badger"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// GCConfig configures the staged upload sweeper.
type GCConfig struct {
	// Enabled turns periodic sweeping on
	Enabled bool `mapstructure:"enabled"`

	// Interval between sweeps
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`

	// MaxAge is the age after which a staged upload counts as orphaned
	MaxAge time.Duration `mapstructure:"max_age" validate:"min=0"`

	// DryRun logs orphans without removing them
	DryRun bool `mapstructure:"dry_run"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server and Prometheus collectors
	Enabled bool `mapstructure:"enabled"`

	// Address is the host:port the metrics server listens on
	Address string `mapstructure:"address"`
}

// AdaptersConfig contains all adapter configurations.
type AdaptersConfig struct {
	// RPC configures the capability RPC front end.
	// Uses the rpc.Config type directly to avoid duplication.
	RPC rpc.Config `mapstructure:"rpc"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: GRAINWEB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GRAINWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/grainweb/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// envKeys are the scalar settings that can be set from the environment
// alone.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"app.client_dir",
	"storage.type",
	"gc.enabled",
	"gc.interval",
	"gc.max_age",
	"gc.dry_run",
	"metrics.enabled",
	"metrics.address",
	"adapters.rpc.transport",
	"adapters.rpc.fd",
	"adapters.rpc.address",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "grainweb")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "grainweb")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
