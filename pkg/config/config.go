// Package config loads, validates and saves the usenetsync configuration.
//
// Configuration is read from a YAML file with environment variable
// overrides (USENETSYNC_ prefix) layered on top. Every option has a
// working default so a bare `usenetsync start` against a local news
// server needs nothing but an nntp.servers entry.
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

	"github.com/usenetsync/usenetsync/pkg/api"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// Config is the root configuration for the usenetsync daemon.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (USENETSYNC_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	// Logging contains logging configuration
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the storage engine backing all queues,
	// folders, shares and users
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage configures local working storage (download spool,
	// temporary segment files)
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Keys configures the local keystore holding sealed folder and
	// user private keys
	Keys KeysConfig `mapstructure:"keys" yaml:"keys"`

	// NNTP lists the news servers and the selection strategy
	NNTP NNTPConfig `mapstructure:"nntp" yaml:"nntp"`

	// Pool tunes the shared connection pool
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`

	// Segment controls how files are split into articles
	Segment SegmentConfig `mapstructure:"segment" yaml:"segment"`

	// Redundancy controls parity generation
	Redundancy RedundancyConfig `mapstructure:"redundancy" yaml:"redundancy"`

	// Upload tunes the upload worker pool
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// Download tunes per-job segment fetching
	Download DownloadConfig `mapstructure:"download" yaml:"download"`

	// Bandwidth caps transfer rates in both directions
	Bandwidth BandwidthConfig `mapstructure:"bandwidth" yaml:"bandwidth"`

	// Retry parameterizes the retry engine wrapped around every
	// NNTP operation
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// RateLimit bounds outbound request bursts
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Share holds share creation defaults
	Share ShareConfig `mapstructure:"share" yaml:"share"`

	// Watcher configures filesystem change detection on managed folders
	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher"`

	// API configures the local HTTP control surface
	API api.Config `mapstructure:"api" yaml:"api"`

	// Metrics toggles the Prometheus endpoint on the API server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	// Default: INFO
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format selects the log encoding: text or json
	// Default: text
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is where logs go: stdout, stderr, or a file path.
	// File outputs rotate by size.
	// Default: stdout
	Output string `mapstructure:"output" yaml:"output"`

	// MaxSizeMiB is the size cap of one log file before rotation
	// Default: 50
	MaxSizeMiB int `mapstructure:"max_size_mib" validate:"omitempty,min=1" yaml:"max_size_mib"`

	// MaxRotations is how many rotated files are kept
	// Default: 5
	MaxRotations int `mapstructure:"max_rotations" validate:"omitempty,min=1" yaml:"max_rotations"`
}

// StorageConfig configures local working storage.
type StorageConfig struct {
	// Path is the working directory for temporary segment spools and
	// partially assembled downloads
	// Default: $XDG_DATA_HOME/usenetsync (or ~/.local/share/usenetsync)
	Path string `mapstructure:"path" yaml:"path"`
}

// KeysConfig configures the local keystore.
type KeysConfig struct {
	// Dir holds the sealed key files. Folder and user private keys are
	// encrypted under a master key stored in the same directory.
	// Default: <storage.path>/keys
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NNTPConfig lists news servers and how the pool picks between them.
type NNTPConfig struct {
	// Servers is the news server list. At least one server is required
	// for any transfer to run; the daemon starts without servers but
	// queues stay parked.
	Servers []nntp.ServerConfig `mapstructure:"servers" validate:"dive" yaml:"servers"`

	// Strategy selects how the pool spreads leases across servers:
	// round_robin, weighted, least_latency or failover
	// Default: round_robin
	Strategy string `mapstructure:"strategy" validate:"omitempty,oneof=round_robin weighted least_latency failover" yaml:"strategy"`
}

// PoolConfig tunes the shared NNTP connection pool.
type PoolConfig struct {
	// MonitorIntervalS is the health monitor period in seconds
	// Default: 30
	MonitorIntervalS int `mapstructure:"monitor_interval_s" validate:"omitempty,min=1" yaml:"monitor_interval_s"`

	// AcquireTimeoutS caps how long a worker waits for a connection
	// lease in seconds
	// Default: 30
	AcquireTimeoutS int `mapstructure:"acquire_timeout_s" validate:"omitempty,min=1" yaml:"acquire_timeout_s"`

	// IdleTimeoutS is how long an unused connection may sit in the pool
	// before the monitor closes it, in seconds
	// Default: 300
	IdleTimeoutS int `mapstructure:"idle_timeout_s" validate:"omitempty,min=1" yaml:"idle_timeout_s"`
}

// MonitorInterval returns the monitor period as a duration.
func (c *PoolConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalS) * time.Second
}

// AcquireTimeout returns the lease timeout as a duration.
func (c *PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutS) * time.Second
}

// IdleTimeout returns the idle eviction threshold as a duration.
func (c *PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutS) * time.Second
}

// SegmentConfig controls file segmentation.
type SegmentConfig struct {
	// SizeBytes is the fixed segment size. The final segment of a file
	// may be shorter.
	// Default: 768000
	SizeBytes int64 `mapstructure:"size_bytes" validate:"omitempty,min=1024" yaml:"size_bytes"`
}

// RedundancyConfig controls parity generation.
type RedundancyConfig struct {
	// Level is the number of parity segments generated per file. Any k
	// of k+level segments reconstruct the file. 0 disables parity.
	// Default: 3
	Level int `mapstructure:"level" validate:"omitempty,min=0,max=64" yaml:"level"`
}

// UploadConfig tunes the upload worker pool.
type UploadConfig struct {
	// Workers is the number of queue workers posting articles
	// Default: 4
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// MaxAttempts is the per-entry attempt cap before an entry is
	// abandoned
	// Default: 5
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,min=1" yaml:"max_attempts"`
}

// DownloadConfig tunes per-job segment fetching.
type DownloadConfig struct {
	// Workers is the number of concurrent segment fetches per job
	// Default: 8
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`
}

// BandwidthConfig caps transfer rates. Zero means unlimited.
type BandwidthConfig struct {
	// UploadBps is the outbound rate cap in bytes per second
	// Default: 0 (unlimited)
	UploadBps int64 `mapstructure:"upload_bps" validate:"omitempty,min=0" yaml:"upload_bps"`

	// DownloadBps is the inbound rate cap in bytes per second
	// Default: 0 (unlimited)
	DownloadBps int64 `mapstructure:"download_bps" validate:"omitempty,min=0" yaml:"download_bps"`
}

// RetryConfig parameterizes the retry engine.
type RetryConfig struct {
	// MaxRetries is the attempt cap beyond the first try
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=0" yaml:"max_retries"`

	// InitialDelayS is the first backoff delay in seconds
	// Default: 1
	InitialDelayS int `mapstructure:"initial_delay_s" validate:"omitempty,min=0" yaml:"initial_delay_s"`

	// MaxDelayS caps the backoff delay in seconds
	// Default: 60
	MaxDelayS int `mapstructure:"max_delay_s" validate:"omitempty,min=1" yaml:"max_delay_s"`

	// ExponentialBase is the backoff multiplier between attempts
	// Default: 2.0
	ExponentialBase float64 `mapstructure:"exponential_base" validate:"omitempty,gte=1" yaml:"exponential_base"`

	// Jitter is the random backoff fraction added to each delay,
	// 0.0 to 1.0
	// Default: 0.3
	Jitter float64 `mapstructure:"jitter" validate:"omitempty,gte=0,lte=1" yaml:"jitter"`
}

// RateLimitConfig bounds outbound request bursts with a sliding window.
type RateLimitConfig struct {
	// WindowS is the window length in seconds
	// Default: 60
	WindowS int `mapstructure:"window_s" validate:"omitempty,min=1" yaml:"window_s"`

	// MaxRequests is the request budget per window
	// Default: 10
	MaxRequests int `mapstructure:"max_requests" validate:"omitempty,min=1" yaml:"max_requests"`
}

// ShareConfig holds share creation defaults.
type ShareConfig struct {
	// DefaultExpiryDays applies when a share is created without an
	// explicit expiry. 0 means shares never expire by default.
	// Default: 30
	DefaultExpiryDays int `mapstructure:"default_expiry_days" validate:"omitempty,min=0" yaml:"default_expiry_days"`
}

// WatcherConfig configures filesystem change detection.
type WatcherConfig struct {
	// Enabled controls whether managed folders are watched for changes.
	// A change marks the folder dirty so the next index run picks it up.
	// Default: true
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// DebounceS coalesces bursts of filesystem events, in seconds
	// Default: 2
	DebounceS int `mapstructure:"debounce_s" validate:"omitempty,min=1" yaml:"debounce_s"`
}

// WatchEnabled reports whether watching is on, applying the default.
func (c *WatcherConfig) WatchEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Debounce returns the debounce window as a duration.
func (c *WatcherConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceS) * time.Second
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled controls whether /metrics is mounted on the API server
	// Default: true
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
}

// MetricsEnabled reports whether metrics are on, applying the default.
func (c *MetricsConfig) MetricsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
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

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// config file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  usenetsync init\n\n"+
				"Or specify a custom config file:\n"+
				"  usenetsync <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  usenetsync init --config %s",
				configPath, configPath)
		}
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

	// 0600 because the server list can carry news server credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the USENETSYNC_ prefix with underscores.
	// Example: USENETSYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("USENETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/usenetsync/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns
// (fileFound, error).
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

// configDecodeHooks returns a combined decode hook for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" to
// time.Duration so duration-typed fields read naturally in YAML.
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
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "usenetsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "usenetsync")
}

// getDataDir returns the data directory path for working storage.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "usenetsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "usenetsync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
