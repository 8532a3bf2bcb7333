package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/segment"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDatabaseDefaults(&cfg.Database)
	applyStorageDefaults(&cfg.Storage)
	applyKeysDefaults(cfg)
	applyNNTPDefaults(&cfg.NNTP)
	applyPoolDefaults(&cfg.Pool)
	applySegmentDefaults(&cfg.Segment)
	applyRedundancyDefaults(&cfg.Redundancy)
	applyWorkerDefaults(cfg)
	applyRetryDefaults(&cfg.Retry)
	applyRateLimitDefaults(&cfg.RateLimit)
	applyShareDefaults(&cfg.Share)
	applyWatcherDefaults(&cfg.Watcher)
	cfg.API.ApplyDefaults()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.MaxSizeMiB == 0 {
		cfg.MaxSizeMiB = 50
	}
	if cfg.MaxRotations == 0 {
		cfg.MaxRotations = 5
	}
}

func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Path == "" {
		cfg.Path = getDataDir()
	}
}

// applyKeysDefaults anchors the keystore under the storage path when
// not set explicitly.
func applyKeysDefaults(cfg *Config) {
	if cfg.Keys.Dir == "" {
		cfg.Keys.Dir = filepath.Join(cfg.Storage.Path, "keys")
	}
}

func applyNNTPDefaults(cfg *NNTPConfig) {
	if cfg.Strategy == "" {
		cfg.Strategy = string(nntp.StrategyRoundRobin)
	}
	for i := range cfg.Servers {
		if cfg.Servers[i].Port == 0 {
			if cfg.Servers[i].TLS {
				cfg.Servers[i].Port = 563
			} else {
				cfg.Servers[i].Port = 119
			}
		}
		if cfg.Servers[i].MaxConnections == 0 {
			cfg.Servers[i].MaxConnections = nntp.DefaultMaxConnections
		}
	}
}

func applyPoolDefaults(cfg *PoolConfig) {
	if cfg.MonitorIntervalS == 0 {
		cfg.MonitorIntervalS = int(nntp.DefaultMonitorInterval / time.Second)
	}
	if cfg.AcquireTimeoutS == 0 {
		cfg.AcquireTimeoutS = int(nntp.DefaultAcquireTimeout / time.Second)
	}
	if cfg.IdleTimeoutS == 0 {
		cfg.IdleTimeoutS = int(nntp.DefaultIdleTimeout / time.Second)
	}
}

func applySegmentDefaults(cfg *SegmentConfig) {
	if cfg.SizeBytes == 0 {
		cfg.SizeBytes = segment.DefaultSize
	}
}

func applyRedundancyDefaults(cfg *RedundancyConfig) {
	if cfg.Level == 0 {
		cfg.Level = 3
	}
}

func applyWorkerDefaults(cfg *Config) {
	if cfg.Upload.Workers == 0 {
		cfg.Upload.Workers = 4
	}
	if cfg.Upload.MaxAttempts == 0 {
		cfg.Upload.MaxAttempts = 5
	}
	if cfg.Download.Workers == 0 {
		cfg.Download.Workers = 8
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = retry.DefaultPolicy.MaxRetries
	}
	if cfg.InitialDelayS == 0 {
		cfg.InitialDelayS = int(retry.DefaultPolicy.InitialDelay / time.Second)
	}
	if cfg.MaxDelayS == 0 {
		cfg.MaxDelayS = int(retry.DefaultPolicy.MaxDelay / time.Second)
	}
	if cfg.ExponentialBase == 0 {
		cfg.ExponentialBase = retry.DefaultPolicy.ExponentialBase
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = retry.DefaultPolicy.Jitter
	}
}

func applyRateLimitDefaults(cfg *RateLimitConfig) {
	if cfg.WindowS == 0 {
		cfg.WindowS = 60
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 10
	}
}

func applyShareDefaults(cfg *ShareConfig) {
	if cfg.DefaultExpiryDays == 0 {
		cfg.DefaultExpiryDays = 30
	}
}

func applyWatcherDefaults(cfg *WatcherConfig) {
	if cfg.DebounceS == 0 {
		cfg.DebounceS = 2
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied.
//
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
