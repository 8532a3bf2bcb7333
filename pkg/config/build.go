package config

import (
	"fmt"
	"os"
	"time"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/bandwidth"
	"github.com/usenetsync/usenetsync/pkg/download"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/upload"
)

// CreateStore opens the storage engine and runs migrations.
func CreateStore(cfg *Config) (*store.GORMStore, error) {
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage engine: %w", err)
	}
	return st, nil
}

// CreatePool builds the NNTP connection pool from the server list.
func CreatePool(cfg *Config) (*nntp.Pool, error) {
	return nntp.NewPool(nntp.PoolConfig{
		Servers:         cfg.NNTP.Servers,
		Strategy:        nntp.Strategy(cfg.NNTP.Strategy),
		AcquireTimeout:  cfg.Pool.AcquireTimeout(),
		MonitorInterval: cfg.Pool.MonitorInterval(),
		IdleTimeout:     cfg.Pool.IdleTimeout(),
	})
}

// CreateRetryEngine builds the retry engine with its rate limiter.
func CreateRetryEngine(cfg *Config) *retry.Engine {
	limiter := retry.NewRateLimiter(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowS)*time.Second,
	)
	return retry.New(retry.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialDelay:    time.Duration(cfg.Retry.InitialDelayS) * time.Second,
		ExponentialBase: cfg.Retry.ExponentialBase,
		MaxDelay:        time.Duration(cfg.Retry.MaxDelayS) * time.Second,
		Jitter:          cfg.Retry.Jitter,
	}, limiter)
}

// CreateShapers builds the upload and download token buckets.
func CreateShapers(cfg *Config) (up, down *bandwidth.Shaper) {
	return bandwidth.New(cfg.Bandwidth.UploadBps), bandwidth.New(cfg.Bandwidth.DownloadBps)
}

// IndexerConfig maps the segmentation and redundancy sections onto the
// indexer's knobs.
func (c *Config) IndexerConfig() upload.IndexerConfig {
	return upload.IndexerConfig{
		SegmentSize: c.Segment.SizeBytes,
	}
}

// UploadPoolConfig maps the upload section onto the worker pool's knobs.
func (c *Config) UploadPoolConfig() upload.PoolConfig {
	return upload.PoolConfig{
		Workers:     c.Upload.Workers,
		MaxAttempts: c.Upload.MaxAttempts,
	}
}

// DownloadConfigFor maps the download and storage sections onto the
// downloader's knobs.
func (c *Config) DownloadConfigFor() download.Config {
	return download.Config{
		Workers: c.Download.Workers,
		WorkDir: c.Storage.Path,
	}
}

// LoggerConfig maps the logging section onto the logger's knobs.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Output:       c.Logging.Output,
		MaxSizeMiB:   c.Logging.MaxSizeMiB,
		MaxRotations: c.Logging.MaxRotations,
	}
}

// EnsureDirectories creates the working and keystore directories.
func EnsureDirectories(cfg *Config) error {
	for _, dir := range []string{cfg.Storage.Path, cfg.Keys.Dir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
