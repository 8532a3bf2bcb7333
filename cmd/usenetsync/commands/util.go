package commands

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usenetsync/usenetsync/internal/folderlock"
	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/api/auth"
	"github.com/usenetsync/usenetsync/pkg/api/service"
	"github.com/usenetsync/usenetsync/pkg/config"
	"github.com/usenetsync/usenetsync/pkg/download"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/publish"
	"github.com/usenetsync/usenetsync/pkg/retry"
	"github.com/usenetsync/usenetsync/pkg/store"
	"github.com/usenetsync/usenetsync/pkg/upload"
)

const sessionTTL = 24 * time.Hour

func wrapConfig(err error) error   { return fmt.Errorf("%w: %v", ErrConfig, err) }
func wrapStorage(err error) error  { return fmt.Errorf("%w: %v", ErrStorage, err) }
func wrapKeystore(err error) error { return fmt.Errorf("%w: %v", ErrKeystore, err) }

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return wrapConfig(err)
	}
	return nil
}

// loadConfig loads and validates configuration, wrapping failures as
// config errors.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, wrapConfig(err)
	}
	return cfg, nil
}

// engine bundles the wired subsystems behind a command.
//
// Commands that only read or enqueue (folder add, share create, status)
// use the service directly; start additionally runs the workers, the
// watcher and the API server.
type engine struct {
	cfg        *config.Config
	store      *store.GORMStore
	keys       *access.Manager
	locks      *folderlock.Set
	pool       *nntp.Pool
	retry      *retry.Engine
	indexer    *upload.Indexer
	pipeline   *upload.Pipeline
	workers    *upload.Pool
	publisher  *publish.Publisher
	downloader *download.Downloader
	sessions   *auth.JWTService
	svc        *service.Service
}

// openEngine wires everything below the surfaces. The NNTP pool is nil
// when no servers are configured; queues fill but stay parked.
func openEngine(cfg *config.Config) (*engine, error) {
	if err := config.EnsureDirectories(cfg); err != nil {
		return nil, wrapStorage(err)
	}

	st, err := config.CreateStore(cfg)
	if err != nil {
		return nil, wrapStorage(err)
	}

	keys, err := access.NewManager(st, cfg.Keys.Dir)
	if err != nil {
		_ = st.Close()
		return nil, wrapKeystore(err)
	}

	var pool *nntp.Pool
	if len(cfg.NNTP.Servers) > 0 {
		pool, err = config.CreatePool(cfg)
		if err != nil {
			_ = st.Close()
			return nil, wrapConfig(err)
		}
	} else {
		logger.Warn("no news servers configured; transfers stay queued")
	}

	eng := config.CreateRetryEngine(cfg)
	upShaper, downShaper := config.CreateShapers(cfg)
	locks := folderlock.NewSet()

	indexer := upload.NewIndexer(st, keys, locks, cfg.IndexerConfig())

	var pipeline *upload.Pipeline
	var workers *upload.Pool
	if pool != nil {
		pipeline = upload.NewPipeline(st, pool, eng, upShaper, keys)
		workers = upload.NewPool(st, pipeline, cfg.UploadPoolConfig())
	}

	publisher := publish.New(st, keys, publish.Config{})
	downloader := download.New(st, pool, eng, downShaper, cfg.DownloadConfigFor())

	secret, err := sessionSecret(cfg.Keys.Dir)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		_ = st.Close()
		return nil, wrapKeystore(err)
	}
	sessions := auth.NewJWTService(secret, sessionTTL)

	svc := service.New(st, keys, sessions, indexer, locks, publisher, downloader, pool,
		service.Config{
			Version:           Version,
			RedundancyLevel:   cfg.Redundancy.Level,
			DefaultExpiryDays: cfg.Share.DefaultExpiryDays,
			LogPath:           logFilePath(cfg),
		})

	return &engine{
		cfg:        cfg,
		store:      st,
		keys:       keys,
		locks:      locks,
		pool:       pool,
		retry:      eng,
		indexer:    indexer,
		pipeline:   pipeline,
		workers:    workers,
		publisher:  publisher,
		downloader: downloader,
		sessions:   sessions,
		svc:        svc,
	}, nil
}

// close releases what openEngine acquired. Workers started by the start
// command are stopped there before close runs.
func (e *engine) close() {
	e.svc.Wait()
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.store.Close()
}

// sessionSecret loads the API session signing secret, creating it on
// first use. It lives beside the sealed keys so wiping the keystore also
// invalidates sessions.
func sessionSecret(keysDir string) ([]byte, error) {
	path := filepath.Join(keysDir, "session.secret")

	if data, err := os.ReadFile(path); err == nil {
		if len(data) >= 32 {
			return data, nil
		}
		return nil, fmt.Errorf("session secret at %s is truncated", path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, err
	}
	return secret, nil
}

// logFilePath returns the log file path when output goes to a file, or
// empty for stdout/stderr.
func logFilePath(cfg *config.Config) string {
	switch strings.ToLower(cfg.Logging.Output) {
	case "", "stdout", "stderr":
		return ""
	default:
		return cfg.Logging.Output
	}
}
