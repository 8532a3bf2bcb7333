package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/api"
	"github.com/usenetsync/usenetsync/pkg/config"
	"github.com/usenetsync/usenetsync/pkg/metrics"
	"github.com/usenetsync/usenetsync/pkg/watcher"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the usenetsync daemon",
	Long: `Start the daemon: upload workers draining the durable queue, the
filesystem watcher over managed folders, the share expiry scanner, the
metrics sampler and the local HTTP API.

Examples:
  # Start with the default config location
  usenetsync start

  # Start with a custom config file
  usenetsync start --config /etc/usenetsync/config.yaml

  # Override config through the environment
  USENETSYNC_LOGGING_LEVEL=DEBUG usenetsync start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return wrapConfig(err)
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	eng, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Upload workers only run with news servers configured.
	if eng.workers != nil {
		eng.workers.Start(ctx)
		defer eng.workers.Stop()
		logger.Info("upload workers started", "workers", cfg.Upload.Workers)
	}

	eng.publisher.Start(ctx)
	defer eng.publisher.Stop()

	if cfg.Watcher.WatchEnabled() {
		w, err := watcher.New(eng.store, cfg.Watcher.Debounce())
		if err != nil {
			return err
		}
		folders, err := eng.store.ListFolders(ctx)
		if err != nil {
			return wrapStorage(err)
		}
		for _, folder := range folders {
			if werr := w.Watch(folder); werr != nil {
				logger.Warn("failed to watch folder",
					"folder_id", folder.ID, logger.Err(werr))
			}
		}
		w.Start()
		defer w.Stop()
		logger.Info("filesystem watcher started", "folders", len(folders))
	}

	var metricsHandler http.Handler
	if cfg.Metrics.MetricsEnabled() {
		m := metrics.New(eng.store, eng.pool, metrics.Config{})
		m.Start()
		defer m.Stop()
		metricsHandler = m.Handler()
		logger.Info("metrics sampler started")
	}

	server := api.NewServer(cfg.API, eng.svc, eng.sessions, metricsHandler)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("daemon running",
		"api", server.Port(),
		"servers", len(cfg.NNTP.Servers),
		"version", Version,
	)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", logger.Err(err))
			return err
		}
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", logger.Err(err))
			return err
		}
	}

	logger.Info("daemon stopped")
	return nil
}
