// Package metrics exposes the engine's operational state to Prometheus
// and keeps a durable sample trail in the storage engine.
//
// Collectors are gauges refreshed by a background sampler rather than
// instrumented call sites: queue depths, download job states and NNTP
// server health all live in the store and the pool already, so sampling
// them keeps the hot paths free of metric bookkeeping.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// Config tunes the background sampler.
type Config struct {
	// SampleInterval is how often gauges are refreshed and one sample
	// row is persisted.
	// Default: 30s
	SampleInterval time.Duration

	// Retention is how long persisted samples are kept.
	// Default: 7 days
	Retention time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
}

// Metrics owns the Prometheus registry and the sampler.
type Metrics struct {
	registry *prometheus.Registry
	store    store.Store
	pool     *nntp.Pool
	config   Config

	uploadQueueDepth    *prometheus.GaugeVec
	downloadJobs        *prometheus.GaugeVec
	serverSuccessRate   *prometheus.GaugeVec
	serverConsecFails   *prometheus.GaugeVec
	serverResponseMs    *prometheus.GaugeVec
	serverBytes         *prometheus.GaugeVec

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the registry with all collectors registered. The pool may
// be nil when no news servers are configured.
func New(st store.Store, pool *nntp.Pool, config Config) *Metrics {
	config.ApplyDefaults()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		registry: reg,
		store:    st,
		pool:     pool,
		config:   config,

		uploadQueueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_upload_queue_depth",
				Help: "Durable upload queue entries by state",
			},
			[]string{"state"},
		),
		downloadJobs: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_download_jobs",
				Help: "Download jobs by state",
			},
			[]string{"state"},
		),
		serverSuccessRate: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_server_success_rate",
				Help: "Rolling success rate per news server, 0 to 1",
			},
			[]string{"server"},
		),
		serverConsecFails: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_server_consecutive_failures",
				Help: "Consecutive failures per news server",
			},
			[]string{"server"},
		),
		serverResponseMs: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_server_response_ms",
				Help: "Rolling average response time per news server in milliseconds",
			},
			[]string{"server"},
		),
		serverBytes: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "usenetsync_server_bytes_transferred_total",
				Help: "Bytes transferred per news server since start",
			},
			[]string{"server"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sample refreshes every gauge from the store and the pool, and
// persists headline values as durable samples.
func (m *Metrics) Sample(ctx context.Context) error {
	counts, err := m.store.CountUploadsByState(ctx)
	if err != nil {
		return err
	}
	for _, state := range []models.QueueState{
		models.QueuePending, models.QueueInFlight, models.QueueSucceeded,
		models.QueueFailed, models.QueueAbandoned,
	} {
		m.uploadQueueDepth.WithLabelValues(string(state)).Set(float64(counts[state]))
	}

	jobs, err := m.store.ListDownloads(ctx)
	if err != nil {
		return err
	}
	byState := make(map[models.QueueState]int)
	for _, job := range jobs {
		byState[job.State]++
	}
	for _, state := range []models.QueueState{
		models.QueuePending, models.QueueInFlight, models.QueueSucceeded,
		models.QueueFailed,
	} {
		m.downloadJobs.WithLabelValues(string(state)).Set(float64(byState[state]))
	}

	if m.pool != nil {
		for host, snap := range m.pool.Health() {
			m.serverSuccessRate.WithLabelValues(host).Set(snap.SuccessRate)
			m.serverConsecFails.WithLabelValues(host).Set(float64(snap.ConsecutiveFailures))
			m.serverResponseMs.WithLabelValues(host).Set(snap.AvgResponseMs)
			m.serverBytes.WithLabelValues(host).Set(float64(snap.BytesTransferred))
		}
	}

	return m.persist(ctx, counts)
}

// persist writes headline samples so queue history survives restarts
// and feeds the stats surface.
func (m *Metrics) persist(ctx context.Context, counts map[models.QueueState]int64) error {
	for _, state := range []models.QueueState{models.QueuePending, models.QueueFailed} {
		labels, _ := json.Marshal(map[string]string{"state": string(state)})
		if err := m.store.RecordMetric(ctx, "upload_queue_depth", float64(counts[state]), string(labels)); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the background sampler.
func (m *Metrics) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

// Stop halts the sampler and waits for it to exit.
func (m *Metrics) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Metrics) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sample(ctx); err != nil {
				logger.Warn("metric sampling failed", logger.Err(err))
				continue
			}
			cutoff := time.Now().Add(-m.config.Retention)
			if pruned, err := m.store.PruneMetrics(ctx, cutoff); err != nil {
				logger.Warn("metric pruning failed", logger.Err(err))
			} else if pruned > 0 {
				logger.Debug("pruned metric samples", "count", pruned)
			}
		}
	}
}
