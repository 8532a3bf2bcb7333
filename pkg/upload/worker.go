package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/store"
)

// PoolConfig bounds the upload worker pool.
type PoolConfig struct {
	Workers      int
	MaxAttempts  int
	PollInterval time.Duration
}

// ApplyDefaults fills in missing configuration with default values.
func (c *PoolConfig) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// Pool drains the durable upload queue with a fixed set of workers.
//
// Claims are atomic at the store level, so a crashed worker's entry is
// simply re-claimed after requeue; a second worker can never post the same
// entry concurrently.
type Pool struct {
	store    store.Store
	pipeline *Pipeline
	config   PoolConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a stopped worker pool.
func NewPool(st store.Store, pipeline *Pipeline, config PoolConfig) *Pool {
	config.ApplyDefaults()
	return &Pool{store: st, pipeline: pipeline, config: config}
}

// Start launches the workers. They run until Stop or context cancellation.
// Entries a previous process left in flight are swept back to pending
// first, so a crash mid-post never strands queue work.
func (p *Pool) Start(ctx context.Context) {
	if recovered, err := p.store.RecoverInFlightUploads(ctx); err != nil {
		logger.Warn("failed to recover stranded uploads", logger.Err(err))
	} else if recovered > 0 {
		logger.Info("recovered stranded uploads", "entries", recovered)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("upload-%d-%s", i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
	logger.Info("upload workers started", "workers", p.config.Workers)
}

// Stop cancels the workers and waits for in-flight entries to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	for {
		entry, err := p.store.ClaimNextUpload(ctx, workerID)
		switch {
		case errors.Is(err, models.ErrQueueEntryNotFound):
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.PollInterval):
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Warn("upload claim failed", "worker", workerID, logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.PollInterval):
			}
			continue
		}

		p.process(ctx, workerID, entry)
		if ctx.Err() != nil {
			return
		}
	}
}

// process runs one claimed entry through the pipeline and records the
// outcome on both the queue entry and the segment.
func (p *Pool) process(ctx context.Context, workerID string, entry *models.UploadQueueEntry) {
	if entry.EntityType == models.EntitySegment {
		if err := p.store.UpdateSegmentState(ctx, entry.EntityID, models.SegmentInFlight); err != nil {
			logger.Warn("failed to mark segment in flight", logger.Segment(entry.EntityID), logger.Err(err))
		}
	}

	err := p.pipeline.Post(ctx, entry)
	if err == nil {
		p.succeed(ctx, workerID, entry)
		return
	}

	// Cancellation returns the entry to pending without burning an
	// attempt; the post may not even have started.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.release(entry)
		return
	}

	p.fail(ctx, workerID, entry, err)
}

func (p *Pool) succeed(ctx context.Context, workerID string, entry *models.UploadQueueEntry) {
	if err := p.store.CompleteUpload(ctx, entry.ID); err != nil {
		logger.Warn("failed to complete queue entry", "worker", workerID, logger.Err(err))
		return
	}
	if entry.EntityType != models.EntitySegment {
		return
	}
	seg, err := p.store.GetSegment(ctx, entry.EntityID)
	if err != nil {
		logger.Warn("posted segment vanished", logger.Segment(entry.EntityID), logger.Err(err))
		return
	}
	if seg.RedundancyIndex == 0 {
		if err := p.store.BumpFileSegmentCounters(ctx, seg.FileID, 1, 0); err != nil {
			logger.Warn("failed to bump file counters", logger.File(seg.FileID), logger.Err(err))
		}
	}
}

func (p *Pool) release(entry *models.UploadQueueEntry) {
	// The worker context is gone; use a short detached context so shutdown
	// still returns the claim.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.ReleaseUpload(ctx, entry.ID); err != nil {
		logger.Warn("failed to release queue entry", logger.Err(err))
		return
	}
	if entry.EntityType == models.EntitySegment {
		if err := p.store.UpdateSegmentState(ctx, entry.EntityID, models.SegmentQueued); err != nil {
			logger.Warn("failed to requeue segment", logger.Segment(entry.EntityID), logger.Err(err))
		}
	}
}

func (p *Pool) fail(ctx context.Context, workerID string, entry *models.UploadQueueEntry, cause error) {
	next, err := p.store.FailUpload(ctx, entry.ID, cause.Error(), p.config.MaxAttempts)
	if err != nil {
		logger.Warn("failed to record upload failure", "worker", workerID, logger.Err(err))
		return
	}

	logger.Warn("upload attempt failed",
		"worker", workerID,
		logger.Attempt(entry.Attempts+1),
		"next_state", string(next),
		logger.Err(cause))

	if entry.EntityType != models.EntitySegment {
		return
	}
	switch next {
	case models.QueuePending:
		if err := p.store.UpdateSegmentState(ctx, entry.EntityID, models.SegmentQueued); err != nil {
			logger.Warn("failed to requeue segment", logger.Segment(entry.EntityID), logger.Err(err))
		}
	case models.QueueAbandoned:
		if err := p.store.UpdateSegmentState(ctx, entry.EntityID, models.SegmentAbandoned); err != nil {
			logger.Warn("failed to abandon segment", logger.Segment(entry.EntityID), logger.Err(err))
		}
		seg, err := p.store.GetSegment(ctx, entry.EntityID)
		if err == nil && seg.RedundancyIndex == 0 {
			if err := p.store.BumpFileSegmentCounters(ctx, seg.FileID, 0, 1); err != nil {
				logger.Warn("failed to bump file counters", logger.File(seg.FileID), logger.Err(err))
			}
		}
	}
}
