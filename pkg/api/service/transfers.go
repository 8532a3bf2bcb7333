package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/access"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// UploadQueueStatus is the durable upload queue's state: depth per state
// plus the entries still owed work.
type UploadQueueStatus struct {
	Counts  map[models.QueueState]int64 `json:"counts"`
	Pending []*models.UploadQueueEntry  `json:"pending,omitempty"`
	Failed  []*models.UploadQueueEntry  `json:"failed,omitempty"`
}

// UploadQueue reports the queue depths and outstanding entries.
func (s *Service) UploadQueue(ctx context.Context, _ struct{}) (*UploadQueueStatus, error) {
	counts, err := s.store.CountUploadsByState(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListUploadEntries(ctx, models.QueuePending)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.ListUploadEntries(ctx, models.QueueFailed)
	if err != nil {
		return nil, err
	}
	return &UploadQueueStatus{Counts: counts, Pending: pending, Failed: failed}, nil
}

// RequeueUploadParams addresses a queue entry by the entity it posts.
type RequeueUploadParams struct {
	EntityID string `json:"entity_id"`
}

// RequeueUpload returns a failed or abandoned entry to pending. The entry
// is addressed by entity identifier, the handle callers already hold.
func (s *Service) RequeueUpload(ctx context.Context, params RequeueUploadParams) (*models.UploadQueueEntry, error) {
	if params.EntityID == "" {
		return nil, Validationf("entity_id is required")
	}

	entry, err := s.findUploadByEntity(ctx, params.EntityID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RequeueUpload(ctx, entry.ID); err != nil {
		return nil, err
	}
	return s.store.GetUploadEntry(ctx, entry.ID)
}

func (s *Service) findUploadByEntity(ctx context.Context, entityID string) (*models.UploadQueueEntry, error) {
	for _, state := range []models.QueueState{models.QueueFailed, models.QueueAbandoned} {
		entries, err := s.store.ListUploadEntries(ctx, state)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.EntityID == entityID {
				return e, nil
			}
		}
	}
	return nil, models.ErrQueueEntryNotFound
}

// StartDownloadParams queues a share for download.
type StartDownloadParams struct {
	ShareID     string `json:"share_id"`
	Destination string `json:"destination"`
	Password    string `json:"password,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// DownloadStarted acknowledges a queued download job.
type DownloadStarted struct {
	JobID   string `json:"job_id"`
	ShareID string `json:"share_id"`
	State   string `json:"state"`
}

// StartDownload registers a download job and runs it in the background.
// For private shares the named user's key material is loaded from the key
// store; a missing key surfaces when the downloader verifies credentials.
func (s *Service) StartDownload(ctx context.Context, params StartDownloadParams) (*DownloadStarted, error) {
	if params.ShareID == "" {
		return nil, Validationf("share_id is required")
	}
	if params.Destination == "" {
		return nil, Validationf("destination is required")
	}

	creds := access.Credentials{Password: params.Password, UserID: params.UserID}
	if params.UserID != "" {
		keys, err := s.keys.LoadUserKeys(params.UserID)
		if err != nil && !errors.Is(err, crypto.ErrKeyNotFound) {
			return nil, err
		}
		if keys != nil {
			creds.X25519Priv = keys.X25519
		}
	}

	entry := &models.DownloadQueueEntry{
		ID:          uuid.NewString(),
		ShareID:     params.ShareID,
		Destination: params.Destination,
	}
	if err := s.store.CreateDownload(ctx, entry); err != nil {
		return nil, err
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := s.downloader.Download(context.Background(), entry.ID, creds); err != nil {
			logger.Warn("download job failed", logger.Share(params.ShareID), logger.Err(err))
		}
	}()

	return &DownloadStarted{JobID: entry.ID, ShareID: params.ShareID, State: "started"}, nil
}

// DownloadIDParams addresses one download job.
type DownloadIDParams struct {
	JobID string `json:"job_id"`
}

// DownloadProgress is a job's progress counters.
type DownloadProgress struct {
	JobID     string            `json:"job_id"`
	ShareID   string            `json:"share_id"`
	State     models.QueueState `json:"state"`
	Total     int               `json:"total"`
	Fetched   int               `json:"fetched"`
	Verified  int               `json:"verified"`
	Failed    int               `json:"failed"`
	Recovered int               `json:"recovered"`
	LastError string            `json:"last_error,omitempty"`
}

// GetDownloadProgress reports a job's counters.
func (s *Service) GetDownloadProgress(ctx context.Context, params DownloadIDParams) (*DownloadProgress, error) {
	if params.JobID == "" {
		return nil, Validationf("job_id is required")
	}
	entry, err := s.store.GetDownload(ctx, params.JobID)
	if err != nil {
		return nil, err
	}
	return &DownloadProgress{
		JobID:     entry.ID,
		ShareID:   entry.ShareID,
		State:     entry.State,
		Total:     entry.TotalSegments,
		Fetched:   entry.FetchedSegments,
		Verified:  entry.VerifiedFiles,
		Failed:    entry.FailedFiles,
		Recovered: entry.RecoveredParity,
		LastError: entry.LastError,
	}, nil
}

// ListDownloads returns all download jobs, newest first.
func (s *Service) ListDownloads(ctx context.Context, _ struct{}) ([]*models.DownloadQueueEntry, error) {
	return s.store.ListDownloads(ctx)
}
