package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/pkg/models"
)

func (s *GORMStore) EnqueueUpload(ctx context.Context, entry *models.UploadQueueEntry) error {
	_, err := createWithID(s.db, ctx, entry, func(e *models.UploadQueueEntry, id string) { e.ID = id }, entry.ID, models.ErrConstraintViolation)
	return err
}

func (s *GORMStore) GetUploadEntry(ctx context.Context, id string) (*models.UploadQueueEntry, error) {
	return getByField[models.UploadQueueEntry](s.db, ctx, "id", id, models.ErrQueueEntryNotFound)
}

func (s *GORMStore) ListUploadEntries(ctx context.Context, state models.QueueState) ([]*models.UploadQueueEntry, error) {
	var entries []*models.UploadQueueEntry
	q := s.db.WithContext(ctx).Order("priority desc, created_at")
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CountUploadsByState returns the queue depth per state.
func (s *GORMStore) CountUploadsByState(ctx context.Context) (map[models.QueueState]int64, error) {
	type row struct {
		State models.QueueState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.UploadQueueEntry{}).
		Select("state, count(*) as n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.QueueState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}

// ClaimNextUpload atomically claims the highest-priority pending entry for
// a worker. The claim is a conditional update on state, so concurrent
// workers never own the same entry; a lost race moves to the next
// candidate. Returns models.ErrQueueEntryNotFound when the queue has no
// pending work.
func (s *GORMStore) ClaimNextUpload(ctx context.Context, workerID string) (*models.UploadQueueEntry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var candidate models.UploadQueueEntry
		err := s.db.WithContext(ctx).
			Where("state = ?", models.QueuePending).
			Order("priority desc, created_at").
			First(&candidate).Error
		if err != nil {
			return nil, convertNotFoundError(err, models.ErrQueueEntryNotFound)
		}

		var claimed bool
		err = retryBusy(ctx, func() error {
			result := s.db.WithContext(ctx).
				Model(&models.UploadQueueEntry{}).
				Where("id = ? AND state = ?", candidate.ID, models.QueuePending).
				Updates(map[string]any{
					"state":      models.QueueInFlight,
					"claimed_by": workerID,
				})
			if result.Error != nil {
				return result.Error
			}
			claimed = result.RowsAffected == 1
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue // another worker won the entry
		}

		candidate.State = models.QueueInFlight
		candidate.ClaimedBy = workerID
		return &candidate, nil
	}
}

// CompleteUpload marks an in-flight entry succeeded.
func (s *GORMStore) CompleteUpload(ctx context.Context, id string) error {
	return s.transitionUpload(ctx, id, models.QueueInFlight, map[string]any{
		"state":      models.QueueSucceeded,
		"claimed_by": "",
	})
}

// FailUpload records a failed attempt. The entry returns to pending with an
// incremented attempt count, or becomes abandoned once attempts reach
// maxAttempts.
func (s *GORMStore) FailUpload(ctx context.Context, id, lastError string, maxAttempts int) (models.QueueState, error) {
	var next models.QueueState
	err := retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var entry models.UploadQueueEntry
			if err := tx.Where("id = ?", id).First(&entry).Error; err != nil {
				return convertNotFoundError(err, models.ErrQueueEntryNotFound)
			}
			if entry.State != models.QueueInFlight {
				return models.ErrEntryNotClaimable
			}

			entry.Attempts++
			next = models.QueuePending
			if entry.Attempts >= maxAttempts {
				next = models.QueueAbandoned
			}

			return tx.Model(&entry).Updates(map[string]any{
				"state":      next,
				"attempts":   entry.Attempts,
				"last_error": lastError,
				"claimed_by": "",
			}).Error
		})
	})
	return next, err
}

// ReleaseUpload returns a cancelled in-flight entry to pending without
// counting an attempt.
func (s *GORMStore) ReleaseUpload(ctx context.Context, id string) error {
	return s.transitionUpload(ctx, id, models.QueueInFlight, map[string]any{
		"state":      models.QueuePending,
		"claimed_by": "",
	})
}

// RecoverInFlightUploads returns entries stranded in flight by a previous
// process to pending without counting an attempt. Workers run in this
// process only, so at startup no live claim can exist. Returns the number
// of recovered entries.
func (s *GORMStore) RecoverInFlightUploads(ctx context.Context) (int64, error) {
	var recovered int64
	err := retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.UploadQueueEntry{}).
			Where("state = ?", models.QueueInFlight).
			Updates(map[string]any{
				"state":      models.QueuePending,
				"claimed_by": "",
			})
		if result.Error != nil {
			return result.Error
		}
		recovered = result.RowsAffected
		return nil
	})
	return recovered, err
}

// RequeueUpload returns a failed or abandoned entry to pending with a reset
// attempt count. Operator-triggered.
func (s *GORMStore) RequeueUpload(ctx context.Context, id string) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.UploadQueueEntry{}).
			Where("id = ? AND state IN ?", id, []models.QueueState{models.QueueFailed, models.QueueAbandoned}).
			Updates(map[string]any{
				"state":      models.QueuePending,
				"attempts":   0,
				"last_error": "",
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrEntryNotClaimable
		}
		return nil
	})
}

func (s *GORMStore) transitionUpload(ctx context.Context, id string, from models.QueueState, updates map[string]any) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.UploadQueueEntry{}).
			Where("id = ? AND state = ?", id, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrEntryNotClaimable
		}
		return nil
	})
}

// CreateDownload registers a new download job.
func (s *GORMStore) CreateDownload(ctx context.Context, entry *models.DownloadQueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	return retryBusy(ctx, func() error {
		return s.db.WithContext(ctx).Create(entry).Error
	})
}

func (s *GORMStore) GetDownload(ctx context.Context, id string) (*models.DownloadQueueEntry, error) {
	return getByField[models.DownloadQueueEntry](s.db, ctx, "id", id, models.ErrQueueEntryNotFound)
}

func (s *GORMStore) ListDownloads(ctx context.Context) ([]*models.DownloadQueueEntry, error) {
	return listAll[models.DownloadQueueEntry](s.db, ctx, "created_at desc")
}

// UpdateDownloadProgress applies the progress counter deltas accumulated by
// download workers.
func (s *GORMStore) UpdateDownloadProgress(ctx context.Context, id string, fetchedDelta, verifiedDelta, failedDelta, parityDelta int) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.DownloadQueueEntry{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"fetched_segments": gorm.Expr("fetched_segments + ?", fetchedDelta),
				"verified_files":   gorm.Expr("verified_files + ?", verifiedDelta),
				"failed_files":     gorm.Expr("failed_files + ?", failedDelta),
				"recovered_parity": gorm.Expr("recovered_parity + ?", parityDelta),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrQueueEntryNotFound
		}
		return nil
	})
}

// SetDownloadTotals records the segment total once the index is decoded.
func (s *GORMStore) SetDownloadTotals(ctx context.Context, id string, totalSegments int) error {
	return updateFields[models.DownloadQueueEntry](s.db, ctx, "id", id, map[string]any{
		"total_segments": totalSegments,
		"state":          models.QueueInFlight,
	}, models.ErrQueueEntryNotFound)
}

// FinishDownload records the terminal state of a download job.
func (s *GORMStore) FinishDownload(ctx context.Context, id string, state models.QueueState, lastError string) error {
	now := time.Now()
	return updateFields[models.DownloadQueueEntry](s.db, ctx, "id", id, map[string]any{
		"state":        state,
		"last_error":   lastError,
		"completed_at": now,
	}, models.ErrQueueEntryNotFound)
}

// StartDownload atomically claims a pending download job. Returns
// models.ErrEntryNotClaimable when the job is not pending.
func (s *GORMStore) StartDownload(ctx context.Context, id string) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.DownloadQueueEntry{}).
			Where("id = ? AND state = ?", id, models.QueuePending).
			Updates(map[string]any{
				"state":    models.QueueInFlight,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrEntryNotClaimable
		}
		return nil
	})
}

// ReleaseDownload returns a cancelled download job to pending without
// counting the interrupted attempt.
func (s *GORMStore) ReleaseDownload(ctx context.Context, id string) error {
	return retryBusy(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&models.DownloadQueueEntry{}).
			Where("id = ? AND state = ?", id, models.QueueInFlight).
			Updates(map[string]any{
				"state":    models.QueuePending,
				"attempts": gorm.Expr("attempts - 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrEntryNotClaimable
		}
		return nil
	})
}
